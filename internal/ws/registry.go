package ws

import (
	"sort"
	"sync"
)

// Registry 同时维护两份共享状态：用户到活跃连接的映射，以及团队房间的
// 在线成员集合。两者在同一把锁下变更，注册/注销与房间增删互相原子。
type Registry struct {
	mu    sync.RWMutex
	conns map[uint]*Conn
	rooms map[uint]map[uint]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[uint]*Conn),
		rooms: make(map[uint]map[uint]struct{}),
	}
}

// Register 登记用户的活跃连接并返回被替换的旧连接（可能为 nil）。
// 单用户单连接是显式契约：新连接一定取代旧连接。
func (r *Registry) Register(userID uint, c *Conn) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.conns[userID]
	r.conns[userID] = c
	return old
}

// Unregister 仅当登记的仍是同一条连接时才移除，防止被取代的旧连接
// 在清理时误删继任者。
func (r *Registry) Unregister(userID uint, c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[userID] != c {
		return false
	}
	delete(r.conns, userID)
	return true
}

func (r *Registry) Lookup(userID uint) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[userID]
}

// AddToRoom 把用户加入团队房间，房间按需惰性创建，重复加入无副作用。
func (r *Registry) AddToRoom(teamID, userID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[teamID]
	if !ok {
		room = make(map[uint]struct{})
		r.rooms[teamID] = room
	}
	room[userID] = struct{}{}
}

// RemoveFromRoom 把用户移出房间，空房间整体删除避免泄漏。
func (r *Registry) RemoveFromRoom(teamID, userID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[teamID]
	if !ok {
		return
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(r.rooms, teamID)
	}
}

// MembersOf 返回房间成员的有序快照副本，迭代期间的并发变更不影响它。
func (r *Registry) MembersOf(teamID uint) []uint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[teamID]
	out := make([]uint, 0, len(room))
	for id := range room {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Online 返回房间在线人数，供 REST 接口复用。
func (r *Registry) Online(teamID uint) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[teamID])
}

// Conns 返回全部活跃连接的快照，供心跳巡检遍历。
func (r *Registry) Conns() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
