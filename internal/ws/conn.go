package ws

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// 连接心跳状态机：alive -> pending-pong -> terminated。
const (
	stateAlive int32 = iota
	statePendingPong
	stateTerminated
)

// Conn 是一条已认证的传输会话：归属用户、心跳状态、已加入的团队集合。
// 同一用户最多存在一条活跃 Conn，由 Relay.Attach 保证。
type Conn struct {
	userID uint
	sock   *websocket.Conn

	send chan []byte
	ping chan struct{}
	done chan struct{}

	mu     sync.Mutex
	joined map[uint]struct{}

	state    atomic.Int32
	lastPong atomic.Int64

	readWait time.Duration

	closeOnce   sync.Once
	cleanupOnce sync.Once
}

func newConn(userID uint, sock *websocket.Conn, buf int, readWait time.Duration) *Conn {
	c := &Conn{
		userID:   userID,
		sock:     sock,
		send:     make(chan []byte, buf),
		ping:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		joined:   make(map[uint]struct{}),
		readWait: readWait,
	}
	c.lastPong.Store(time.Now().UnixNano())
	return c
}

func (c *Conn) UserID() uint { return c.userID }

// TrySend 非阻塞入队；缓冲满或连接已关闭时返回 false，由调用方计为投递失败。
func (c *Conn) TrySend(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Close 幂等关闭底层传输，先尽力送出关闭帧。
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.sock == nil {
			return
		}
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.sock.Close()
	})
}

func (c *Conn) HasJoined(teamID uint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.joined[teamID]
	return ok
}

func (c *Conn) addJoined(teamID uint) {
	c.mu.Lock()
	c.joined[teamID] = struct{}{}
	c.mu.Unlock()
}

// Joined 返回已加入团队的快照。
func (c *Conn) Joined() []uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint, 0, len(c.joined))
	for id := range c.joined {
		out = append(out, id)
	}
	return out
}

func (c *Conn) State() int32 { return c.state.Load() }

func (c *Conn) markAlive() {
	if c.state.Load() != stateTerminated {
		c.state.Store(stateAlive)
		c.lastPong.Store(time.Now().UnixNano())
	}
}

func (c *Conn) markPendingPong() {
	c.state.CompareAndSwap(stateAlive, statePendingPong)
}

func (c *Conn) markTerminated() { c.state.Store(stateTerminated) }

// LastPong 返回最近一次心跳应答时间。
func (c *Conn) LastPong() time.Time {
	return time.Unix(0, c.lastPong.Load())
}

// Ping 请求 writePump 发送一个心跳探测帧，重复请求合并。
func (c *Conn) Ping() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

func (c *Conn) readPump(r *Relay) {
	code := websocket.CloseNormalClosure
	reason := "connection closed"
	defer func() {
		r.Disconnect(c, code, reason)
	}()
	c.sock.SetReadLimit(1 << 20) // 1MB
	_ = c.sock.SetReadDeadline(time.Now().Add(c.readWait))
	c.sock.SetPongHandler(func(string) error {
		c.markAlive()
		return c.sock.SetReadDeadline(time.Now().Add(c.readWait))
	})
	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason = ce.Code, ce.Text
				if ce.Code != websocket.CloseNormalClosure && ce.Code != websocket.CloseGoingAway {
					log.Debug().Uint("user_id", c.userID).Int("code", ce.Code).Str("reason", ce.Text).Msg("abnormal close")
				}
			}
			return
		}
		r.handleSafely(c, data)
	}
}

func (c *Conn) writePump() {
	defer func() {
		_ = c.sock.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case message, ok := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				return
			}
			w, err := c.sock.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-c.ping:
			_ = c.sock.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
