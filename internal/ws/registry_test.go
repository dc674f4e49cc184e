package ws

import (
	"sync"
	"testing"
	"time"
)

func fakeConn(userID uint) *Conn {
	return newConn(userID, nil, 8, time.Minute)
}

func TestRegistryRegisterReturnsReplaced(t *testing.T) {
	reg := NewRegistry()
	c1 := fakeConn(1)
	if old := reg.Register(1, c1); old != nil {
		t.Errorf("Register() first = %v, want nil", old)
	}
	c2 := fakeConn(1)
	if old := reg.Register(1, c2); old != c1 {
		t.Errorf("Register() second returned %v, want first conn", old)
	}
	if got := reg.Lookup(1); got != c2 {
		t.Errorf("Lookup() = %v, want newest conn", got)
	}
}

func TestRegistryUnregisterOnlySameConn(t *testing.T) {
	reg := NewRegistry()
	c1 := fakeConn(1)
	c2 := fakeConn(1)
	reg.Register(1, c1)
	reg.Register(1, c2)

	if reg.Unregister(1, c1) {
		t.Error("Unregister(old conn) = true, want false")
	}
	if got := reg.Lookup(1); got != c2 {
		t.Error("old conn unregister removed the newer conn")
	}
	if !reg.Unregister(1, c2) {
		t.Error("Unregister(current conn) = false, want true")
	}
	if got := reg.Lookup(1); got != nil {
		t.Errorf("Lookup() after unregister = %v, want nil", got)
	}
}

func TestRegistryRoomMembership(t *testing.T) {
	reg := NewRegistry()
	reg.AddToRoom(10, 3)
	reg.AddToRoom(10, 1)
	reg.AddToRoom(10, 2)
	reg.AddToRoom(10, 2) // 重复加入

	members := reg.MembersOf(10)
	if len(members) != 3 {
		t.Fatalf("MembersOf() len = %d, want 3", len(members))
	}
	for i, want := range []uint{1, 2, 3} {
		if members[i] != want {
			t.Errorf("MembersOf()[%d] = %d, want %d", i, members[i], want)
		}
	}
	if got := reg.Online(10); got != 3 {
		t.Errorf("Online() = %d, want 3", got)
	}
}

func TestRegistryMembersOfIsSnapshot(t *testing.T) {
	reg := NewRegistry()
	reg.AddToRoom(10, 1)
	members := reg.MembersOf(10)
	reg.AddToRoom(10, 2)
	if len(members) != 1 {
		t.Errorf("snapshot len = %d, want 1", len(members))
	}
}

func TestRegistryRemoveFromRoomDropsEmptyRoom(t *testing.T) {
	reg := NewRegistry()
	reg.AddToRoom(10, 1)
	reg.RemoveFromRoom(10, 1)
	if got := reg.Online(10); got != 0 {
		t.Errorf("Online() after remove = %d, want 0", got)
	}
	if _, ok := reg.rooms[10]; ok {
		t.Error("empty room was not deleted")
	}
	// 移除不存在的房间/成员不应出错
	reg.RemoveFromRoom(99, 1)
	reg.RemoveFromRoom(10, 42)
}

func TestRegistryConnsSnapshot(t *testing.T) {
	reg := NewRegistry()
	reg.Register(1, fakeConn(1))
	reg.Register(2, fakeConn(2))
	conns := reg.Conns()
	if len(conns) != 2 {
		t.Errorf("Conns() len = %d, want 2", len(conns))
	}
}

func TestRegistryConcurrent(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			reg.Register(id, fakeConn(id))
			reg.AddToRoom(1, id)
			reg.Lookup(id)
			reg.MembersOf(1)
		}(uint(i))
	}
	wg.Wait()
	if got := reg.Online(1); got != 50 {
		t.Errorf("Online() after concurrent joins = %d, want 50", got)
	}
	if got := len(reg.Conns()); got != 50 {
		t.Errorf("Conns() len = %d, want 50", got)
	}
}
