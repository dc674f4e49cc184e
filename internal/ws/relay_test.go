package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubRow struct {
	id      string
	teamID  uint
	userID  uint
	msgType string
	content string
}

type stubStore struct {
	mu   sync.Mutex
	fail bool
	rows []stubRow
}

func (s *stubStore) Append(messageID string, teamID, authorID uint, msgType, content string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("storage unavailable")
	}
	s.rows = append(s.rows, stubRow{id: messageID, teamID: teamID, userID: authorID, msgType: msgType, content: content})
	return nil
}

func (s *stubStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type stubDirectory struct {
	names map[uint]string
	err   error
}

func (d *stubDirectory) DisplayName(userID uint) (string, string, error) {
	if d.err != nil {
		return "", "", d.err
	}
	return d.names[userID], d.names[userID] + "@example.com", nil
}

func newTestRelay(store *stubStore) *Relay {
	return NewRelay(store, &stubDirectory{names: map[uint]string{1: "alice", 2: "bob", 3: "carol"}}, 16)
}

// drain 取出连接缓冲里目前所有事件并解析。
func drain(t *testing.T, c *Conn) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for {
		select {
		case raw := <-c.send:
			var ev map[string]interface{}
			if err := json.Unmarshal(raw, &ev); err != nil {
				t.Fatalf("unmarshal event %s: %v", raw, err)
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventsOfType(events []map[string]interface{}, typ string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, ev := range events {
		if ev["type"] == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestRelayJoinBroadcastsMembers(t *testing.T) {
	r := newTestRelay(&stubStore{})
	a, b := fakeConn(1), fakeConn(2)
	r.Attach(a)
	r.Attach(b)

	r.Join(a, 10)
	drain(t, a)

	r.Join(b, 10)

	evA := drain(t, a)
	if got := eventsOfType(evA, "members_update"); len(got) != 1 {
		t.Fatalf("first member got %d members_update, want 1", len(got))
	} else if members := got[0]["members"].([]interface{}); len(members) != 2 {
		t.Errorf("members len = %d, want 2", len(members))
	}

	evB := drain(t, b)
	if got := eventsOfType(evB, "team_joined"); len(got) != 1 {
		t.Errorf("joiner got %d team_joined, want 1", len(got))
	}
	if got := eventsOfType(evB, "members_update"); len(got) != 1 {
		t.Errorf("joiner got %d members_update, want 1", len(got))
	}

	if got := r.Online(10); got != 2 {
		t.Errorf("Online(10) = %d, want 2", got)
	}
}

func TestRelayJoinIdempotent(t *testing.T) {
	r := newTestRelay(&stubStore{})
	a := fakeConn(1)
	r.Attach(a)
	r.Join(a, 10)
	r.Join(a, 10)
	if got := r.Online(10); got != 1 {
		t.Errorf("Online(10) after double join = %d, want 1", got)
	}
	// 每次 join 都回确认
	if got := eventsOfType(drain(t, a), "team_joined"); len(got) != 2 {
		t.Errorf("got %d team_joined, want 2", len(got))
	}
}

func TestRelaySendFansOutToRoom(t *testing.T) {
	store := &stubStore{}
	r := newTestRelay(store)
	a, b := fakeConn(1), fakeConn(2)
	r.Attach(a)
	r.Attach(b)
	r.Join(a, 10)
	r.Join(b, 10)
	drain(t, a)
	drain(t, b)

	r.HandleEvent(a, []byte(`{"type":"message","teamId":10,"content":"hello"}`))

	evB := drain(t, b)
	msgsB := eventsOfType(evB, "message")
	if len(msgsB) != 1 {
		t.Fatalf("receiver got %d message events, want 1", len(msgsB))
	}
	payload := msgsB[0]["message"].(map[string]interface{})
	if payload["content"] != "hello" {
		t.Errorf("content = %v, want hello", payload["content"])
	}
	if payload["userId"].(float64) != 1 {
		t.Errorf("userId = %v, want 1", payload["userId"])
	}
	user := payload["user"].(map[string]interface{})
	if user["name"] != "alice" {
		t.Errorf("user.name = %v, want alice", user["name"])
	}

	evA := drain(t, a)
	msgsA := eventsOfType(evA, "message")
	if len(msgsA) != 1 {
		t.Fatalf("sender got %d message events, want 1 (echo)", len(msgsA))
	}
	status := eventsOfType(evA, "message_status")
	if len(status) != 1 {
		t.Fatalf("sender got %d message_status, want 1", len(status))
	}
	if status[0]["status"] != StatusDelivered {
		t.Errorf("status = %v, want %v", status[0]["status"], StatusDelivered)
	}

	sentID := payload["messageId"].(string)
	if status[0]["messageId"] != sentID {
		t.Errorf("status messageId = %v, broadcast messageId = %v", status[0]["messageId"], sentID)
	}
	if store.count() != 1 {
		t.Errorf("stored rows = %d, want 1", store.count())
	}
	store.mu.Lock()
	if store.rows[0].id != sentID {
		t.Errorf("stored id = %q, broadcast id = %q", store.rows[0].id, sentID)
	}
	store.mu.Unlock()
}

func TestRelaySendPersistFailureStillBroadcasts(t *testing.T) {
	store := &stubStore{fail: true}
	r := newTestRelay(store)
	a, b := fakeConn(1), fakeConn(2)
	r.Attach(a)
	r.Attach(b)
	r.Join(a, 10)
	r.Join(b, 10)
	drain(t, a)
	drain(t, b)

	r.Send(a, 10, "text", "still here")

	msgs := eventsOfType(drain(t, b), "message")
	if len(msgs) != 1 {
		t.Fatalf("receiver got %d message events despite persist failure, want 1", len(msgs))
	}
	status := eventsOfType(drain(t, a), "message_status")
	if len(status) != 1 || status[0]["status"] != StatusDelivered {
		t.Errorf("sender status = %v, want delivered", status)
	}
}

func TestRelaySendAutoJoins(t *testing.T) {
	r := newTestRelay(&stubStore{})
	a := fakeConn(1)
	r.Attach(a)

	r.Send(a, 10, "text", "first")

	if !a.HasJoined(10) {
		t.Error("sender was not auto-joined to the room")
	}
	if got := r.Online(10); got != 1 {
		t.Errorf("Online(10) = %d, want 1", got)
	}
	ev := drain(t, a)
	if got := eventsOfType(ev, "team_joined"); len(got) != 1 {
		t.Errorf("got %d team_joined, want 1", len(got))
	}
	if got := eventsOfType(ev, "message"); len(got) != 1 {
		t.Errorf("got %d message echoes, want 1", len(got))
	}
}

func TestRelayTypingExcludesSender(t *testing.T) {
	r := newTestRelay(&stubStore{})
	a, b := fakeConn(1), fakeConn(2)
	r.Attach(a)
	r.Attach(b)
	r.Join(a, 10)
	r.Join(b, 10)
	drain(t, a)
	drain(t, b)

	r.HandleEvent(a, []byte(`{"type":"typing","teamId":10}`))

	evB := eventsOfType(drain(t, b), "typing")
	if len(evB) != 1 {
		t.Fatalf("receiver got %d typing events, want 1", len(evB))
	}
	if evB[0]["userId"].(float64) != 1 {
		t.Errorf("typing userId = %v, want 1", evB[0]["userId"])
	}
	if evA := eventsOfType(drain(t, a), "typing"); len(evA) != 0 {
		t.Errorf("sender got %d typing events, want 0", len(evA))
	}
}

func TestRelayDisconnectCleansUp(t *testing.T) {
	r := newTestRelay(&stubStore{})
	a, b := fakeConn(1), fakeConn(2)
	r.Attach(a)
	r.Attach(b)
	r.Join(a, 10)
	r.Join(b, 10)
	drain(t, a)
	drain(t, b)

	r.Disconnect(a, 1000, "bye")

	if got := r.Online(10); got != 1 {
		t.Errorf("Online(10) after disconnect = %d, want 1", got)
	}
	if a.State() != stateTerminated {
		t.Error("disconnected conn not terminated")
	}
	update := eventsOfType(drain(t, b), "members_update")
	if len(update) != 1 {
		t.Fatalf("survivor got %d members_update, want 1", len(update))
	}
	members := update[0]["members"].([]interface{})
	if len(members) != 1 || members[0].(float64) != 2 {
		t.Errorf("members after disconnect = %v, want [2]", members)
	}

	// 重复断开是幂等的
	r.Disconnect(a, 1000, "bye again")
	if got := r.Online(10); got != 1 {
		t.Errorf("Online(10) after duplicate disconnect = %d, want 1", got)
	}
}

func TestRelayAttachSupersedesOldConnection(t *testing.T) {
	r := newTestRelay(&stubStore{})
	c1 := fakeConn(1)
	r.Attach(c1)
	r.Join(c1, 10)

	c2 := fakeConn(1)
	r.Attach(c2)

	if c1.State() != stateTerminated {
		t.Error("superseded conn not terminated")
	}
	if got := r.Online(10); got != 0 {
		t.Errorf("Online(10) after supersede = %d, want 0 (new conn has not joined)", got)
	}
	found := false
	for _, c := range r.Conns() {
		if c == c1 {
			found = true
		}
	}
	if found {
		t.Error("superseded conn still registered")
	}
	if len(r.Conns()) != 1 {
		t.Errorf("Conns() len = %d, want 1", len(r.Conns()))
	}
}

func TestRelayNotifyRead(t *testing.T) {
	r := newTestRelay(&stubStore{})
	author := fakeConn(1)
	r.Attach(author)

	r.NotifyRead("msg_0000000000001_abcd1234", 1)

	status := eventsOfType(drain(t, author), "message_status")
	if len(status) != 1 {
		t.Fatalf("author got %d message_status, want 1", len(status))
	}
	if status[0]["status"] != StatusRead {
		t.Errorf("status = %v, want %v", status[0]["status"], StatusRead)
	}

	// 离线作者静默跳过
	r.NotifyRead("msg_0000000000002_abcd1234", 99)
}

func TestRelayJoinAfterCleanupIgnored(t *testing.T) {
	r := newTestRelay(&stubStore{})
	c := fakeConn(1)
	r.Attach(c)
	r.Join(c, 10)
	r.Disconnect(c, 1000, "bye")
	drain(t, c)

	// 读循环里迟到的 join 不得留下幽灵成员
	r.Join(c, 10)
	if got := r.Online(10); got != 0 {
		t.Errorf("Online(10) after post-cleanup join = %d, want 0", got)
	}
	if got := eventsOfType(drain(t, c), "team_joined"); len(got) != 0 {
		t.Errorf("stale conn got %d team_joined, want 0", len(got))
	}

	// 自动加入路径同样拒绝
	r.Send(c, 20, "text", "late")
	if got := r.Online(20); got != 0 {
		t.Errorf("Online(20) after post-cleanup send = %d, want 0", got)
	}
}

func TestRelayJoinIgnoredForSupersededConn(t *testing.T) {
	r := newTestRelay(&stubStore{})
	c1 := fakeConn(1)
	r.Attach(c1)
	c2 := fakeConn(1)
	r.Attach(c2)

	// 被取代的旧连接的迟到 join 不得生效
	r.Join(c1, 10)
	if got := r.Online(10); got != 0 {
		t.Errorf("Online(10) after superseded join = %d, want 0", got)
	}

	r.Join(c2, 10)
	if got := r.Online(10); got != 1 {
		t.Errorf("Online(10) for current conn = %d, want 1", got)
	}
}

func TestMembersUpdatePrunesStaleUids(t *testing.T) {
	r := newTestRelay(&stubStore{})
	c := fakeConn(1)
	r.Attach(c)
	// 直接在注册表里伪造一个没有活跃连接的房间成员
	r.reg.AddToRoom(10, 99)

	r.Join(c, 10)

	update := eventsOfType(drain(t, c), "members_update")
	if len(update) != 1 {
		t.Fatalf("got %d members_update, want 1", len(update))
	}
	members := update[0]["members"].([]interface{})
	if len(members) != 1 || members[0].(float64) != 1 {
		t.Errorf("members = %v, want [1] (stale uid pruned)", members)
	}
	if got := r.Online(10); got != 1 {
		t.Errorf("Online(10) = %d, want 1 after pruning", got)
	}
}

func TestRelayHandleEventErrors(t *testing.T) {
	r := newTestRelay(&stubStore{})
	c := fakeConn(1)
	r.Attach(c)

	cases := []struct {
		name string
		data string
	}{
		{"malformed json", `{not json`},
		{"unknown type", `{"type":"warp_drive"}`},
		{"join without team", `{"type":"join_team"}`},
		{"message without content", `{"type":"message","teamId":10}`},
		{"typing without team", `{"type":"typing"}`},
	}
	for _, tc := range cases {
		r.HandleEvent(c, []byte(tc.data))
		ev := drain(t, c)
		if got := eventsOfType(ev, "error"); len(got) != 1 {
			t.Errorf("%s: got %d error events, want 1", tc.name, len(got))
		}
		if c.State() == stateTerminated {
			t.Errorf("%s: connection terminated, want it kept open", tc.name)
		}
	}
}
