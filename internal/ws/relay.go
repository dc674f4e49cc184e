package ws

import (
	"encoding/json"
	"sync"
	"time"

	"teamhub/internal/metrics"
	"teamhub/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// MessageStore 是中继对持久层的最小依赖：追加一条消息。
// 消息标识由中继生成，即使写入失败广播仍携带有效 ID。
type MessageStore interface {
	Append(messageID string, teamID, authorID uint, msgType, content string, ts time.Time) error
}

// UserDirectory 提供尽力而为的作者展示信息查询。
type UserDirectory interface {
	DisplayName(userID uint) (name, email string, err error)
}

// Relay 是聊天中继的核心协调者：处理入站事件、变更注册表与房间成员、
// 调用消息存储并向房间成员扇出事件。所有复合操作在 r.mu 下串行，
// 广播看到的成员集合要么是变更前的、要么是变更后的，绝无中间态。
type Relay struct {
	mu    sync.Mutex
	reg   *Registry
	store MessageStore
	users UserDirectory
	buf   int
}

func NewRelay(store MessageStore, users UserDirectory, sendBuffer int) *Relay {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Relay{
		reg:   NewRegistry(),
		store: store,
		users: users,
		buf:   sendBuffer,
	}
}

// Attach 登记一条新认证的连接。同一用户的旧连接被取代：先走完整的
// 断开清理（退出房间并广播成员变更），再注册新连接。
func (r *Relay) Attach(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old := r.reg.Lookup(c.userID); old != nil {
		metrics.WsEvictions.Inc()
		log.Info().Uint("user_id", c.userID).Msg("connection superseded by newer login")
		r.cleanupLocked(old, websocket.CloseNormalClosure, "superseded by newer connection")
	}
	r.reg.Register(c.userID, c)
	metrics.WsConnections.Inc()
	log.Info().Uint("user_id", c.userID).Msg("connection attached")
}

// HandleEvent 解析并分发一条入站事件。畸形或未知事件只回 error 事件，
// 连接保持打开。
func (r *Relay) HandleEvent(c *Conn, data []byte) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		c.TrySend(errorEvent("invalid message format"))
		return
	}
	switch in.Type {
	case EventJoinTeam:
		if in.TeamID == 0 {
			c.TrySend(errorEvent("teamId is required"))
			return
		}
		r.Join(c, in.TeamID)
	case EventMessage:
		if in.TeamID == 0 || in.Content == "" {
			c.TrySend(errorEvent("teamId and content are required"))
			return
		}
		msgType := in.MessageType
		if msgType == "" {
			msgType = models.MessageTypeText
		}
		r.Send(c, in.TeamID, msgType, in.Content)
	case EventTyping, EventStopTyping:
		if in.TeamID == 0 {
			c.TrySend(errorEvent("teamId is required"))
			return
		}
		r.Typing(c, in.TeamID, in.Type)
	default:
		c.TrySend(errorEvent("unknown event type: " + in.Type))
	}
}

// handleSafely 兜住事件处理中的意外 panic，按内部错误码断开该连接。
func (r *Relay) handleSafely(c *Conn, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Uint("user_id", c.userID).Interface("panic", rec).Msg("event handling panic")
			r.Disconnect(c, websocket.CloseInternalServerErr, "internal error")
		}
	}()
	r.HandleEvent(c, data)
}

// Join 把连接订阅到团队房间。重复加入是幂等的，但每次都会回确认并
// 重新广播成员列表。
func (r *Relay) Join(c *Conn, teamID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joinLocked(c, teamID)
}

func (r *Relay) joinLocked(c *Conn, teamID uint) {
	// 清理已执行或已被取代的连接不允许再进房间，否则读循环里
	// 迟到的 join 会留下没有活跃连接兜底的幽灵成员。
	if c.State() == stateTerminated || r.reg.Lookup(c.userID) != c {
		log.Debug().Uint("user_id", c.userID).Uint("team_id", teamID).Msg("join ignored for stale connection")
		return
	}
	r.reg.AddToRoom(teamID, c.userID)
	c.addJoined(teamID)
	c.TrySend(teamJoinedEvent(teamID))
	r.broadcastMembersLocked(teamID)
	log.Debug().Uint("user_id", c.userID).Uint("team_id", teamID).Msg("joined team room")
}

// Send 处理一条聊天消息：解析作者展示信息（失败则退化为仅含 ID）、
// 生成消息标识、写入存储、向全房间扇出（含发送者），最后单独给发送者
// 回投递状态。持久化失败只记日志，广播照常进行。
func (r *Relay) Send(c *Conn, teamID uint, msgType, content string) {
	user := UserRef{ID: c.userID}
	if name, email, err := r.users.DisplayName(c.userID); err == nil {
		user.Name = name
		user.Email = email
	} else {
		log.Debug().Err(err).Uint("user_id", c.userID).Msg("display name lookup failed")
	}

	id := NewMessageID()
	ts := time.Now().UTC()
	if err := r.store.Append(id, teamID, c.userID, msgType, content, ts); err != nil {
		// 可用性优先：存储抖动不该打断聊天，离线成员少看到一条历史而已。
		metrics.WsPersistFailures.Inc()
		log.Error().Err(err).Str("message_id", id).Uint("team_id", teamID).Msg("persist message")
	}

	payload := messageEvent(MessagePayload{
		MessageID: id,
		TeamID:    teamID,
		UserID:    c.userID,
		User:      user,
		Type:      msgType,
		Content:   content,
		Timestamp: ts,
	})

	r.mu.Lock()
	if !c.HasJoined(teamID) {
		// 容忍客户端 join 与 send 的竞争：未加入就先自动加入。
		r.joinLocked(c, teamID)
	}
	delivered, failed := r.fanOutLocked(teamID, payload, 0)
	status := StatusSent
	if delivered > 0 {
		status = StatusDelivered
	}
	c.TrySend(messageStatusEvent(id, status))
	r.mu.Unlock()

	metrics.WsMessagesTotal.Inc()
	if failed > 0 {
		log.Warn().Str("message_id", id).Uint("team_id", teamID).Int("failed", failed).Msg("partial fan-out")
	}
}

// Typing 把打字指示广播给除发送者外的房间成员，不持久化。
func (r *Relay) Typing(c *Conn, teamID uint, kind string) {
	payload := typingEvent(kind, teamID, c.userID)
	r.mu.Lock()
	r.fanOutLocked(teamID, payload, c.userID)
	r.mu.Unlock()
}

// Disconnect 执行断开清理；对同一连接只会生效一次，错误路径和关闭
// 路径重复触发也安全。
func (r *Relay) Disconnect(c *Conn, code int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanupLocked(c, code, reason)
}

func (r *Relay) cleanupLocked(c *Conn, code int, reason string) {
	c.cleanupOnce.Do(func() {
		c.markTerminated()
		c.Close(code, reason)
		r.reg.Unregister(c.userID, c)
		for _, teamID := range c.Joined() {
			r.reg.RemoveFromRoom(teamID, c.userID)
			r.broadcastMembersLocked(teamID)
		}
		metrics.WsConnections.Dec()
		log.Info().Uint("user_id", c.userID).Int("code", code).Str("reason", reason).Msg("connection closed")
	})
}

// fanOutLocked 向房间成员扇出一份负载。失联成员当场剔除，单个成员
// 投递失败只计数，绝不中断对其余成员的投递。
func (r *Relay) fanOutLocked(teamID uint, payload []byte, except uint) (delivered, failed int) {
	for _, uid := range r.reg.MembersOf(teamID) {
		if except != 0 && uid == except {
			continue
		}
		mc := r.reg.Lookup(uid)
		if mc == nil {
			r.reg.RemoveFromRoom(teamID, uid)
			continue
		}
		if mc.TrySend(payload) {
			delivered++
			continue
		}
		failed++
		metrics.WsDeliveryFailures.Inc()
		log.Warn().Uint("user_id", uid).Uint("team_id", teamID).Msg("send buffer full, dropping connection")
		go mc.Close(websocket.CloseGoingAway, "send buffer overflow")
	}
	return delivered, failed
}

func (r *Relay) broadcastMembersLocked(teamID uint) {
	// 成员列表只包含仍有活跃连接的用户，失联的当场剔除，
	// 广播出去的名单和投递集合保持一致。
	members := r.reg.MembersOf(teamID)
	live := make([]uint, 0, len(members))
	conns := make([]*Conn, 0, len(members))
	for _, uid := range members {
		mc := r.reg.Lookup(uid)
		if mc == nil {
			r.reg.RemoveFromRoom(teamID, uid)
			continue
		}
		live = append(live, uid)
		conns = append(conns, mc)
	}
	payload := membersUpdateEvent(teamID, live)
	for _, mc := range conns {
		mc.TrySend(payload)
	}
}

// NotifyRead 把已读回执转成 message_status 事件推给仍在线的作者。
func (r *Relay) NotifyRead(messageID string, authorID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mc := r.reg.Lookup(authorID); mc != nil {
		mc.TrySend(messageStatusEvent(messageID, StatusRead))
	}
}

// Online 返回团队房间当前在线人数。
func (r *Relay) Online(teamID uint) int { return r.reg.Online(teamID) }

// Conns 暴露连接快照给心跳巡检。
func (r *Relay) Conns() []*Conn { return r.reg.Conns() }
