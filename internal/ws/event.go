package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// 入站事件类型。
const (
	EventJoinTeam   = "join_team"
	EventMessage    = "message"
	EventTyping     = "typing"
	EventStopTyping = "stop_typing"
)

// 投递状态，仅对发送方可见，不持久化。
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Inbound 是客户端事件的统一外壳，按 type 字段分发。
type Inbound struct {
	Type        string `json:"type"`
	TeamID      uint   `json:"teamId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType,omitempty"`
}

// UserRef 是消息里随附的作者展示信息，查询失败时退化为只含 ID。
type UserRef struct {
	ID    uint   `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// MessagePayload 是广播给房间成员的消息体。
type MessagePayload struct {
	MessageID string    `json:"messageId"`
	TeamID    uint      `json:"teamId"`
	UserID    uint      `json:"userId"`
	User      UserRef   `json:"user"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessageID 生成消息标识：毫秒时间前缀保证按创建时间可排序，
// uuid 片段保证全局唯一，时间相同则按字符串比较决出先后。
func NewMessageID() string {
	return fmt.Sprintf("msg_%013d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

func marshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"type":"error","message":"encoding failure"}`)
	}
	return b
}

func connectedEvent(userID uint) []byte {
	return marshal(map[string]interface{}{"type": "connected", "userId": userID})
}

func teamJoinedEvent(teamID uint) []byte {
	return marshal(map[string]interface{}{"type": "team_joined", "teamId": teamID})
}

func membersUpdateEvent(teamID uint, members []uint) []byte {
	if members == nil {
		members = []uint{}
	}
	return marshal(map[string]interface{}{"type": "members_update", "teamId": teamID, "members": members})
}

func messageEvent(p MessagePayload) []byte {
	return marshal(map[string]interface{}{"type": "message", "teamId": p.TeamID, "message": p})
}

func messageStatusEvent(messageID, status string) []byte {
	return marshal(map[string]interface{}{"type": "message_status", "messageId": messageID, "status": status})
}

func typingEvent(kind string, teamID, userID uint) []byte {
	return marshal(map[string]interface{}{"type": kind, "teamId": teamID, "userId": userID})
}

func errorEvent(msg string) []byte {
	return marshal(map[string]interface{}{"type": "error", "message": msg})
}
