package service

import (
	"time"

	"teamhub/internal/models"

	"gorm.io/gorm"
)

// MessageService 是聊天消息的持久层：中继经由它追加消息，
// HTTP 历史接口经由它按团队和时间窗口分页查询。
type MessageService struct {
	db *gorm.DB
}

func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{db: db}
}

// Append 落一条消息。消息标识由中继生成并传入，持久化与广播解耦，
// 本方法失败不影响实时投递。
func (s *MessageService) Append(messageID string, teamID, authorID uint, msgType, content string, ts time.Time) error {
	msg := models.Message{
		MessageID: messageID,
		TeamID:    teamID,
		UserID:    authorID,
		Type:      msgType,
		Content:   content,
		Timestamp: ts,
	}
	return s.db.Create(&msg).Error
}

// ReadReceipt 是消息附带的一条已读回执。
type ReadReceipt struct {
	UserID uint      `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// MessageDTO 是对外输出的消息数据。
type MessageDTO struct {
	MessageID string        `json:"messageId"`
	TeamID    uint          `json:"teamId"`
	UserID    uint          `json:"userId"`
	Username  string        `json:"username"`
	Type      string        `json:"type"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
	ReadBy    []ReadReceipt `json:"readBy,omitempty"`
}

// ListByTeam 按时间窗口查询团队消息：时间降序取最新的 limit 条，
// 反转为升序返回；before 非零时只取该时刻之前的消息。
// 同一时间戳按 message_id 字符串比较决出稳定顺序。
func (s *MessageService) ListByTeam(teamID uint, before time.Time, limit int) ([]MessageDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := s.db.Where("team_id = ?", teamID)
	if !before.IsZero() {
		q = q.Where("timestamp < ?", before)
	}

	var msgs []models.Message
	if err := q.Order("timestamp desc, message_id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}

	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	usernames, err := s.resolveUsernames(msgs)
	if err != nil {
		return nil, err
	}
	receipts, err := s.resolveReceipts(msgs)
	if err != nil {
		return nil, err
	}

	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageDTO{
			MessageID: m.MessageID,
			TeamID:    m.TeamID,
			UserID:    m.UserID,
			Username:  usernames[m.UserID],
			Type:      m.Type,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			ReadBy:    receipts[m.MessageID],
		})
	}
	return out, nil
}

// ReadNotice 标记成功后用于通知作者的回执摘要。
type ReadNotice struct {
	MessageID string
	AuthorID  uint
}

// MarkRead 为一批消息追加 (消息, 读者) 唯一的已读回执，返回实际新增
// 回执对应的消息与作者，供中继向在线作者推送状态更新。自己的消息跳过。
func (s *MessageService) MarkRead(messageIDs []string, readerID uint) ([]ReadNotice, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var msgs []models.Message
	if err := s.db.Where("message_id IN ?", messageIDs).Find(&msgs).Error; err != nil {
		return nil, err
	}
	var notices []ReadNotice
	now := time.Now().UTC()
	for _, m := range msgs {
		if m.UserID == readerID {
			continue
		}
		var count int64
		if err := s.db.Model(&models.MessageRead{}).Where("message_id = ? AND user_id = ?", m.MessageID, readerID).Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			continue
		}
		rec := models.MessageRead{MessageID: m.MessageID, UserID: readerID, ReadAt: now}
		if err := s.db.Create(&rec).Error; err != nil {
			return nil, err
		}
		notices = append(notices, ReadNotice{MessageID: m.MessageID, AuthorID: m.UserID})
	}
	return notices, nil
}

// resolveUsernames 批量获取消息涉及的用户名。
func (s *MessageService) resolveUsernames(msgs []models.Message) (map[uint]string, error) {
	seen := make(map[uint]struct{}, len(msgs))
	userIDs := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		userIDs = append(userIDs, m.UserID)
	}

	usernames := make(map[uint]string, len(userIDs))
	if len(userIDs) > 0 {
		var users []models.User
		if err := s.db.Select("id", "name").Where("id IN ?", userIDs).Find(&users).Error; err != nil {
			return nil, err
		}
		for _, u := range users {
			usernames[u.ID] = u.Name
		}
	}
	return usernames, nil
}

// resolveReceipts 批量获取消息的已读回执。
func (s *MessageService) resolveReceipts(msgs []models.Message) (map[string][]ReadReceipt, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.MessageID)
	}
	var rows []models.MessageRead
	if err := s.db.Where("message_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string][]ReadReceipt, len(rows))
	for _, r := range rows {
		out[r.MessageID] = append(out[r.MessageID], ReadReceipt{UserID: r.UserID, ReadAt: r.ReadAt})
	}
	return out, nil
}
