package models

import "time"

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"size:64;not null"`
	Email        string `gorm:"uniqueIndex;size:128;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"size:20;not null;default:member"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}

type Team struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"size:128;not null"`
	Description string `gorm:"type:text"`
	OwnerID     uint   `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TeamMember 记录数据层面的团队成员关系，与聊天房间的在线订阅无关。
type TeamMember struct {
	ID        uint   `gorm:"primaryKey"`
	TeamID    uint   `gorm:"index:idx_member_team_user,unique;not null"`
	UserID    uint   `gorm:"index:idx_member_team_user,unique;not null"`
	Role      string `gorm:"size:20;not null;default:member"`
	CreatedAt time.Time
}

type Task struct {
	ID          uint   `gorm:"primaryKey"`
	TeamID      uint   `gorm:"index;not null"`
	Title       string `gorm:"size:200;not null"`
	Description string `gorm:"type:text"`
	Status      string `gorm:"size:20;not null;default:pending"`
	AssignedTo  uint   `gorm:"index"`
	AssignedBy  uint
	Deadline    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in-progress"
	TaskStatusCompleted  = "completed"
)

// Message 是聊天消息的持久化形态。MessageID 由中继生成，带时间前缀，
// 同一时间戳下按字符串比较可稳定排序。
type Message struct {
	ID        uint      `gorm:"primaryKey"`
	MessageID string    `gorm:"uniqueIndex;size:64;not null"`
	TeamID    uint      `gorm:"index:idx_msg_team_ts;not null"`
	UserID    uint      `gorm:"index;not null"`
	Type      string    `gorm:"size:20;not null;default:text"`
	Content   string    `gorm:"type:text;not null"`
	Timestamp time.Time `gorm:"index:idx_msg_team_ts;not null"`
	CreatedAt time.Time
}

const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

// MessageRead 是一条已读回执，(消息, 读者) 唯一。
type MessageRead struct {
	ID        uint      `gorm:"primaryKey"`
	MessageID string    `gorm:"index:idx_read_msg_user,unique;size:64;not null"`
	UserID    uint      `gorm:"index:idx_read_msg_user,unique;not null"`
	ReadAt    time.Time `gorm:"not null"`
}

type ActivityLog struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"index;not null"`
	Action    string `gorm:"size:40;not null"`
	Target    string `gorm:"size:200"`
	CreatedAt time.Time
}
