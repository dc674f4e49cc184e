package service

import (
	"time"

	"teamhub/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ActivityService 记录团队/任务变更的操作流水。
type ActivityService struct {
	db *gorm.DB
}

func NewActivityService(db *gorm.DB) *ActivityService {
	return &ActivityService{db: db}
}

// Record 落一条操作记录。流水不属于主链路，失败只记日志。
func (s *ActivityService) Record(userID uint, action, target string) {
	entry := models.ActivityLog{UserID: userID, Action: action, Target: target}
	if err := s.db.Create(&entry).Error; err != nil {
		log.Warn().Err(err).Uint("user_id", userID).Str("action", action).Msg("record activity")
	}
}

// ActivityDTO 是对外输出的操作记录。
type ActivityDTO struct {
	ID        uint      `json:"id"`
	UserID    uint      `json:"user_id"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	CreatedAt time.Time `json:"created_at"`
}

// List 返回用户最近的操作记录。
func (s *ActivityService) List(userID uint, limit int) ([]ActivityDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []models.ActivityLog
	if err := s.db.Where("user_id = ?", userID).Order("id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ActivityDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, ActivityDTO{ID: r.ID, UserID: r.UserID, Action: r.Action, Target: r.Target, CreatedAt: r.CreatedAt})
	}
	return out, nil
}
