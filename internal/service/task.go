package service

import (
	"errors"
	"time"

	"teamhub/internal/models"

	"gorm.io/gorm"
)

// TaskService 封装任务相关的业务逻辑。
type TaskService struct {
	db *gorm.DB
}

func NewTaskService(db *gorm.DB) *TaskService {
	return &TaskService{db: db}
}

// TaskDTO 是对外输出的任务数据。
type TaskDTO struct {
	ID          uint       `json:"id"`
	TeamID      uint       `json:"team_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	AssignedTo  uint       `json:"assigned_to"`
	AssignedBy  uint       `json:"assigned_by"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toTaskDTO(t models.Task) TaskDTO {
	return TaskDTO{
		ID: t.ID, TeamID: t.TeamID, Title: t.Title, Description: t.Description,
		Status: t.Status, AssignedTo: t.AssignedTo, AssignedBy: t.AssignedBy,
		Deadline: t.Deadline, CreatedAt: t.CreatedAt,
	}
}

// Create 在团队内创建任务。
func (s *TaskService) Create(teamID uint, title, description string, assignedTo, assignedBy uint, deadline *time.Time) (*TaskDTO, error) {
	task := models.Task{
		TeamID:      teamID,
		Title:       title,
		Description: description,
		Status:      models.TaskStatusPending,
		AssignedTo:  assignedTo,
		AssignedBy:  assignedBy,
		Deadline:    deadline,
	}
	if err := s.db.Create(&task).Error; err != nil {
		return nil, err
	}
	dto := toTaskDTO(task)
	return &dto, nil
}

// ListMine 返回指派给用户的任务。
func (s *TaskService) ListMine(userID uint, limit int) ([]TaskDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var tasks []models.Task
	if err := s.db.Where("assigned_to = ?", userID).Order("id desc").Limit(limit).Find(&tasks).Error; err != nil {
		return nil, err
	}
	out := make([]TaskDTO, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskDTO(t))
	}
	return out, nil
}

// UpdateStatus 更新任务状态，只允许已知状态值。
func (s *TaskService) UpdateStatus(taskID, userID uint, status string) (*TaskDTO, error) {
	switch status {
	case models.TaskStatusPending, models.TaskStatusInProgress, models.TaskStatusCompleted:
	default:
		return nil, errors.New("invalid task status")
	}
	var task models.Task
	if err := s.db.First(&task, taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	task.Status = status
	if err := s.db.Model(&task).Update("status", status).Error; err != nil {
		return nil, err
	}
	dto := toTaskDTO(task)
	return &dto, nil
}
