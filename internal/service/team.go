package service

import (
	"errors"

	"teamhub/internal/models"

	"gorm.io/gorm"
)

// TeamService 封装团队相关的业务逻辑。
type TeamService struct {
	db *gorm.DB
}

func NewTeamService(db *gorm.DB) *TeamService {
	return &TeamService{db: db}
}

// TeamDTO 是对外输出的团队数据。
type TeamDTO struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerID     uint   `json:"owner_id"`
	Members     int    `json:"members"`
	Online      int    `json:"online"`
}

// Create 创建团队，创建者自动成为 owner 成员。
func (s *TeamService) Create(name, description string, ownerID uint) (*TeamDTO, error) {
	team := models.Team{Name: name, Description: description, OwnerID: ownerID}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&team).Error; err != nil {
			return err
		}
		member := models.TeamMember{TeamID: team.ID, UserID: ownerID, Role: "owner"}
		return tx.Create(&member).Error
	})
	if err != nil {
		return nil, err
	}
	return &TeamDTO{ID: team.ID, Name: team.Name, Description: team.Description, OwnerID: team.OwnerID, Members: 1}, nil
}

// ListMine 返回用户所属的团队列表。
func (s *TeamService) ListMine(userID uint, limit int) ([]TeamDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var teams []models.Team
	err := s.db.
		Joins("JOIN team_members ON team_members.team_id = teams.id AND team_members.user_id = ?", userID).
		Order("teams.id desc").Limit(limit).Find(&teams).Error
	if err != nil {
		return nil, err
	}
	out := make([]TeamDTO, 0, len(teams))
	for _, t := range teams {
		var count int64
		if err := s.db.Model(&models.TeamMember{}).Where("team_id = ?", t.ID).Count(&count).Error; err != nil {
			return nil, err
		}
		out = append(out, TeamDTO{ID: t.ID, Name: t.Name, Description: t.Description, OwnerID: t.OwnerID, Members: int(count)})
	}
	return out, nil
}

// AddMember 把用户加入团队，重复加入返回 ErrAlreadyMember。
func (s *TeamService) AddMember(teamID, userID uint, role string) error {
	if role == "" {
		role = "member"
	}
	var team models.Team
	if err := s.db.First(&team, teamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTeamNotFound
		}
		return err
	}
	var count int64
	if err := s.db.Model(&models.TeamMember{}).Where("team_id = ? AND user_id = ?", teamID, userID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrAlreadyMember
	}
	member := models.TeamMember{TeamID: teamID, UserID: userID, Role: role}
	return s.db.Create(&member).Error
}

// IsMember 判断用户是否为团队的数据层成员。
func (s *TeamService) IsMember(teamID, userID uint) (bool, error) {
	var count int64
	err := s.db.Model(&models.TeamMember{}).Where("team_id = ? AND user_id = ?", teamID, userID).Count(&count).Error
	return count > 0, err
}

// Exists 检查团队是否存在。
func (s *TeamService) Exists(teamID uint) (*models.Team, error) {
	var team models.Team
	if err := s.db.First(&team, teamID).Error; err != nil {
		return nil, ErrTeamNotFound
	}
	return &team, nil
}
