package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"teamhub/internal/auth"
	"teamhub/internal/models"
	"teamhub/internal/service"
	"teamhub/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Services 聚合 handler 依赖的业务服务。
type Services struct {
	Users      *service.UserService
	Teams      *service.TeamService
	Tasks      *service.TaskService
	Messages   *service.MessageService
	Activities *service.ActivityService
}

// Handler 聚合所有 HTTP handler，依赖注入 service 层与聊天中继。
type Handler struct {
	svc   Services
	relay *ws.Relay
}

func NewHandler(svc Services, relay *ws.Relay) *Handler {
	return &Handler{svc: svc, relay: relay}
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Name) < 2 || len(req.Name) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid name"})
		return
	}
	if !strings.Contains(req.Email, "@") || len(req.Email) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}
	if len(req.Password) < 6 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	result, err := h.svc.Users.Register(req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "email taken"})
			return
		}
		log.Error().Err(err).Str("email", req.Email).Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": result.ID, "name": result.Name, "email": result.Email})
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.svc.Users.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("email", req.Email).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	h.svc.Activities.Record(result.User.ID, "login", "")
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          gin.H{"id": result.User.ID, "name": result.User.Name, "email": result.User.Email},
	})
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.svc.Users.RefreshTokens(req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": result.AccessToken, "refresh_token": result.RefreshToken})
}

// Me 返回当前登录用户。
func (h *Handler) Me(c *gin.Context) {
	v, ok := c.Get("user")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	user := v.(models.User)
	c.JSON(http.StatusOK, gin.H{"id": user.ID, "name": user.Name, "email": user.Email, "role": user.Role})
}

// CreateTeam 处理创建团队请求。
func (h *Handler) CreateTeam(c *gin.Context) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid team name"})
		return
	}
	ownerID := auth.GetUserID(c)
	team, err := h.svc.Teams.Create(req.Name, req.Description, ownerID)
	if err != nil {
		log.Error().Err(err).Uint("owner_id", ownerID).Str("name", req.Name).Msg("create team")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to create team"})
		return
	}
	h.svc.Activities.Record(ownerID, "create_team", team.Name)
	c.JSON(http.StatusOK, gin.H{"team": team})
}

// ListTeams 返回当前用户所属团队，附带各房间在线人数。
func (h *Handler) ListTeams(c *gin.Context) {
	teams, err := h.svc.Teams.ListMine(auth.GetUserID(c), 100)
	if err != nil {
		log.Error().Err(err).Msg("list teams")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list teams"})
		return
	}
	for i := range teams {
		teams[i].Online = h.relay.Online(teams[i].ID)
	}
	c.JSON(http.StatusOK, gin.H{"teams": teams})
}

// AddTeamMember 把用户加入团队。
func (h *Handler) AddTeamMember(c *gin.Context) {
	teamID := paramUint(c, "id")
	if teamID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid team id"})
		return
	}
	var req struct {
		UserID uint   `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	actorID := auth.GetUserID(c)
	ok, err := h.svc.Teams.IsMember(teamID, actorID)
	if err != nil {
		log.Error().Err(err).Uint("team_id", teamID).Msg("membership check")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add member"})
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a team member"})
		return
	}
	if err := h.svc.Teams.AddMember(teamID, req.UserID, req.Role); err != nil {
		switch {
		case errors.Is(err, service.ErrTeamNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "team not found"})
		case errors.Is(err, service.ErrAlreadyMember):
			c.JSON(http.StatusConflict, gin.H{"error": "already a team member"})
		default:
			log.Error().Err(err).Uint("team_id", teamID).Uint("user_id", req.UserID).Msg("add member")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add member"})
		}
		return
	}
	h.svc.Activities.Record(actorID, "add_member", strconv.FormatUint(uint64(teamID), 10))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListMessages 处理聊天历史查询：最多 limit 条（默认 50），可选 before
// 时间戳，按时间降序查询后反转为升序返回。
func (h *Handler) ListMessages(c *gin.Context) {
	teamID := paramUint(c, "id")
	if teamID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid team id"})
		return
	}
	userID := auth.GetUserID(c)
	ok, err := h.svc.Teams.IsMember(teamID, userID)
	if err != nil {
		log.Error().Err(err).Uint("team_id", teamID).Msg("membership check")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a team member"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	var before time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before timestamp"})
			return
		}
		before = t
	}

	msgs, err := h.svc.Messages.ListByTeam(teamID, before, limit)
	if err != nil {
		log.Error().Err(err).Uint("team_id", teamID).Msg("list messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "count": len(msgs)})
}

// MarkMessagesRead 追加已读回执，并把状态更新推给仍在线的消息作者。
func (h *Handler) MarkMessagesRead(c *gin.Context) {
	teamID := paramUint(c, "id")
	if teamID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid team id"})
		return
	}
	var req struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.MessageIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	readerID := auth.GetUserID(c)
	notices, err := h.svc.Messages.MarkRead(req.MessageIDs, readerID)
	if err != nil {
		log.Error().Err(err).Uint("team_id", teamID).Msg("mark read")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark read"})
		return
	}
	for _, n := range notices {
		h.relay.NotifyRead(n.MessageID, n.AuthorID)
	}
	c.JSON(http.StatusOK, gin.H{"marked": len(notices)})
}

// CreateTask 在团队内创建任务。
func (h *Handler) CreateTask(c *gin.Context) {
	teamID := paramUint(c, "id")
	if teamID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid team id"})
		return
	}
	var req struct {
		Title       string     `json:"title"`
		Description string     `json:"description"`
		AssignedTo  uint       `json:"assigned_to"`
		Deadline    *time.Time `json:"deadline"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || len(req.Title) > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid title"})
		return
	}
	actorID := auth.GetUserID(c)
	ok, err := h.svc.Teams.IsMember(teamID, actorID)
	if err != nil {
		log.Error().Err(err).Uint("team_id", teamID).Msg("membership check")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create task"})
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a team member"})
		return
	}
	task, err := h.svc.Tasks.Create(teamID, req.Title, req.Description, req.AssignedTo, actorID, req.Deadline)
	if err != nil {
		log.Error().Err(err).Uint("team_id", teamID).Msg("create task")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create task"})
		return
	}
	h.svc.Activities.Record(actorID, "create_task", task.Title)
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// ListMyTasks 返回指派给当前用户的任务。
func (h *Handler) ListMyTasks(c *gin.Context) {
	tasks, err := h.svc.Tasks.ListMine(auth.GetUserID(c), 100)
	if err != nil {
		log.Error().Err(err).Msg("list tasks")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tasks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// UpdateTaskStatus 更新任务状态。
func (h *Handler) UpdateTaskStatus(c *gin.Context) {
	taskID := paramUint(c, "id")
	if taskID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	actorID := auth.GetUserID(c)
	task, err := h.svc.Tasks.UpdateStatus(taskID, actorID, req.Status)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to update task"})
		return
	}
	h.svc.Activities.Record(actorID, "update_task", task.Title)
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// ListActivities 返回当前用户的操作流水。
func (h *Handler) ListActivities(c *gin.Context) {
	acts, err := h.svc.Activities.List(auth.GetUserID(c), 50)
	if err != nil {
		log.Error().Err(err).Msg("list activities")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list activities"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activities": acts})
}

func paramUint(c *gin.Context, name string) uint {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}
