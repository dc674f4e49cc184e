package server

import (
	"net/http"
	"time"

	"teamhub/internal/auth"
	"teamhub/internal/config"
	"teamhub/internal/metrics"
	"teamhub/internal/mw"
	"teamhub/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, svc Services, relay *ws.Relay, verifier *auth.TokenVerifier) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(mw.CORS(cfg.Env))
	r.Use(metrics.GinMiddleware())
	// 控制单个 IP+路由的速率。
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(svc, relay)

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))

	authed.GET("/me", h.Me)

	authed.POST("/teams", h.CreateTeam)
	authed.GET("/teams", h.ListTeams)
	authed.POST("/teams/:id/members", h.AddTeamMember)
	authed.GET("/teams/:id/messages", h.ListMessages)
	authed.POST("/teams/:id/messages/read", h.MarkMessagesRead)
	authed.POST("/teams/:id/tasks", h.CreateTask)

	authed.GET("/tasks", h.ListMyTasks)
	authed.PATCH("/tasks/:id/status", h.UpdateTaskStatus)

	authed.GET("/activities", h.ListActivities)

	r.GET("/ws", ws.Serve(relay, verifier, cfg.HeartbeatInterval()))

	return r
}
