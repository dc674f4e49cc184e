package main

import (
	"context"

	"teamhub/internal/auth"
	"teamhub/internal/config"
	"teamhub/internal/db"
	clog "teamhub/internal/log"
	"teamhub/internal/server"
	"teamhub/internal/service"
	"teamhub/internal/ws"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 负责加载配置、初始化日志、连接数据库并启动 Gin 服务与心跳巡检。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	users := service.NewUserService(gdb, cfg)
	teams := service.NewTeamService(gdb)
	tasks := service.NewTaskService(gdb)
	msgs := service.NewMessageService(gdb)
	acts := service.NewActivityService(gdb)

	relay := ws.NewRelay(msgs, users, cfg.SendBuffer)
	monitor := ws.NewMonitor(relay, cfg.HeartbeatInterval())
	go monitor.Run(context.Background())

	r := server.SetupRouter(cfg, gdb, server.Services{
		Users:      users,
		Teams:      teams,
		Tasks:      tasks,
		Messages:   msgs,
		Activities: acts,
	}, relay, auth.NewTokenVerifier(cfg.JWTSecret))

	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
