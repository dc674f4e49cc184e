package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int
	HeartbeatSeconds      int
	SendBuffer            int
}

// Load 通过 viper 读取环境变量，缺省值与原有部署保持一致。
func Load() Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=teamhub port=5432 sslmode=disable TimeZone=UTC")
	v.SetDefault("JWT_SECRET", "dev-secret-change-me")
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 15)
	v.SetDefault("REFRESH_TOKEN_TTL_DAYS", 7)
	v.SetDefault("WS_HEARTBEAT_SECONDS", 30)
	v.SetDefault("WS_SEND_BUFFER", 256)

	cfg := Config{
		Port:                  v.GetString("APP_PORT"),
		DatabaseDSN:           v.GetString("DATABASE_DSN"),
		JWTSecret:             v.GetString("JWT_SECRET"),
		Env:                   v.GetString("APP_ENV"),
		AccessTokenTTLMinutes: v.GetInt("ACCESS_TOKEN_TTL_MINUTES"),
		RefreshTokenTTLDays:   v.GetInt("REFRESH_TOKEN_TTL_DAYS"),
		HeartbeatSeconds:      v.GetInt("WS_HEARTBEAT_SECONDS"),
		SendBuffer:            v.GetInt("WS_SEND_BUFFER"),
	}
	if cfg.AccessTokenTTLMinutes <= 0 {
		cfg.AccessTokenTTLMinutes = 15
	}
	if cfg.RefreshTokenTTLDays <= 0 {
		cfg.RefreshTokenTTLDays = 7
	}
	if cfg.HeartbeatSeconds <= 0 {
		cfg.HeartbeatSeconds = 30
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return cfg
}

// HeartbeatInterval 返回心跳巡检周期。
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// Validate 拦截明显不可用的配置，非 dev 环境禁止使用默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("port is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("database dsn is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == "dev-secret-change-me" {
		return errors.New("default jwt secret is not allowed outside dev")
	}
	return nil
}
