package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"APP_PORT", "DATABASE_DSN", "JWT_SECRET", "APP_ENV", "ACCESS_TOKEN_TTL_MINUTES", "REFRESH_TOKEN_TTL_DAYS", "WS_HEARTBEAT_SECONDS", "WS_SEND_BUFFER"} {
		os.Unsetenv(k)
	}

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Load() Port = %v, want 8080", cfg.Port)
	}
	if cfg.Env != "dev" {
		t.Errorf("Load() Env = %v, want dev", cfg.Env)
	}
	if cfg.AccessTokenTTLMinutes != 15 {
		t.Errorf("Load() AccessTokenTTLMinutes = %v, want 15", cfg.AccessTokenTTLMinutes)
	}
	if cfg.HeartbeatSeconds != 30 {
		t.Errorf("Load() HeartbeatSeconds = %v, want 30", cfg.HeartbeatSeconds)
	}
	if cfg.SendBuffer != 256 {
		t.Errorf("Load() SendBuffer = %v, want 256", cfg.SendBuffer)
	}
	if cfg.HeartbeatInterval() != 30*time.Second {
		t.Errorf("HeartbeatInterval() = %v, want 30s", cfg.HeartbeatInterval())
	}
}

func TestLoad_FromEnv(t *testing.T) {
	os.Setenv("APP_PORT", "9090")
	os.Setenv("JWT_SECRET", "my-secret")
	os.Setenv("APP_ENV", "prod")
	os.Setenv("WS_HEARTBEAT_SECONDS", "10")
	defer func() {
		os.Unsetenv("APP_PORT")
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("APP_ENV")
		os.Unsetenv("WS_HEARTBEAT_SECONDS")
	}()

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Load() Port = %v, want 9090", cfg.Port)
	}
	if cfg.JWTSecret != "my-secret" {
		t.Errorf("Load() JWTSecret = %v, want my-secret", cfg.JWTSecret)
	}
	if cfg.Env != "prod" {
		t.Errorf("Load() Env = %v, want prod", cfg.Env)
	}
	if cfg.HeartbeatSeconds != 10 {
		t.Errorf("Load() HeartbeatSeconds = %v, want 10", cfg.HeartbeatSeconds)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	os.Setenv("ACCESS_TOKEN_TTL_MINUTES", "invalid")
	os.Setenv("WS_HEARTBEAT_SECONDS", "-5")
	defer func() {
		os.Unsetenv("ACCESS_TOKEN_TTL_MINUTES")
		os.Unsetenv("WS_HEARTBEAT_SECONDS")
	}()

	cfg := Load()

	if cfg.AccessTokenTTLMinutes != 15 {
		t.Errorf("Load() AccessTokenTTLMinutes = %v, want 15 (default)", cfg.AccessTokenTTLMinutes)
	}
	if cfg.HeartbeatSeconds != 30 {
		t.Errorf("Load() HeartbeatSeconds = %v, want 30 (default)", cfg.HeartbeatSeconds)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid dev config",
			cfg:     Config{Port: "8080", DatabaseDSN: "postgres://localhost/test", JWTSecret: "dev-secret-change-me", Env: "dev"},
			wantErr: false,
		},
		{
			name:    "valid prod config",
			cfg:     Config{Port: "8080", DatabaseDSN: "postgres://localhost/test", JWTSecret: "production-secret", Env: "prod"},
			wantErr: false,
		},
		{
			name:    "empty port",
			cfg:     Config{Port: "", DatabaseDSN: "postgres://localhost/test", JWTSecret: "secret", Env: "dev"},
			wantErr: true,
		},
		{
			name:    "empty dsn",
			cfg:     Config{Port: "8080", DatabaseDSN: "", JWTSecret: "secret", Env: "dev"},
			wantErr: true,
		},
		{
			name:    "default secret in prod",
			cfg:     Config{Port: "8080", DatabaseDSN: "postgres://localhost/test", JWTSecret: "dev-secret-change-me", Env: "prod"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
