// Package config loads agent settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries every runtime setting for the session agent. Development
// conveniences (DevMode, AuthDisabled) are advisory only: security-sensitive
// paths re-verify the environment independently of this struct.
type Config struct {
	Environment string `env:"RENTDESK_ENV" envDefault:"development"`
	APIBaseURL  string `env:"RENTDESK_API_BASE_URL" envDefault:"http://localhost:8000/api/v1"`
	ListenAddr  string `env:"RENTDESK_STATUS_ADDR" envDefault:"127.0.0.1:7788"`

	DevMode      bool `env:"RENTDESK_DEV_MODE" envDefault:"false"`
	AuthDisabled bool `env:"RENTDESK_AUTH_DISABLED" envDefault:"false"`

	StateBackend string `env:"RENTDESK_STATE_BACKEND" envDefault:"file"`
	StatePath    string `env:"RENTDESK_STATE_PATH" envDefault:"rentdesk-agent.json"`
	RedisAddr    string `env:"RENTDESK_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass    string `env:"RENTDESK_REDIS_PASS" envDefault:""`
	RedisDB      int    `env:"RENTDESK_REDIS_DB" envDefault:"0"`
	PostgresDSN  string `env:"RENTDESK_PG_DSN" envDefault:""`

	RefreshWindow  time.Duration `env:"RENTDESK_REFRESH_WINDOW" envDefault:"2m"`
	HealthInterval time.Duration `env:"RENTDESK_HEALTH_INTERVAL" envDefault:"30s"`

	LogLevel string `env:"RENTDESK_LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	switch cfg.StateBackend {
	case "file", "redis", "postgres", "memory":
	default:
		return Config{}, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
	return cfg, nil
}

// IsProduction reports whether the parsed environment names a production
// deployment. Callers on security-sensitive paths must not rely on this
// alone; see the persona package safeguard.
func (c Config) IsProduction() bool {
	switch c.Environment {
	case "production", "prod":
		return true
	}
	return false
}

// IsDevelopment reports whether the agent runs a development build.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}
