package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the application
type Config struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	Server    ServerConfig
	Backend   BackendConfig
	Core      CoreConfig
	JWT       JWTConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Host      string `env:"SERVER_HOST" envDefault:"localhost"`
	Port      int    `env:"SERVER_PORT" envDefault:"8080"`
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`
}

// BackendConfig points at the agency REST backend that owns the records.
type BackendConfig struct {
	BaseURL     string        `env:"BACKEND_URL" envDefault:"http://localhost:8000/api"`
	Token       string        `env:"BACKEND_TOKEN"`
	HTTPTimeout time.Duration `env:"BACKEND_HTTP_TIMEOUT" envDefault:"30s"`
	// RequestsPerSecond throttles outbound calls; 0 disables throttling.
	RequestsPerSecond float64 `env:"BACKEND_RPS" envDefault:"20"`
	Burst             int     `env:"BACKEND_BURST" envDefault:"40"`
}

type CoreConfig struct {
	// RemoteTimeout bounds each optimistic mutation's remote call.
	RemoteTimeout time.Duration `env:"CORE_REMOTE_TIMEOUT" envDefault:"15s"`
	// StrictRoles logs lookups against roles the permission engine does not know.
	StrictRoles  bool          `env:"CORE_STRICT_ROLES" envDefault:"true"`
	PollInterval time.Duration `env:"CORE_POLL_INTERVAL" envDefault:"30s"`
	// NotificationBuffer caps toasts held for the dashboard between reads.
	NotificationBuffer int `env:"CORE_NOTIFICATION_BUFFER" envDefault:"200"`
}

type JWTConfig struct {
	Secret string `env:"JWT_SECRET" envDefault:"your-secret-key"`
}

type DatabaseConfig struct {
	Enabled  bool   `env:"JOURNAL_ENABLED" envDefault:"false"`
	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD"`
	Name     string `env:"POSTGRES_DB" envDefault:"agencycrm"`
	SSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`
}

// DSN renders the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
}

type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	Username string `env:"REDIS_USERNAME"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// RateLimitConfig bounds dashboard mutations per user.
type RateLimitConfig struct {
	Window  time.Duration `env:"MUTATION_WINDOW" envDefault:"1m"`
	MaxJobs int           `env:"MUTATION_MAX_PER_WINDOW" envDefault:"120"`
	// RequestsPerSecond feeds echo's in-memory limiter.
	RequestsPerSecond float64 `env:"API_RPS" envDefault:"20"`
}

// IsProduction reports whether debug-only assertions should be silenced.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Backend.BaseURL == "" {
		return nil, fmt.Errorf("BACKEND_URL must not be empty")
	}
	if cfg.Core.RemoteTimeout <= 0 {
		return nil, fmt.Errorf("CORE_REMOTE_TIMEOUT must be positive, got %s", cfg.Core.RemoteTimeout)
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
