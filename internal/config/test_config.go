package config

import "time"

func LoadTestConfig() *Config {
	return &Config{
		Environment: "test",
		LogLevel:    "warn",
		Server: ServerConfig{
			Host: "localhost",
			Port: 8081,
		},
		Backend: BackendConfig{
			BaseURL:     "http://localhost:8001/api",
			HTTPTimeout: 5 * time.Second,
		},
		Core: CoreConfig{
			RemoteTimeout:      2 * time.Second,
			StrictRoles:        true,
			PollInterval:       time.Second,
			NotificationBuffer: 50,
		},
		JWT: JWTConfig{
			Secret: "test-secret",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Name:     "agencycrm_test",
			User:     "test_user",
			Password: "test_password",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		RateLimit: RateLimitConfig{
			Window:            time.Minute,
			MaxJobs:           10,
			RequestsPerSecond: 100,
		},
	}
}
