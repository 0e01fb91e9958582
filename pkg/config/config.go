package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the signaling service
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Log       LogConfig
	Signaling SignalingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        int    `env:"PORT" envDefault:"8083"`
	Environment string `env:"ENV" envDefault:"development"` // development, staging, production
	ServiceName string `env:"SERVICE_NAME" envDefault:"signaling-service"`

	// RateLimitPerMin caps HTTP API requests per client per minute; 0 disables limiting
	RateLimitPerMin int `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
}

// DatabaseConfig holds CockroachDB configuration for the call log
type DatabaseConfig struct {
	Host        string        `env:"DB_HOST" envDefault:"localhost"`
	Port        int           `env:"DB_PORT" envDefault:"26257"`
	User        string        `env:"DB_USER" envDefault:"root"`
	Password    string        `env:"DB_PASSWORD"`
	Database    string        `env:"DB_NAME" envDefault:"medipredict"`
	SSLMode     string        `env:"DB_SSL_MODE" envDefault:"disable"`
	MaxConns    int32         `env:"DB_MAX_CONNS" envDefault:"25"`
	MinConns    int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	MaxRetries  int           `env:"DB_CONNECT_RETRIES" envDefault:"5"`
	DialTimeout time.Duration `env:"DB_DIAL_TIMEOUT" envDefault:"5s"`
}

// RedisConfig holds Redis configuration for the presence mirror
type RedisConfig struct {
	Host                string        `env:"REDIS_HOST" envDefault:"localhost"`
	Port                int           `env:"REDIS_PORT" envDefault:"6379"`
	Password            string        `env:"REDIS_PASSWORD"`
	DB                  int           `env:"REDIS_DB" envDefault:"0"`
	PoolSize            int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	Timeout             time.Duration `env:"REDIS_TIMEOUT" envDefault:"5s"`
	HealthCheckInterval time.Duration `env:"REDIS_HEALTH_CHECK_INTERVAL" envDefault:"10s"`
	PresenceTTL         time.Duration `env:"REDIS_PRESENCE_TTL" envDefault:"5m"`
}

// JWTConfig holds bearer token verification settings
type JWTConfig struct {
	Secret      string `env:"JWT_SECRET"`
	Audience    string `env:"JWT_AUDIENCE" envDefault:"medipredict-api"`
	RequireAuth bool   `env:"SIGNALING_REQUIRE_AUTH" envDefault:"false"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string `env:"LOG_LEVEL" envDefault:"info"`   // debug, info, warn, error
	Format   string `env:"LOG_FORMAT" envDefault:"json"`  // json, text
	Output   string `env:"LOG_OUTPUT" envDefault:"stdout"` // stdout, file
	FilePath string `env:"LOG_FILE_PATH" envDefault:"/logs/app.log"`
}

// SignalingConfig holds WebSocket transport and call lifecycle settings
type SignalingConfig struct {
	MaxConnections     int           `env:"WS_MAX_SIGNALING_CONNECTIONS" envDefault:"1000"`
	SendBuffer         int           `env:"WS_SEND_BUFFER" envDefault:"64"`
	ReadLimit          int64         `env:"WS_READ_LIMIT" envDefault:"65536"`
	PingInterval       time.Duration `env:"WS_PING_INTERVAL" envDefault:"54s"`
	AllowedOrigins     []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://127.0.0.1:3000"`
	RingTimeout        time.Duration `env:"SIGNALING_RING_TIMEOUT" envDefault:"0s"`
	RecordQueueSize    int           `env:"RECORD_QUEUE_SIZE" envDefault:"256"`
	RecordWriteTimeout time.Duration `env:"RECORD_WRITE_TIMEOUT" envDefault:"5s"`
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Docker secrets take precedence over plain variables
	cfg.Database.Password = secretFromFile("DB_PASSWORD", cfg.Database.Password)
	cfg.Redis.Password = secretFromFile("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.JWT.Secret = secretFromFile("JWT_SECRET", cfg.JWT.Secret)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Signaling.MaxConnections <= 0 {
		return fmt.Errorf("WS_MAX_SIGNALING_CONNECTIONS must be positive")
	}
	if c.Signaling.SendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive")
	}
	if c.Signaling.RecordQueueSize <= 0 {
		return fmt.Errorf("RECORD_QUEUE_SIZE must be positive")
	}
	if c.Server.RateLimitPerMin < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MIN must not be negative")
	}
	if c.Signaling.RingTimeout < 0 {
		return fmt.Errorf("SIGNALING_RING_TIMEOUT must not be negative")
	}

	if c.JWT.RequireAuth || c.IsProduction() {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set when authentication is required")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters")
		}
	}

	return nil
}

// secretFromFile reads <key>_FILE when set, falling back to current
func secretFromFile(key, current string) string {
	path := os.Getenv(key + "_FILE")
	if path == "" {
		return current
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return current
	}
	return string(bytes.TrimSpace(content))
}
