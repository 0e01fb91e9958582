package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8083, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Environment)
	assert.Equal(t, 1000, cfg.Signaling.MaxConnections)
	assert.Equal(t, 54*time.Second, cfg.Signaling.PingInterval)
	assert.Equal(t, time.Duration(0), cfg.Signaling.RingTimeout)
	assert.Equal(t, []string{"http://localhost:3000", "http://127.0.0.1:3000"}, cfg.Signaling.AllowedOrigins)
	assert.False(t, cfg.JWT.RequireAuth)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SIGNALING_RING_TIMEOUT", "45s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com,https://admin.example.com")
	t.Setenv("DB_MAX_CONNS", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Signaling.RingTimeout)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.Signaling.AllowedOrigins)
	assert.Equal(t, int32(10), cfg.Database.MaxConns)
}

func TestLoad_SecretFromFile(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef-from-file"
	path := filepath.Join(t.TempDir(), "jwt_secret")
	require.NoError(t, os.WriteFile(path, []byte(secret+"\n"), 0o600))

	t.Setenv("JWT_SECRET", "ignored")
	t.Setenv("JWT_SECRET_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, secret, cfg.JWT.Secret)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "PORT",
		},
		{
			name:    "negative ring timeout",
			mutate:  func(c *Config) { c.Signaling.RingTimeout = -time.Second },
			wantErr: "SIGNALING_RING_TIMEOUT",
		},
		{
			name:    "negative rate limit",
			mutate:  func(c *Config) { c.Server.RateLimitPerMin = -1 },
			wantErr: "RATE_LIMIT_PER_MIN",
		},
		{
			name:    "auth required without secret",
			mutate:  func(c *Config) { c.JWT.RequireAuth = true },
			wantErr: "JWT_SECRET must be set",
		},
		{
			name: "production with short secret",
			mutate: func(c *Config) {
				c.Server.Environment = "production"
				c.JWT.Secret = "short"
			},
			wantErr: "at least 32 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
