package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskboard-backend/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENVIRONMENT", "PORT", "STORE_BACKEND", "POSTGRES_DSN", "NATS_URL", "NATS_BUCKET_PREFIX",
		"JWT_SECRET", "ALLOWED_ORIGINS", "DEBUG", "CATALOG_FILE", "PERMISSION_CACHE_TTL",
		"MAX_CONFLICT_ATTEMPTS", "WEBHOOK_URL", "WEBHOOK_SECRET", "WEBHOOK_TIMEOUT",
		"EVENTS_SUBJECT_PREFIX", "ADVISOR_URL", "ADVISOR_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	c := LoadConfig()
	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, "3000", c.Port)
	assert.Equal(t, 5*time.Second, c.PermissionCacheTTL)
	assert.Equal(t, 3, c.MaxConflictAttempts)
	assert.Equal(t, []string{"*"}, c.AllowedOrigins)
	assert.Equal(t, database.DefaultBucketPrefix, c.NATSBucketPrefix)
	assert.Equal(t, "taskboard", c.EventsSubjectPrefix)
	assert.Equal(t, database.BackendMemory, database.ResolveBackend(c.Database()))
	assert.NoError(t, c.Validate())
}

func TestLoadConfig_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", " NATS ")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("PERMISSION_CACHE_TTL", "0")
	t.Setenv("WEBHOOK_TIMEOUT", "2")
	t.Setenv("MAX_CONFLICT_ATTEMPTS", "5")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("DEBUG", "true")

	c := LoadConfig()
	assert.Equal(t, database.BackendNATS, c.StoreBackend)
	assert.Equal(t, time.Duration(0), c.PermissionCacheTTL)
	assert.Equal(t, 2*time.Second, c.WebhookTimeout)
	assert.Equal(t, 5, c.MaxConflictAttempts)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.AllowedOrigins)
	assert.True(t, c.Debug)
	require.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{Environment: "development", Port: "3000", JWTSecret: "s", MaxConflictAttempts: 3}
	}
	cases := map[string]func(c *Config){
		"missing port":          func(c *Config) { c.Port = "" },
		"postgres without dsn":  func(c *Config) { c.StoreBackend = database.BackendPostgres },
		"nats without url":      func(c *Config) { c.StoreBackend = database.BackendNATS },
		"unknown backend":       func(c *Config) { c.StoreBackend = "mongo" },
		"negative ttl":          func(c *Config) { c.PermissionCacheTTL = -time.Second },
		"no attempts":           func(c *Config) { c.MaxConflictAttempts = 0 },
		"webhook without key":   func(c *Config) { c.WebhookURL = "https://hooks.example" },
		"production dev secret": func(c *Config) { *c = Config{Environment: "production", Port: "1", PostgresDSN: "x", JWTSecret: devJWTSecret, MaxConflictAttempts: 3} },
		"production memory":     func(c *Config) { c.Environment = "production" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
	assert.NoError(t, base().Validate())
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9999")
	path := filepath.Join(t.TempDir(), ".env.local")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nPORT=1234\nNATS_URL=\"nats://x:4222\"\nbroken line\n"), 0o600))

	loadEnvFile(path)
	assert.Equal(t, "9999", os.Getenv("PORT"), "existing values win")
	assert.Equal(t, "nats://x:4222", os.Getenv("NATS_URL"))
}

func TestNewLogger(t *testing.T) {
	c := &Config{Environment: "production", Debug: true}
	assert.NotNil(t, c.NewLogger())
	c = &Config{Environment: "development", Debug: true}
	assert.True(t, c.NewLogger().Enabled(context.Background(), slog.LevelDebug))
}
