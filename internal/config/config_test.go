package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "STORAGE_DRIVER", "DATABASE_DSN", "REDIS_ADDR", "TURN_LOCK_TTL",
		"AI_MAX_TOKENS", "AI_TEMPERATURE", "AI_TIMEOUT", "AI_RATE_LIMIT",
		"DRIVER_TURN_DELAY", "DRIVER_POLL_INTERVAL", "DRIVER_DEFAULT_TURNS", "SEED_PERSONAS",
		"ARK_MODEL", "ARK_API_KEY",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.False(t, cfg.Server.SeedPersonas)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.False(t, cfg.Lock.Distributed())
	assert.Equal(t, 2*time.Minute, cfg.Lock.TTL)
	assert.Equal(t, 150, cfg.AI.MaxTokens)
	assert.InDelta(t, 0.7, cfg.AI.Temperature, 1e-6)
	assert.Equal(t, 60*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 1.0, cfg.AI.RateLimit)
	assert.Equal(t, "https://api.x.ai/v1", cfg.AI.XAIBaseURL)
	assert.False(t, cfg.AI.Ark.Enabled())
	assert.Equal(t, time.Second, cfg.Driver.TurnDelay)
	assert.Equal(t, 2*time.Second, cfg.Driver.PollInterval)
	assert.Equal(t, 10, cfg.Driver.DefaultTurns)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9090")
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("AI_MAX_TOKENS", "300")
	t.Setenv("DRIVER_TURN_DELAY", "250ms")
	t.Setenv("SEED_PERSONAS", "true")
	t.Setenv("ARK_MODEL", "ep-123")
	t.Setenv("ARK_API_KEY", "key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.True(t, cfg.Server.SeedPersonas)
	assert.Equal(t, "file:parley.db?cache=shared", cfg.Storage.DSN)
	assert.True(t, cfg.Lock.Distributed())
	assert.Equal(t, 2, cfg.Lock.RedisDB)
	assert.Equal(t, 300, cfg.AI.MaxTokens)
	assert.Equal(t, 250*time.Millisecond, cfg.Driver.TurnDelay)
	assert.True(t, cfg.AI.Ark.Enabled())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":              "80 80",
		"STORAGE_DRIVER":    "mongo",
		"AI_TIMEOUT":        "soon",
		"DRIVER_TURN_DELAY": "-1s",
		"AI_MAX_TOKENS":     "0",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}

	t.Run("postgres requires dsn", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", "postgres")
		t.Setenv("DATABASE_DSN", "")
		_, err := Load()
		assert.Error(t, err)
	})
}
