package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/parley")
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, 2, cfg.IndexWorkers)
	assert.Equal(t, 3, cfg.QueueAttempts)
	assert.Equal(t, 2*time.Second, cfg.QueueBackoff)
	assert.Equal(t, 5*time.Second, cfg.HandshakeWindow)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/parley")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PORT", "9090")
	t.Setenv("JWT_EXPIRY", "1h")
	t.Setenv("QUEUE_ATTEMPTS", "5")
	t.Setenv("QUEUE_BACKOFF", "500ms")
	t.Setenv("INDEX_WORKERS", "not-a-number") // bad values fall back

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, time.Hour, cfg.JWTExpiry)
	assert.Equal(t, 5, cfg.QueueAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.QueueBackoff)
	assert.Equal(t, 2, cfg.IndexWorkers)
}

func TestLoadRequiredValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "test-secret")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://localhost/parley")
	t.Setenv("JWT_SECRET", "")
	_, err = Load()
	assert.Error(t, err)
}
