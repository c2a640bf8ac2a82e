package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthub-backend/internal/backend"
)

func TestLoad(t *testing.T) {
	t.Run("defaults with a configured primary", func(t *testing.T) {
		t.Setenv("DYNAMODB_TABLE", "agenthub")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, ":8080", cfg.ServerAddress)
		assert.Equal(t, backend.KindPrimary, cfg.DefaultBackend)
		assert.Equal(t, 1024, cfg.Cache.Capacity)
		assert.Equal(t, 30*time.Minute, cfg.Cache.ItemTTL)
		assert.Equal(t, 10, cfg.BatchChunkSize)
		assert.Equal(t, 60*time.Minute, cfg.QueryCacheTTL)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("DYNAMODB_TABLE", "agenthub")
		t.Setenv("SERVER_ADDRESS", ":9090")
		t.Setenv("CACHE_CAPACITY", "256")
		t.Setenv("CACHE_ITEM_TTL", "5m")
		t.Setenv("BATCH_CHUNK_SIZE", "25")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, ":9090", cfg.ServerAddress)
		assert.Equal(t, 256, cfg.Cache.Capacity)
		assert.Equal(t, 5*time.Minute, cfg.Cache.ItemTTL)
		assert.Equal(t, 25, cfg.BatchChunkSize)
	})

	t.Run("unparseable numbers keep the default", func(t *testing.T) {
		t.Setenv("DYNAMODB_TABLE", "agenthub")
		t.Setenv("CACHE_CAPACITY", "lots")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 1024, cfg.Cache.Capacity)
	})

	t.Run("no backend at all fails loudly", func(t *testing.T) {
		t.Setenv("DYNAMODB_TABLE", "")
		t.Setenv("POSTGRES_DSN", "")
		_, err := Load()
		assert.ErrorContains(t, err, "no backend configured")
	})

	t.Run("default backend must be configured", func(t *testing.T) {
		t.Setenv("DYNAMODB_TABLE", "")
		t.Setenv("POSTGRES_DSN", "postgres://localhost/agenthub")
		// DEFAULT_BACKEND stays primary, which has no table.
		_, err := Load()
		assert.ErrorContains(t, err, "DYNAMODB_TABLE")

		t.Setenv("DEFAULT_BACKEND", "secondary")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, backend.KindSecondary, cfg.DefaultBackend)
	})

	t.Run("unknown default backend is rejected", func(t *testing.T) {
		t.Setenv("DYNAMODB_TABLE", "agenthub")
		t.Setenv("DEFAULT_BACKEND", "tertiary")
		_, err := Load()
		assert.ErrorContains(t, err, "DEFAULT_BACKEND")
	})

	t.Run("threshold ordering is enforced", func(t *testing.T) {
		t.Setenv("DYNAMODB_TABLE", "agenthub")
		t.Setenv("CACHE_SMALL_THRESHOLD", "200")
		_, err := Load()
		assert.ErrorContains(t, err, "CACHE_SMALL_THRESHOLD")
	})
}
