package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	keys := []string{
		"QUERYFLUX_DEFAULT_STALE_TIME",
		"QUERYFLUX_DEFAULT_CACHE_TIME",
		"QUERYFLUX_MAX_RETRIES",
		"QUERYFLUX_REDIS_ADDR",
		"QUERYFLUX_DATABASE_URL",
		"QUERYFLUX_DEBUG_ADDR",
	}
	original := make(map[string]string, len(keys))
	for _, k := range keys {
		original[k] = os.Getenv(k)
		_ = os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for k, v := range original {
			if v == "" {
				_ = os.Unsetenv(k)
			} else {
				_ = os.Setenv(k, v)
			}
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), cfg.DefaultStaleTime)
	assert.Equal(t, 168*time.Hour, cfg.DefaultCacheTime)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, ":6060", cfg.DebugServerAddr)
	assert.False(t, cfg.HasWorkerBridge())
	assert.False(t, cfg.HasPostgres())
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)

	_ = os.Setenv("QUERYFLUX_DEFAULT_STALE_TIME", "30s")
	_ = os.Setenv("QUERYFLUX_MAX_RETRIES", "5")
	_ = os.Setenv("QUERYFLUX_REDIS_ADDR", "localhost:6379")
	_ = os.Setenv("QUERYFLUX_DATABASE_URL", "postgres://localhost/queryflux")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.DefaultStaleTime)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.True(t, cfg.HasWorkerBridge())
	assert.True(t, cfg.HasPostgres())
}

func TestLoadInvalidMaxRetries(t *testing.T) {
	clearEnv(t)
	_ = os.Setenv("QUERYFLUX_MAX_RETRIES", "-1")

	_, err := Load()
	assert.Error(t, err)
}
