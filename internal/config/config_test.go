package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felipecampolina/cachemw/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"CACHEPROXY_LISTEN", "CACHEPROXY_METRICS_ADDR", "CACHEPROXY_TARGET",
		"CACHEPROXY_ALLOWED_METHODS",
		"CACHEPROXY_LOG_LEVEL", "CACHE_ENABLED", "CACHE_MAX_ENTRIES", "CACHE_TTL",
		"CACHE_STALE_TTL", "CACHE_KEY_FORMAT", "CACHE_VALUE_FORMAT", "CACHE_COMPRESSOR",
		"CACHE_LOCKS_ENABLED", "CACHE_LOCKS_CONCURRENCY", "CACHE_LOCKS_CAPACITY",
		"CACHEPROXY_TLS_ENABLED", "CACHEPROXY_TLS_CERT_FILE", "CACHEPROXY_TLS_KEY_FILE",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadRequiresTarget(t *testing.T) {
	clearEnv(t)
	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHEPROXY_TARGET", "http://localhost:9000")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "http://localhost:9000", cfg.TargetURL.String())
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 60*time.Second, cfg.Cache.TTL)
	assert.True(t, cfg.Locks.Enabled)
	assert.Equal(t, 1, cfg.Locks.Concurrency)
}

func TestLoadRejectsInvalidTarget(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHEPROXY_TARGET", "not-a-url")
	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadParsesAllowedMethodsDeduped(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHEPROXY_TARGET", "http://localhost:9000")
	t.Setenv("CACHEPROXY_ALLOWED_METHODS", "get, GET, post")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"GET", "POST"}, cfg.AllowedMethods)
}
