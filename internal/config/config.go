// Package config loads the demo binaries' operational configuration from
// environment variables (optionally from a local .env file), in the same
// getEnv*-helper style as the repo this package's idiom is carried from.
// This is strictly ambient/operational config: the library's own Policy and
// Endpoint configuration stays programmatic, constructed by the caller in
// Go, not loaded from YAML/files.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the fully-resolved operational configuration for cmd/cacheproxy.
type Config struct {
	ListenAddr     string
	MetricsAddr    string
	TargetURL      *url.URL
	AllowedMethods []string
	LogLevel       string

	Cache CacheConfig
	Locks LockConfig
	TLS   TLSConfig
}

// CacheConfig configures the demo's in-memory backend and TTL policy.
type CacheConfig struct {
	Enabled    bool
	MaxEntries int
	TTL        time.Duration
	StaleTTL   time.Duration
	KeyFormat  string // "url_encoded" | "json" | "bincode" | "bitcode"
	ValueFormat string // "json" | "bincode" | "bitcode"
	Compressor string // "none" | "gzip" | "zstd"
}

// LockConfig configures the dogpile-prevention lock manager.
type LockConfig struct {
	Enabled     bool
	Concurrency int
	Capacity    int
}

// TLSConfig optionally enables HTTPS on the demo binary, generating a
// self-signed localhost certificate when CertFile/KeyFile are unset.
type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

const (
	defaultListen         = ":8080"
	defaultMetricsAddr    = ":9090"
	defaultCacheEnabled   = true
	defaultCacheMaxEntries = 2048
	defaultCacheTTL       = 60 * time.Second
	defaultCacheStaleTTL  = 30 * time.Second
	defaultKeyFormat      = "url_encoded"
	defaultValueFormat    = "json"
	defaultCompressor     = "none"
	defaultLocksEnabled   = true
	defaultLockConcurrency = 1
	defaultLockCapacity   = 4096
	defaultAllowedMethods = "GET,HEAD"
	defaultLogLevel       = "info"
	defaultTLSEnabled     = false
)

// Load reads a local .env file if present (silently ignored if absent),
// then builds a Config from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	listen := getEnv("CACHEPROXY_LISTEN", defaultListen)
	metricsAddr := getEnv("CACHEPROXY_METRICS_ADDR", defaultMetricsAddr)

	rawTarget := strings.TrimSpace(os.Getenv("CACHEPROXY_TARGET"))
	if rawTarget == "" {
		return nil, errors.New("CACHEPROXY_TARGET must be defined (e.g., http://localhost:9000)")
	}
	target, err := url.Parse(rawTarget)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid CACHEPROXY_TARGET: %q", rawTarget)
	}

	allowed := parseMethods(getEnv("CACHEPROXY_ALLOWED_METHODS", defaultAllowedMethods))

	return &Config{
		ListenAddr:     listen,
		MetricsAddr:    metricsAddr,
		TargetURL:      target,
		AllowedMethods: allowed,
		LogLevel:       getEnv("CACHEPROXY_LOG_LEVEL", defaultLogLevel),
		Cache: CacheConfig{
			Enabled:     getEnvBool("CACHE_ENABLED", defaultCacheEnabled),
			MaxEntries:  getEnvInt("CACHE_MAX_ENTRIES", defaultCacheMaxEntries),
			TTL:         getEnvDuration("CACHE_TTL", defaultCacheTTL),
			StaleTTL:    getEnvDuration("CACHE_STALE_TTL", defaultCacheStaleTTL),
			KeyFormat:   getEnv("CACHE_KEY_FORMAT", defaultKeyFormat),
			ValueFormat: getEnv("CACHE_VALUE_FORMAT", defaultValueFormat),
			Compressor:  getEnv("CACHE_COMPRESSOR", defaultCompressor),
		},
		Locks: LockConfig{
			Enabled:     getEnvBool("CACHE_LOCKS_ENABLED", defaultLocksEnabled),
			Concurrency: getEnvInt("CACHE_LOCKS_CONCURRENCY", defaultLockConcurrency),
			Capacity:    getEnvInt("CACHE_LOCKS_CAPACITY", defaultLockCapacity),
		},
		TLS: TLSConfig{
			Enabled:  getEnvBool("CACHEPROXY_TLS_ENABLED", defaultTLSEnabled),
			CertFile: getEnv("CACHEPROXY_TLS_CERT_FILE", ""),
			KeyFile:  getEnv("CACHEPROXY_TLS_KEY_FILE", ""),
		},
	}, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func parseMethods(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		m := strings.ToUpper(strings.TrimSpace(p))
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
