// Command cacheproxy is a demo reverse proxy that wires the caching
// middleware in front of a single upstream, driven entirely by environment
// configuration.
package main

import (
	"net/http"
	"os"

	"github.com/felipecampolina/cachemw/backend"
	"github.com/felipecampolina/cachemw/backend/memory"
	"github.com/felipecampolina/cachemw/cachekey"
	"github.com/felipecampolina/cachemw/cachevalue/compressor"
	"github.com/felipecampolina/cachemw/extractor"
	"github.com/felipecampolina/cachemw/fsm"
	"github.com/felipecampolina/cachemw/httpcache"
	"github.com/felipecampolina/cachemw/internal/config"
	"github.com/felipecampolina/cachemw/internal/logging"
	imetrics "github.com/felipecampolina/cachemw/internal/metrics"
	"github.com/felipecampolina/cachemw/internal/proxy"
	"github.com/felipecampolina/cachemw/lockmanager"
	"github.com/felipecampolina/cachemw/subject"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("cacheproxy: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	rp := proxy.NewReverseProxy(cfg.TargetURL)
	if len(cfg.AllowedMethods) > 0 {
		rp.SetAllowedMethods(cfg.AllowedMethods)
	}

	engine := buildEngine(cfg)
	cached := httpcache.Middleware(engine, rp)
	root := logging.WithRequestID(logging.WithRequestLogging(logger)(cached))

	go serveMetrics(cfg.MetricsAddr)

	logger.Info().
		Str("listen", cfg.ListenAddr).
		Str("target", cfg.TargetURL.String()).
		Bool("cache_enabled", cfg.Cache.Enabled).
		Bool("locks_enabled", cfg.Locks.Enabled).
		Msg("cacheproxy starting")

	if err := startServer(cfg, root, logger); err != nil {
		logger.Fatal().Err(err).Msg("cacheproxy exited")
	}
}

func buildEngine(cfg *config.Config) *httpcache.Engine {
	engine := httpcache.NewEngine(0)
	engine.Policy = cachePolicy(cfg)
	engine.Backend = backend.NewJSONTyped[httpcache.CachedResponse](
		memory.New(cfg.Cache.MaxEntries,
			memory.WithKeyFormat(keyFormatFromString(cfg.Cache.KeyFormat)),
			memory.WithValueFormat(valueFormatFromString(cfg.Cache.ValueFormat)),
			memory.WithCompressor(compressorFromString(cfg.Cache.Compressor)),
		),
	)
	engine.LockManager = lockmanager.New(cfg.Locks.Capacity)
	engine.RequestPredicates = httpcache.DefaultRequestPredicate()
	engine.ResponsePredicates = httpcache.DefaultResponsePredicate()
	engine.Extractor = extractor.Chain[subject.Request](
		extractor.Method(),
		extractor.Path("*"),
		extractor.Query("*"),
	)
	engine.KeyPrefix = "cacheproxy"
	engine.KeyVersion = 1
	engine.OnCacheWriteError = func(err error) { imetrics.CacheWriteErrorInc() }
	return engine
}

func cachePolicy(cfg *config.Config) fsm.PolicyConfig {
	if !cfg.Cache.Enabled {
		return fsm.Disabled()
	}
	locks := fsm.DisabledLocks()
	if cfg.Locks.Enabled {
		locks = fsm.EnabledLocks(cfg.Locks.Concurrency)
	}
	return fsm.Enabled(cfg.Cache.TTL, cfg.Cache.StaleTTL, locks)
}

// keyFormatFromString maps CACHE_KEY_FORMAT onto the library's
// CacheKeyFormat enum; unrecognized values fall back to UrlEncoded, the
// format memory.New itself defaults to.
func keyFormatFromString(s string) cachekey.CacheKeyFormat {
	switch s {
	case "json":
		return cachekey.Json
	case "bincode":
		return cachekey.Bincode
	case "bitcode":
		return cachekey.Bitcode
	default:
		return cachekey.UrlEncoded
	}
}

// valueFormatFromString maps CACHE_VALUE_FORMAT onto a backend.ValueFormat;
// unrecognized values fall back to JSONValue.
func valueFormatFromString(s string) backend.ValueFormat {
	switch s {
	case "bincode":
		return backend.BincodeValue
	case "bitcode":
		return backend.BitcodeValue
	default:
		return backend.JSONValue
	}
}

// compressorFromString maps CACHE_COMPRESSOR onto a compressor.Compressor;
// unrecognized values fall back to Passthrough (no compression).
func compressorFromString(s string) compressor.Compressor {
	switch s {
	case "gzip":
		return compressor.NewGzip()
	case "zstd":
		return compressor.NewZstd()
	default:
		return compressor.Passthrough{}
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	_ = http.ListenAndServe(addr, mux)
}
