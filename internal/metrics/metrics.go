// Package metrics defines Prometheus metrics for the demo cache proxy: the
// edge-facing cache outcome counters, the upstream-dialing proxy metrics,
// and the origin (upstream demo server) metrics. Labels are kept
// low-cardinality throughout.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache metrics (httpcache / fsm domain).
var (
	// cacheOutcomesTotal counts requests handled by the caching middleware by
	// outcome (HIT/STALE/MISS/BYPASS) and method.
	cacheOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_outcomes_total",
			Help: "Total cache middleware responses by outcome and method",
		},
		[]string{"outcome", "method"},
	)
	// cacheRequestDuration captures end-to-end request duration through the
	// caching middleware, labeled by outcome.
	cacheRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_request_duration_seconds",
			Help:    "End-to-end cache middleware request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	// cacheLockWait measures time spent waiting to acquire or be woken by a
	// per-key lock during dogpile prevention.
	cacheLockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cache_lock_wait_seconds",
			Help:    "Observed wait time for a per-key cache lock",
			Buckets: prometheus.DefBuckets,
		},
	)
	// cacheWriteErrorsTotal counts backend write failures observed via the
	// engine's OnCacheWriteError hook.
	cacheWriteErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_backend_write_errors_total",
			Help: "Total cache backend write failures",
		},
	)
)

// Proxy (upstream-dialing) metrics. Low-cardinality: avoid labels with many
// possible values.
var (
	proxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_requests_total",
			Help: "Total proxy responses by method, status and cache result",
		},
		[]string{"method", "status", "cache"},
	)
	proxyReqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxy_request_duration_seconds",
			Help:    "End-to-end proxy request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "cache"},
	)
	proxyUpstreamInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proxy_upstream_inflight",
			Help: "Number of in-flight upstream requests by upstream host",
		},
		[]string{"upstream"},
	)
	proxyUpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_upstream_requests_total",
			Help: "Total upstream responses observed by the proxy, labeled by upstream, method and status",
		},
		[]string{"upstream", "method", "status"},
	)
	proxyUpstreamReqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxy_upstream_request_duration_seconds",
			Help:    "Upstream request duration observed at the proxy by upstream and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"upstream", "method"},
	)
)

// Upstream (origin demo server) metrics.
var (
	upRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Total upstream responses by method and status",
		},
		[]string{"method", "status"},
	)
	upRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Upstream request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	upInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "upstream_inflight",
			Help: "Number of in-flight requests in upstream server",
		},
	)
)

func init() {
	prometheus.MustRegister(
		cacheOutcomesTotal,
		cacheRequestDuration,
		cacheLockWait,
		cacheWriteErrorsTotal,
		proxyRequestsTotal,
		proxyReqDuration,
		proxyUpstreamInflight,
		proxyUpstreamRequestsTotal,
		proxyUpstreamReqDuration,
		upRequestsTotal,
		upRequestDuration,
		upInflight,
	)
}

func normCacheLabel(v string) string {
	if v == "" {
		return "BYPASS"
	}
	return v
}

// ---- Cache helpers ----

// ObserveCacheOutcome records a caching-middleware response.
func ObserveCacheOutcome(method, outcome string, dur time.Duration) {
	outcome = normCacheLabel(outcome)
	cacheOutcomesTotal.WithLabelValues(outcome, method).Inc()
	cacheRequestDuration.WithLabelValues(outcome).Observe(dur.Seconds())
}

// CacheLockWaitObserve records time spent waiting on a per-key cache lock.
func CacheLockWaitObserve(d time.Duration) { cacheLockWait.Observe(d.Seconds()) }

// CacheWriteErrorInc increments the cache backend write-error counter.
func CacheWriteErrorInc() { cacheWriteErrorsTotal.Inc() }

// ---- Proxy helpers ----

// ObserveProxyResponse records a client-facing proxy response.
func ObserveProxyResponse(method string, status int, cache string, dur time.Duration) {
	cache = normCacheLabel(cache)
	proxyRequestsTotal.WithLabelValues(method, strconv.Itoa(status), cache).Inc()
	proxyReqDuration.WithLabelValues(method, cache).Observe(dur.Seconds())
}

// ObserveProxyUpstreamResponse records the upstream response as seen by the proxy.
func ObserveProxyUpstreamResponse(upstream, method string, status int, dur time.Duration) {
	if upstream == "" {
		upstream = "unknown"
	}
	proxyUpstreamRequestsTotal.WithLabelValues(upstream, method, strconv.Itoa(status)).Inc()
	proxyUpstreamReqDuration.WithLabelValues(upstream, method).Observe(dur.Seconds())
}

// IncProxyUpstreamInflight increments the in-flight counter for a given upstream host.
func IncProxyUpstreamInflight(host string) { proxyUpstreamInflight.WithLabelValues(host).Inc() }

// DecProxyUpstreamInflight decrements the in-flight counter for a given upstream host.
func DecProxyUpstreamInflight(host string) { proxyUpstreamInflight.WithLabelValues(host).Dec() }

// ---- Upstream helpers ----

// UpstreamInflightInc increments the number of in-flight requests in the upstream.
func UpstreamInflightInc() { upInflight.Inc() }

// UpstreamInflightDec decrements the number of in-flight requests in the upstream.
func UpstreamInflightDec() { upInflight.Dec() }

// ObserveUpstreamResponse records an upstream (origin) response with method and status and observes duration.
func ObserveUpstreamResponse(method string, status int, dur time.Duration) {
	upRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	upRequestDuration.WithLabelValues(method).Observe(dur.Seconds())
}
