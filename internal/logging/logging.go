// Package logging sets up zerolog for the demo binaries and provides
// request-scoped HTTP middleware, replacing the Loki-push sink of the
// repo this idiom is carried from with zerolog's JSON writer on stdout.
package logging

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	imetrics "github.com/felipecampolina/cachemw/internal/metrics"
)

// New builds a zerolog.Logger at the given level, writing structured JSON to
// stdout. An unrecognized or empty level falls back to "info".
func New(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(parsed).With().Timestamp().Logger()
}

// WithRequestID assigns an X-Request-ID to every request that doesn't
// already carry one, minted via google/uuid.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isMetricsScrape(r) {
			next.ServeHTTP(w, r)
			return
		}
		if strings.TrimSpace(r.Header.Get("X-Request-ID")) == "" {
			r.Header.Set("X-Request-ID", uuid.NewString())
		}
		next.ServeHTTP(w, r)
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	n      int
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.n += n
	return n, err
}

// WithRequestLogging logs one structured line per request (method, URL,
// status, duration, cache outcome) at logger's configured level and
// observes upstream-inflight/latency metrics.
func WithRequestLogging(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isMetricsScrape(r) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			imetrics.UpstreamInflightInc()
			defer imetrics.UpstreamInflightDec()

			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)

			dur := time.Since(start)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			imetrics.ObserveUpstreamResponse(r.Method, status, dur)

			logger.Info().
				Str("method", r.Method).
				Str("url", r.URL.RequestURI()).
				Int("status", status).
				Int("bytes", lrw.n).
				Dur("duration", dur).
				Str("request_id", r.Header.Get("X-Request-ID")).
				Str("cache", lrw.Header().Get("X-Cache")).
				Msg("request handled")
		})
	}
}

func isMetricsScrape(r *http.Request) bool {
	if r.URL != nil && r.URL.Path == "/metrics" {
		return true
	}
	if strings.Contains(r.Header.Get("User-Agent"), "Prometheus") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "openmetrics")
}
