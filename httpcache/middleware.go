package httpcache

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/felipecampolina/cachemw/fsm"
	imetrics "github.com/felipecampolina/cachemw/internal/metrics"
)

// Engine is the net/http-bound instantiation of fsm.Engine.
type Engine = fsm.Engine[*http.Request, *Response, CachedResponse]

// NewEngine builds an Engine wired with the net/http adapter functions,
// leaving Backend, LockManager, Policy, RequestPredicates,
// ResponsePredicates, Extractor, KeyPrefix, and KeyVersion for the caller to
// set directly on the returned Engine.
func NewEngine(maxBodyBytes int) *Engine {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 10 * 1024
	}
	return &Engine{
		ToRequestSubject:   toRequestSubject(maxBodyBytes),
		FromRequestSubject: fromRequestSubject,
		ToResponseSubject:  toResponseSubject,
		IntoCached:         toCached,
		FromCached:         fromCached,
	}
}

// outcomeHeader maps an fsm.Outcome to the X-Cache header value the
// reference adapter exposes.
func outcomeHeader(o fsm.Outcome) string {
	switch o {
	case fsm.OutcomeHit:
		return "HIT"
	case fsm.OutcomeStaleHit:
		return "STALE"
	case fsm.OutcomeMiss:
		return "MISS"
	default:
		return "BYPASS"
	}
}

// ensureRequestID returns the request's X-Request-ID if present, otherwise
// mints one via google/uuid and sets it on the request so it is visible to
// the wrapped handler.
func ensureRequestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	id := uuid.NewString()
	r.Header.Set("X-Request-ID", id)
	return id
}

// Middleware wraps next with the caching engine: on each request it drives
// engine.Run with an upstream callable that invokes next against a buffering
// recorder, then writes the resulting response (cached or freshly fetched)
// to the real client.
func Middleware(engine *Engine, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := ensureRequestID(r)

		upstream := func(ctx context.Context, req *http.Request) (*Response, error) {
			rec := newRecorder()
			next.ServeHTTP(rec, req.WithContext(ctx))
			return rec.result(), nil
		}

		result, err := engine.Run(r.Context(), r, upstream)
		if err != nil {
			imetrics.ObserveCacheOutcome(r.Method, "ERROR", time.Since(start))
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		res := result.Response
		if res == nil {
			imetrics.ObserveCacheOutcome(r.Method, "ERROR", time.Since(start))
			http.Error(w, "httpcache: nil response", http.StatusInternalServerError)
			return
		}
		outcome := outcomeHeader(result.Outcome)
		copyHeader(w.Header(), res.Header)
		if _, ok := w.Header()["Content-Length"]; !ok {
			w.Header().Set("Content-Length", strconv.Itoa(len(res.Body)))
		}
		w.Header().Set("X-Cache", outcome)
		w.Header().Set("X-Request-ID", requestID)
		w.WriteHeader(res.StatusCode)
		_, _ = w.Write(res.Body)
		imetrics.ObserveCacheOutcome(r.Method, outcome, time.Since(start))
	})
}
