package httpcache_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felipecampolina/cachemw/backend"
	"github.com/felipecampolina/cachemw/backend/memory"
	"github.com/felipecampolina/cachemw/extractor"
	"github.com/felipecampolina/cachemw/fsm"
	"github.com/felipecampolina/cachemw/httpcache"
	"github.com/felipecampolina/cachemw/lockmanager"
	"github.com/felipecampolina/cachemw/predicate"
	"github.com/felipecampolina/cachemw/subject"
)

func newTestEngine(policy fsm.PolicyConfig) *httpcache.Engine {
	e := httpcache.NewEngine(0)
	e.Policy = policy
	e.Backend = backend.NewJSONTyped[httpcache.CachedResponse](memory.New(64))
	e.LockManager = lockmanager.New(16)
	e.RequestPredicates = httpcache.DefaultRequestPredicate()
	e.ResponsePredicates = httpcache.DefaultResponsePredicate()
	e.Extractor = extractor.Chain[subject.Request](extractor.Method(), extractor.Path("*"))
	e.KeyPrefix = "http"
	e.KeyVersion = 1
	return e
}

func TestMiddlewareColdMissThenHit(t *testing.T) {
	var calls int32
	origin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	})

	engine := newTestEngine(fsm.Enabled(time.Minute, 0, fsm.DisabledLocks()))
	handler := httpcache.Middleware(engine, origin)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp1, err := http.Get(srv.URL + "/a")
	require.NoError(t, err)
	body1, _ := io.ReadAll(resp1.Body)
	resp1.Body.Close()
	assert.Equal(t, "hello", string(body1))
	assert.Equal(t, "MISS", resp1.Header.Get("X-Cache"))

	resp2, err := http.Get(srv.URL + "/a")
	require.NoError(t, err)
	body2, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()
	assert.Equal(t, "hello", string(body2))
	assert.Equal(t, "HIT", resp2.Header.Get("X-Cache"))

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestMiddlewareNoStoreBypassesCache(t *testing.T) {
	var calls int32
	origin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("x"))
	})

	engine := newTestEngine(fsm.Enabled(time.Minute, 0, fsm.DisabledLocks()))
	handler := httpcache.Middleware(engine, origin)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/b", nil)
	req.Header.Set("Cache-Control", "no-store")

	for i := 0; i < 2; i++ {
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		assert.Equal(t, "BYPASS", resp.Header.Get("X-Cache"))
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestMiddlewareNonCacheableStatusIsNeverStored(t *testing.T) {
	var calls int32
	origin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})

	engine := newTestEngine(fsm.Enabled(time.Minute, 0, fsm.DisabledLocks()))
	handler := httpcache.Middleware(engine, origin)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	for i := 0; i < 2; i++ {
		resp, err := http.Get(srv.URL + "/err")
		require.NoError(t, err)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestMiddlewareMethodGatedByRequestPredicate(t *testing.T) {
	var calls int32
	origin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	})

	engine := newTestEngine(fsm.Enabled(time.Minute, 0, fsm.DisabledLocks()))
	engine.RequestPredicates = predicate.AndAll[subject.Request](
		httpcache.DefaultRequestPredicate(),
		predicate.Method("GET"),
	)
	handler := httpcache.Middleware(engine, origin)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/c", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, "BYPASS", resp.Header.Get("X-Cache"))
}

func TestResponseTTLPrefersSMaxAge(t *testing.T) {
	h := http.Header{}
	h.Set("Cache-Control", "max-age=30, s-maxage=90")
	assert.Equal(t, 90*time.Second, httpcache.ResponseTTL(h, time.Hour))
}

func TestResponseTTLFallsBackToDefault(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, time.Hour, httpcache.ResponseTTL(h, time.Hour))
}
