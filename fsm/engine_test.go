package fsm_test

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felipecampolina/cachemw/backend"
	"github.com/felipecampolina/cachemw/backend/memory"
	"github.com/felipecampolina/cachemw/cachevalue"
	"github.com/felipecampolina/cachemw/extractor"
	"github.com/felipecampolina/cachemw/fsm"
	"github.com/felipecampolina/cachemw/lockmanager"
	"github.com/felipecampolina/cachemw/predicate"
	"github.com/felipecampolina/cachemw/subject"
)

// testReq/testRes stand in for a caller's own request/response types. Cached
// is identical to testRes here since the payload is already a plain string.
type testReq struct {
	Path string
}

type testRes struct {
	Body string
}

func newEngine(t *testing.T, policy fsm.PolicyConfig, lm *lockmanager.Manager, clock cachevalue.Clock) (*fsm.Engine[testReq, testRes, string], *memory.Backend) {
	t.Helper()
	mem := memory.New(64)
	typed := backend.NewJSONTyped[string](mem)

	e := &fsm.Engine[testReq, testRes, string]{
		Policy:      policy,
		Backend:     typed,
		LockManager: lm,
		Clock:       clock,
		Extractor:   extractor.Path("*"),
		KeyPrefix:   "test",
		KeyVersion:  1,
		ToRequestSubject: func(r testReq) subject.Request {
			return subject.Request{Method: "GET", Path: r.Path, Query: url.Values{}, Header: nil}
		},
		FromRequestSubject: func(r testReq, _ subject.Request) testReq { return r },
		ToResponseSubject: func(r testRes) subject.Response {
			return subject.Response{Status: 200}
		},
		IntoCached: func(r testRes) string { return r.Body },
		FromCached: func(c string) testRes { return testRes{Body: c} },
	}
	return e, mem
}

func TestColdMissThenHotHit(t *testing.T) {
	clock := cachevalue.NewTestClock(time.Unix(0, 0))
	e, _ := newEngine(t, fsm.Enabled(time.Minute, 0, fsm.DisabledLocks()), lockmanager.New(16), clock)

	var calls int32
	upstream := func(_ context.Context, r testReq) (testRes, error) {
		atomic.AddInt32(&calls, 1)
		return testRes{Body: "fresh:" + r.Path}, nil
	}

	res1, err := e.Run(context.Background(), testReq{Path: "/a"}, upstream)
	require.NoError(t, err)
	assert.Equal(t, fsm.OutcomeMiss, res1.Outcome)
	assert.Equal(t, "fresh:/a", res1.Response.Body)

	res2, err := e.Run(context.Background(), testReq{Path: "/a"}, upstream)
	require.NoError(t, err)
	assert.Equal(t, fsm.OutcomeHit, res2.Outcome)
	assert.Equal(t, "fresh:/a", res2.Response.Body)

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "upstream must be called exactly once")
}

func TestExpiredEntryRefetches(t *testing.T) {
	clock := cachevalue.NewTestClock(time.Unix(0, 0))
	e, _ := newEngine(t, fsm.Enabled(time.Minute, 0, fsm.DisabledLocks()), lockmanager.New(16), clock)

	var calls int32
	upstream := func(_ context.Context, r testReq) (testRes, error) {
		n := atomic.AddInt32(&calls, 1)
		return testRes{Body: fmt.Sprintf("v%d", n)}, nil
	}

	res1, err := e.Run(context.Background(), testReq{Path: "/a"}, upstream)
	require.NoError(t, err)
	assert.Equal(t, "v1", res1.Response.Body)

	clock.Advance(2 * time.Minute)

	res2, err := e.Run(context.Background(), testReq{Path: "/a"}, upstream)
	require.NoError(t, err)
	assert.Equal(t, fsm.OutcomeMiss, res2.Outcome)
	assert.Equal(t, "v2", res2.Response.Body)
}

func TestStaleWhileRevalidateServesStaleAndRefreshesInBackground(t *testing.T) {
	clock := cachevalue.NewTestClock(time.Unix(0, 0))
	e, mem := newEngine(t, fsm.Enabled(time.Minute, 2*time.Minute, fsm.DisabledLocks()), lockmanager.New(16), clock)
	_ = mem

	var calls int32
	release := make(chan struct{})
	upstream := func(_ context.Context, r testReq) (testRes, error) {
		n := atomic.AddInt32(&calls, 1)
		if n > 1 {
			<-release
		}
		return testRes{Body: fmt.Sprintf("v%d", n)}, nil
	}

	res1, err := e.Run(context.Background(), testReq{Path: "/a"}, upstream)
	require.NoError(t, err)
	assert.Equal(t, "v1", res1.Response.Body)

	// Move past TTL but still within the stale window.
	clock.Advance(90 * time.Second)

	res2, err := e.Run(context.Background(), testReq{Path: "/a"}, upstream)
	require.NoError(t, err)
	assert.Equal(t, fsm.OutcomeStaleHit, res2.Outcome)
	assert.Equal(t, "v1", res2.Response.Body, "stale response must be served immediately")

	close(release)
	// Give the detached revalidation goroutine a moment to complete and
	// write back; Run's writeback itself blocks on its own done channel, so
	// by the time runUpstreamAndWriteback returns in that goroutine the
	// backend has already been updated. Poll briefly rather than sleep a
	// fixed duration blindly.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&calls) >= 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestStaleRevalidationCoalescesWithoutLocks(t *testing.T) {
	clock := cachevalue.NewTestClock(time.Unix(0, 0))
	e, _ := newEngine(t, fsm.Enabled(time.Minute, time.Minute, fsm.DisabledLocks()), lockmanager.New(16), clock)

	var calls int32
	release := make(chan struct{})
	upstream := func(_ context.Context, r testReq) (testRes, error) {
		n := atomic.AddInt32(&calls, 1)
		if n > 1 {
			<-release
		}
		return testRes{Body: fmt.Sprintf("v%d", n)}, nil
	}

	res1, err := e.Run(context.Background(), testReq{Path: "/a"}, upstream)
	require.NoError(t, err)
	assert.Equal(t, "v1", res1.Response.Body)

	clock.Advance(90 * time.Second) // past TTL, within the stale window

	const n = 5
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Run(context.Background(), testReq{Path: "/a"}, upstream)
			require.NoError(t, err)
			assert.Equal(t, fsm.OutcomeStaleHit, res.Outcome)
		}()
	}
	wg.Wait()

	// Give the detached revalidate goroutines a moment to reach the
	// backend's Coalesce call and queue up behind the in-flight one before
	// releasing it.
	time.Sleep(20 * time.Millisecond)
	close(release)
	time.Sleep(50 * time.Millisecond)

	assert.LessOrEqual(t, int(atomic.LoadInt32(&calls)), 2,
		"concurrent stale hits for the same key should coalesce into at most one revalidation upstream call")
}

func TestDogpilePreventionConcurrencyOne(t *testing.T) {
	clock := cachevalue.NewTestClock(time.Unix(0, 0))
	lm := lockmanager.New(16)
	e, _ := newEngine(t, fsm.Enabled(time.Minute, 0, fsm.EnabledLocks(1)), lm, clock)

	var calls int32
	start := make(chan struct{})
	upstream := func(_ context.Context, r testReq) (testRes, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return testRes{Body: "shared"}, nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]testRes, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			res, err := e.Run(context.Background(), testReq{Path: "/dogpile"}, upstream)
			results[i] = res.Response
			errs[i] = err
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i].Body)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "exactly one goroutine should reach upstream")
}

func TestNoLockBaselineAllowsConcurrentUpstreamCalls(t *testing.T) {
	clock := cachevalue.NewTestClock(time.Unix(0, 0))
	e, _ := newEngine(t, fsm.Enabled(time.Minute, 0, fsm.DisabledLocks()), lockmanager.New(16), clock)

	var calls int32
	start := make(chan struct{})
	upstream := func(_ context.Context, r testReq) (testRes, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return testRes{Body: "x"}, nil
	}

	const n = 5
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _ = e.Run(context.Background(), testReq{Path: "/nolock"}, upstream)
		}()
	}
	close(start)
	wg.Wait()

	assert.Greater(t, int(atomic.LoadInt32(&calls)), 1, "without locking multiple concurrent misses may all reach upstream")
}

func TestVariableLatencyDogpileConcurrencyTwo(t *testing.T) {
	clock := cachevalue.NewTestClock(time.Unix(0, 0))
	lm := lockmanager.New(16)
	e, _ := newEngine(t, fsm.Enabled(time.Minute, 0, fsm.EnabledLocks(2)), lm, clock)

	var inFlight int32
	var maxInFlight int32
	var mu sync.Mutex
	upstream := func(_ context.Context, r testReq) (testRes, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if cur > maxInFlight {
			maxInFlight = cur
		}
		mu.Unlock()
		time.Sleep(time.Duration(5+cur) * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return testRes{Body: "v"}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _ = e.Run(context.Background(), testReq{Path: "/variable"}, upstream)
		}()
	}
	close(start)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, int(maxInFlight), 2, "at most 2 concurrent upstream calls allowed for this key")
}

func TestNonCacheableRequestPredicateBypassesCache(t *testing.T) {
	clock := cachevalue.NewTestClock(time.Unix(0, 0))
	e, _ := newEngine(t, fsm.Enabled(time.Minute, 0, fsm.DisabledLocks()), lockmanager.New(16), clock)

	e.RequestPredicates = predicate.Not(predicate.Neutral[subject.Request]())

	var calls int32
	upstream := func(_ context.Context, r testReq) (testRes, error) {
		atomic.AddInt32(&calls, 1)
		return testRes{Body: "bypassed"}, nil
	}

	res1, err := e.Run(context.Background(), testReq{Path: "/gated"}, upstream)
	require.NoError(t, err)
	assert.Equal(t, fsm.OutcomeBypass, res1.Outcome)

	res2, err := e.Run(context.Background(), testReq{Path: "/gated"}, upstream)
	require.NoError(t, err)
	assert.Equal(t, fsm.OutcomeBypass, res2.Outcome)

	assert.EqualValues(t, 2, atomic.LoadInt32(&calls), "non-cacheable requests must always reach upstream")
}

func TestResponsePredicateSuppressesWriteback(t *testing.T) {
	clock := cachevalue.NewTestClock(time.Unix(0, 0))
	e, _ := newEngine(t, fsm.Enabled(time.Minute, 0, fsm.DisabledLocks()), lockmanager.New(16), clock)

	e.ResponsePredicates = predicate.Not(predicate.Neutral[subject.Response]())

	var calls int32
	upstream := func(_ context.Context, r testReq) (testRes, error) {
		atomic.AddInt32(&calls, 1)
		return testRes{Body: "never-cached"}, nil
	}

	_, err := e.Run(context.Background(), testReq{Path: "/nc"}, upstream)
	require.NoError(t, err)
	_, err = e.Run(context.Background(), testReq{Path: "/nc"}, upstream)
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&calls), "every request must miss when the response predicate rejects writeback")
}

func TestDisabledPolicyBypassesEntirely(t *testing.T) {
	e, _ := newEngine(t, fsm.Disabled(), lockmanager.New(16), cachevalue.SystemClock{})

	var calls int32
	upstream := func(_ context.Context, r testReq) (testRes, error) {
		atomic.AddInt32(&calls, 1)
		return testRes{Body: "direct"}, nil
	}

	res, err := e.Run(context.Background(), testReq{Path: "/x"}, upstream)
	require.NoError(t, err)
	assert.Equal(t, fsm.OutcomeBypass, res.Outcome)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestUpstreamErrorIsPropagatedWithoutCaching(t *testing.T) {
	clock := cachevalue.NewTestClock(time.Unix(0, 0))
	e, _ := newEngine(t, fsm.Enabled(time.Minute, 0, fsm.DisabledLocks()), lockmanager.New(16), clock)

	boom := fmt.Errorf("upstream exploded")
	upstream := func(_ context.Context, r testReq) (testRes, error) {
		return testRes{}, boom
	}

	_, err := e.Run(context.Background(), testReq{Path: "/err"}, upstream)
	require.ErrorIs(t, err, boom)
}
