// Package fsm implements the cache finite-state machine: the single driver
// operation that wires request predicates, key extraction, cache lookup,
// dogpile-preventing lock acquisition, upstream invocation, response
// classification, and backend writeback into one call per request.
package fsm

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/felipecampolina/cachemw/backend"
	"github.com/felipecampolina/cachemw/cachekey"
	"github.com/felipecampolina/cachemw/cachevalue"
	"github.com/felipecampolina/cachemw/extractor"
	"github.com/felipecampolina/cachemw/lockmanager"
	"github.com/felipecampolina/cachemw/predicate"
	"github.com/felipecampolina/cachemw/subject"
)

// Upstream is the callable the FSM invokes on a cache miss.
type Upstream[Req, Res any] func(ctx context.Context, req Req) (Res, error)

// Engine wires one endpoint's full configuration together. Req is the
// caller's request type, Res its response type, Cached the serializable
// projection of Res persisted to the backend.
type Engine[Req, Res, Cached any] struct {
	Policy      PolicyConfig
	Backend     backend.Typed[Cached]
	LockManager *lockmanager.Manager
	Clock       cachevalue.Clock
	Logger      zerolog.Logger

	RequestPredicates  predicate.Predicate[subject.Request]
	ResponsePredicates predicate.Predicate[subject.Response]
	Extractor          extractor.Extractor[subject.Request]
	KeyPrefix          string
	KeyVersion         uint32

	// ToRequestSubject/FromRequestSubject adapt the caller's Req type to
	// and from the transport-neutral subject.Request the predicate and
	// extractor pipelines operate over. FromRequestSubject rebuilds Req
	// around a (possibly newly buffered) body after predicates/extractors
	// have run.
	ToRequestSubject   func(Req) subject.Request
	FromRequestSubject func(Req, subject.Request) Req

	// ToResponseSubject adapts Res to the response-predicate subject.
	ToResponseSubject func(Res) subject.Response
	// IntoCached reduces a live Res to its persisted Cached form.
	IntoCached func(Res) Cached
	// FromCached reconstructs a live Res from a persisted Cached form.
	FromCached func(Cached) Res

	// OnCacheWriteError is an optional observability hook invoked when a
	// backend write fails; writes are best-effort and never fail the
	// request.
	OnCacheWriteError func(err error)
}

func (e *Engine[Req, Res, Cached]) clock() cachevalue.Clock {
	if e.Clock != nil {
		return e.Clock
	}
	return cachevalue.SystemClock{}
}

func (e *Engine[Req, Res, Cached]) ttlHint() *time.Duration {
	if e.Policy.TTL <= 0 {
		return nil
	}
	d := e.Policy.TTL
	return &d
}

// Outcome describes how the FSM terminated, for observability.
type Outcome int

const (
	// OutcomeBypass means the request/policy made this request ineligible
	// for caching; the upstream was called (or not) without any cache
	// interaction.
	OutcomeBypass Outcome = iota
	// OutcomeHit means a fresh (Actual) cached value was served.
	OutcomeHit
	// OutcomeStaleHit means a Stale cached value was served while a
	// revalidation was triggered.
	OutcomeStaleHit
	// OutcomeMiss means upstream was invoked and its response classified.
	OutcomeMiss
)

// Result is what Run returns: the response to give the caller plus the
// terminal Outcome for observability.
type Result[Res any] struct {
	Response Res
	Outcome  Outcome
}

// Run drives req through the full FSM and returns the response to give the
// caller.
func (e *Engine[Req, Res, Cached]) Run(ctx context.Context, req Req, upstream Upstream[Req, Res]) (Result[Res], error) {
	// Initial
	if !e.Policy.Enabled {
		res, err := upstream(ctx, req)
		return Result[Res]{Response: res, Outcome: OutcomeBypass}, err
	}

	// CheckRequestCachePolicy
	reqSubject := e.ToRequestSubject(req)
	predResult, err := e.checkRequestPredicates(ctx, reqSubject)
	if err != nil {
		e.Logger.Debug().Err(err).Msg("request predicate evaluation error, treating as non-cacheable")
	}
	req = e.FromRequestSubject(req, predResult.Subject)
	if predResult.Outcome == predicate.NonCacheable {
		res, err := upstream(ctx, req)
		return Result[Res]{Response: res, Outcome: OutcomeBypass}, err
	}

	key, err := extractor.BuildKey(ctx, e.Extractor, predResult.Subject, e.KeyPrefix, e.KeyVersion)
	if err != nil {
		e.Logger.Debug().Err(err).Msg("key extraction error, bypassing cache")
		res, err := upstream(ctx, req)
		return Result[Res]{Response: res, Outcome: OutcomeBypass}, err
	}

	// PollCache
	cv, err := e.Backend.Read(ctx, key)
	if err != nil {
		e.Logger.Debug().Err(err).Msg("backend read error, treating as miss")
		cv = nil
	}

	now := e.clock().Now()
	if cv != nil {
		state := cachevalue.Classify(*cv, now)
		switch state.Kind {
		case cachevalue.Actual:
			return Result[Res]{Response: e.FromCached(state.Data), Outcome: OutcomeHit}, nil
		case cachevalue.StaleState:
			return e.handleStale(ctx, key, req, upstream, state.Data)
		case cachevalue.Expired:
			return e.fetchWithLock(ctx, key, req, upstream)
		}
	}
	// Miss
	return e.fetchWithLock(ctx, key, req, upstream)
}

func (e *Engine[Req, Res, Cached]) checkRequestPredicates(ctx context.Context, s subject.Request) (predicate.Result[subject.Request], error) {
	if e.RequestPredicates == nil {
		return predicate.Result[subject.Request]{Outcome: predicate.Cacheable, Subject: s}, nil
	}
	res, err := e.RequestPredicates.Check(ctx, s)
	if err != nil {
		return predicate.Result[subject.Request]{Outcome: predicate.NonCacheable, Subject: s}, err
	}
	return res, nil
}

// handleStale implements CheckCacheState's Stale branch: serve the stale
// value immediately, and trigger a revalidation either gated by the lock
// (if enabled) or as an independent detached goroutine (if locks disabled).
func (e *Engine[Req, Res, Cached]) handleStale(ctx context.Context, key cachekey.CacheKey, req Req, upstream Upstream[Req, Res], stale Cached) (Result[Res], error) {
	keyStr := key.String()
	revalidate := func() {
		bg := context.Background()
		if e.Policy.Locks.Enabled {
			permit, ok := e.LockManager.TryAcquire(keyStr, e.Policy.Locks.Concurrency)
			if !ok {
				return // another revalidation already in flight
			}
			defer permit.Release()
			e.runUpstreamAndWriteback(bg, key, req, upstream)
			return
		}
		// Locks disabled: multiple stale hits for the same key each spawn
		// their own revalidate goroutine. If the backend exposes Coalesce,
		// fold concurrent revalidations for this key into a single
		// upstream call instead of letting every one of them fetch and
		// write back independently.
		if c, ok := e.Backend.Backend.(backend.Coalescer); ok {
			c.Coalesce(keyStr, func() (any, error) {
				_, err := e.runUpstreamAndWriteback(bg, key, req, upstream)
				return nil, err
			})
			return
		}
		e.runUpstreamAndWriteback(bg, key, req, upstream)
	}
	go revalidate()
	return Result[Res]{Response: e.FromCached(stale), Outcome: OutcomeStaleHit}, nil
}

// fetchWithLock implements TryAcquireLock / WaitForLock / CheckCacheAfterWait
// / PollUpstream for the Miss and Expired paths.
func (e *Engine[Req, Res, Cached]) fetchWithLock(ctx context.Context, key cachekey.CacheKey, req Req, upstream Upstream[Req, Res]) (Result[Res], error) {
	if !e.Policy.Locks.Enabled {
		res, err := e.runUpstreamAndWriteback(ctx, key, req, upstream)
		return Result[Res]{Response: res, Outcome: OutcomeMiss}, err
	}

	keyStr := key.String()
	permit, ok := e.LockManager.TryAcquire(keyStr, e.Policy.Locks.Concurrency)
	if ok {
		defer permit.Release()
		res, err := e.runUpstreamAndWriteback(ctx, key, req, upstream)
		return Result[Res]{Response: res, Outcome: OutcomeMiss}, err
	}

	return e.waitForLock(ctx, key, req, upstream)
}

// waitForLock implements WaitForLock: race a broadcast subscription against
// acquiring the permit ourselves.
func (e *Engine[Req, Res, Cached]) waitForLock(ctx context.Context, key cachekey.CacheKey, req Req, upstream Upstream[Req, Res]) (Result[Res], error) {
	keyStr := key.String()
	broadcastCh := lockmanager.Subscribe[Cached](e.LockManager, keyStr)

	acquireCh := make(chan *lockmanager.Permit, 1)
	acquireErrCh := make(chan error, 1)
	acquireCtx, cancelAcquire := context.WithCancel(ctx)
	defer cancelAcquire()
	go func() {
		permit, err := e.LockManager.Acquire(acquireCtx, keyStr, e.Policy.Locks.Concurrency)
		if err != nil {
			acquireErrCh <- err
			return
		}
		acquireCh <- permit
	}()

	select {
	case cached, ok := <-broadcastCh:
		cancelAcquire()
		// A permit the acquire goroutine may still win is handed straight back.
		go func() {
			select {
			case p := <-acquireCh:
				p.Release()
			case <-acquireErrCh:
			}
		}()
		if ok {
			return Result[Res]{Response: e.FromCached(cached), Outcome: OutcomeHit}, nil
		}
		// BroadcastClosed: re-read backend, then re-contend.
		return e.checkCacheAfterBroadcastFailure(ctx, key, req, upstream)
	case permit := <-acquireCh:
		return e.checkCacheAfterWait(ctx, key, permit, req, upstream)
	case <-acquireErrCh:
		// LockClosed: bypass lock, go straight to upstream.
		res, err := e.runUpstreamAndWriteback(ctx, key, req, upstream)
		return Result[Res]{Response: res, Outcome: OutcomeMiss}, err
	}
}

func (e *Engine[Req, Res, Cached]) checkCacheAfterWait(ctx context.Context, key cachekey.CacheKey, permit *lockmanager.Permit, req Req, upstream Upstream[Req, Res]) (Result[Res], error) {
	cv, err := e.Backend.Read(ctx, key)
	if err == nil && cv != nil {
		state := cachevalue.Classify(*cv, e.clock().Now())
		if state.Kind == cachevalue.Actual {
			permit.Release()
			return Result[Res]{Response: e.FromCached(state.Data), Outcome: OutcomeHit}, nil
		}
	}
	defer permit.Release()
	res, err2 := e.runUpstreamAndWriteback(ctx, key, req, upstream)
	return Result[Res]{Response: res, Outcome: OutcomeMiss}, err2
}

func (e *Engine[Req, Res, Cached]) checkCacheAfterBroadcastFailure(ctx context.Context, key cachekey.CacheKey, req Req, upstream Upstream[Req, Res]) (Result[Res], error) {
	cv, err := e.Backend.Read(ctx, key)
	if err == nil && cv != nil {
		state := cachevalue.Classify(*cv, e.clock().Now())
		if state.Kind == cachevalue.Actual {
			return Result[Res]{Response: e.FromCached(state.Data), Outcome: OutcomeHit}, nil
		}
	}
	return e.fetchWithLock(ctx, key, req, upstream)
}

// runUpstreamAndWriteback implements PollUpstream / UpstreamPolled /
// UpdateCache: call upstream, classify the response, and if cacheable,
// write it back and broadcast before returning the live response.
func (e *Engine[Req, Res, Cached]) runUpstreamAndWriteback(ctx context.Context, key cachekey.CacheKey, req Req, upstream Upstream[Req, Res]) (Res, error) {
	res, err := upstream(ctx, req)
	if err != nil {
		return res, err
	}

	if e.ResponsePredicates != nil {
		respSubject := e.ToResponseSubject(res)
		predResult, perr := e.ResponsePredicates.Check(ctx, respSubject)
		if perr != nil || predResult.Outcome == predicate.NonCacheable {
			return res, nil
		}
	}

	cached := e.IntoCached(res)
	now := e.clock().Now()
	cv := cachevalue.CacheValue[Cached]{Data: cached}
	// Policy.TTL is the freshness duration; Policy.StaleTTL is the extra
	// grace window's length once freshness ends. Stale must precede Expire
	// (cachevalue.CacheValue's invariant), so Expire stacks both durations.
	if e.Policy.TTL > 0 {
		stale := now.Add(e.Policy.TTL)
		cv.Stale = &stale
		expire := stale
		if e.Policy.StaleTTL > 0 {
			expire = stale.Add(e.Policy.StaleTTL)
		}
		cv.Expire = &expire
	}

	keyStr := key.String()
	// Detach the writeback so caller cancellation doesn't lose the write.
	done := make(chan struct{})
	go func() {
		defer close(done)
		bg := context.Background()
		if werr := e.Backend.Write(bg, key, cv, e.ttlHint()); werr != nil {
			if e.OnCacheWriteError != nil {
				e.OnCacheWriteError(werr)
			}
			e.Logger.Warn().Err(werr).Str("key", keyStr).Msg("cache backend write failed")
		}
		if e.Policy.Locks.Enabled {
			lockmanager.BroadcastResponse[Cached](e.LockManager, keyStr, cached)
		}
	}()
	<-done

	return res, nil
}
