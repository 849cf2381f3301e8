// Package lockmanager implements per-key dogpile prevention: a bounded
// semaphore limits concurrent upstream fetches for one cache key, and a
// broadcast mechanism delivers the fetcher's result to any waiters without a
// second backend read. Both the semaphore map and the broadcast map are
// LRU-bounded so idle keys don't leak memory.
//
// Semaphores and broadcast channels are stored in separate LRU caches
// keyed by the cache key's string form, and the broadcast map is
// type-erased (stored as `any`, type-asserted back to the concrete Cached
// type at Subscribe/BroadcastResponse time).
package lockmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"
)

// ErrLockClosed is returned by Acquire when ctx is cancelled before a permit
// becomes available.
var ErrLockClosed = errors.New("lockmanager: lock closed")

// Permit represents a held concurrency slot for a key. Release MUST be
// called exactly once, typically via defer.
type Permit struct {
	sem      *semaphore.Weighted
	released bool
	mu       sync.Mutex
}

// Release frees the held slot. Calling Release more than once is a no-op.
func (p *Permit) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	p.released = true
	p.sem.Release(1)
}

// broadcaster is the type-erased value stored per key in the broadcast LRU.
// done is closed exactly once by the first successful BroadcastResponse
// call; value is readable by every subscriber (before or after close)
// because Go guarantees a value write happens-before a channel close is
// observed by a receiver.
type broadcaster struct {
	mu    sync.Mutex
	done  chan struct{}
	value any
	sent  bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{done: make(chan struct{})}
}

// Manager owns the two LRU-bounded per-key maps: semaphores and broadcast
// registries.
type Manager struct {
	mu          sync.Mutex
	semaphores  *lru.Cache[string, *semaphore.Weighted]
	broadcasts  *lru.Cache[string, *broadcaster]
	capacity    int
}

// New builds a Manager whose two LRU maps each hold up to capacity entries.
// Panics if capacity <= 0.
func New(capacity int) *Manager {
	if capacity <= 0 {
		panic("lockmanager: capacity must be positive")
	}
	sems, err := lru.New[string, *semaphore.Weighted](capacity)
	if err != nil {
		panic(err)
	}
	bcs, err := lru.New[string, *broadcaster](capacity)
	if err != nil {
		panic(err)
	}
	return &Manager{semaphores: sems, broadcasts: bcs, capacity: capacity}
}

// getSemaphore returns (creating if absent) the semaphore for key, sized to
// concurrency permits. Once created for a key, the configured concurrency
// is fixed for that semaphore's lifetime; callers SHOULD use a single
// concurrency value per key for the life of the process (semaphores are
// keyed by the cache key only, not by concurrency).
func (m *Manager) getSemaphore(key string, concurrency int64) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sem, ok := m.semaphores.Get(key); ok {
		return sem
	}
	sem := semaphore.NewWeighted(concurrency)
	m.semaphores.Add(key, sem)
	return sem
}

// TryAcquire attempts to acquire a permit for key without blocking.
func (m *Manager) TryAcquire(key string, concurrency int) (*Permit, bool) {
	sem := m.getSemaphore(key, int64(concurrency))
	if !sem.TryAcquire(1) {
		return nil, false
	}
	return &Permit{sem: sem}, true
}

// Acquire blocks until a permit for key is available or ctx is done.
func (m *Manager) Acquire(ctx context.Context, key string, concurrency int) (*Permit, error) {
	sem := m.getSemaphore(key, int64(concurrency))
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockClosed, err)
	}
	return &Permit{sem: sem}, nil
}

// getOrCreateBroadcaster returns (creating if absent) the broadcaster for key.
func (m *Manager) getOrCreateBroadcaster(key string) *broadcaster {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.broadcasts.Get(key); ok {
		return b
	}
	b := newBroadcaster()
	m.broadcasts.Add(key, b)
	return b
}

// Subscribe returns a channel that receives exactly one value of type
// Cached when the fetcher holding the lock for key calls BroadcastResponse,
// and is then closed. If the broadcaster is evicted from the LRU or replaced
// before a broadcast, the channel is neither sent to nor closed; a caller
// that must not block forever also waits on something else (the FSM waits
// on its own Acquire as well).
//
// If the broadcast value is not of type Cached (the same cache key used by
// two endpoints with different response types), the goroutine delivering it
// panics when the value arrives; Subscribe itself does not check the type.
func Subscribe[Cached any](m *Manager, key string) <-chan Cached {
	b := m.getOrCreateBroadcaster(key)
	ch := make(chan Cached, 1)
	go func() {
		<-b.done
		b.mu.Lock()
		v, sent := b.value, b.sent
		b.mu.Unlock()
		if !sent {
			close(ch)
			return
		}
		cached, ok := v.(Cached)
		if !ok {
			panic(fmt.Sprintf("lockmanager: broadcast type mismatch for key %q: stored %T, requested %T", key, v, cached))
		}
		ch <- cached
		close(ch)
	}()
	return ch
}

// BroadcastResponse delivers value to every subscriber of key's current
// broadcaster, then removes that broadcaster from the registry, so a later
// Subscribe for key gets a fresh, unfired broadcaster and does not see this
// value. A call that finds a broadcaster already fired sends nothing.
func BroadcastResponse[Cached any](m *Manager, key string, value Cached) {
	b := m.getOrCreateBroadcaster(key)
	b.mu.Lock()
	if b.sent {
		b.mu.Unlock()
		return
	}
	b.value = value
	b.sent = true
	b.mu.Unlock()
	close(b.done)
	// Replace the registry entry so the next round of waiters for this key
	// (after this fetch cycle fully completes) gets a fresh broadcaster
	// rather than one that has already fired.
	m.mu.Lock()
	m.broadcasts.Remove(key)
	m.mu.Unlock()
}
