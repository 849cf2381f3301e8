// Package memory provides a reference in-memory LRU backend implementing
// backend.Backend. It is a reference/test implementation, not a production
// backend: concrete production backends are explicitly out of scope.
package memory

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/felipecampolina/cachemw/backend"
	"github.com/felipecampolina/cachemw/cachekey"
	"github.com/felipecampolina/cachemw/cachevalue"
	"github.com/felipecampolina/cachemw/cachevalue/compressor"
)

// Backend is an LRU-bounded, in-process cache backend. It owns a
// compressor and key/value format selection, and exposes an internal
// singleflight.Group that revalidation callers MAY use to dampen redundant
// concurrent writes for the same key. This is a backend-local storm
// dampener, not a substitute for the FSM's lock manager.
type Backend struct {
	entries     *lru.Cache[string, cachevalue.CacheValue[[]byte]]
	keyFormat   cachekey.CacheKeyFormat
	valueFormat backend.ValueFormat
	compressor  compressor.Compressor
	group       singleflight.Group
}

// Option configures a Backend at construction time.
type Option func(*Backend)

// WithKeyFormat overrides the default key format (UrlEncoded).
func WithKeyFormat(f cachekey.CacheKeyFormat) Option {
	return func(b *Backend) { b.keyFormat = f }
}

// WithValueFormat overrides the default value format (JSONValue).
func WithValueFormat(f backend.ValueFormat) Option {
	return func(b *Backend) { b.valueFormat = f }
}

// WithCompressor overrides the default compressor (Passthrough).
func WithCompressor(c compressor.Compressor) Option {
	return func(b *Backend) { b.compressor = c }
}

// New builds a Backend with the given LRU capacity (number of entries).
// Panics if capacity <= 0, matching the lock manager's construction rule.
func New(capacity int, opts ...Option) *Backend {
	if capacity <= 0 {
		panic("memory: capacity must be positive")
	}
	cache, err := lru.New[string, cachevalue.CacheValue[[]byte]](capacity)
	if err != nil {
		panic(err)
	}
	b := &Backend{
		entries:     cache,
		keyFormat:   cachekey.UrlEncoded,
		valueFormat: backend.JSONValue,
		compressor:  compressor.Passthrough{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Read implements backend.Backend.
func (b *Backend) Read(_ context.Context, key cachekey.CacheKey) (*cachevalue.CacheValue[[]byte], error) {
	cv, ok := b.entries.Get(key.String())
	if !ok {
		return nil, nil
	}
	return &cv, nil
}

// Write implements backend.Backend. When value.Expire is nil and ttlHint is
// set, Expire is recorded as now+ttlHint. Entries are not removed when
// Expire passes: only the LRU capacity bound evicts them, and Read returns
// an entry whatever its Expire.
func (b *Backend) Write(_ context.Context, key cachekey.CacheKey, value cachevalue.CacheValue[[]byte], ttlHint *time.Duration) error {
	if value.Expire == nil && ttlHint != nil {
		exp := time.Now().Add(*ttlHint)
		value.Expire = &exp
	}
	b.entries.Add(key.String(), value)
	return nil
}

// Remove implements backend.Backend.
func (b *Backend) Remove(_ context.Context, key cachekey.CacheKey) (backend.DeleteStatus, error) {
	present := b.entries.Contains(key.String())
	b.entries.Remove(key.String())
	if present {
		return backend.Deleted, nil
	}
	return backend.Missing, nil
}

// KeyFormat implements backend.Backend.
func (b *Backend) KeyFormat() cachekey.CacheKeyFormat { return b.keyFormat }

// ValueFormat implements backend.Backend.
func (b *Backend) ValueFormat() backend.ValueFormat { return b.valueFormat }

// Compressor implements backend.Backend.
func (b *Backend) Compressor() compressor.Compressor { return b.compressor }

// Coalesce runs fn at most once concurrently per key, sharing its result
// (and error) with all concurrent callers for that key. It is intended for
// revalidation paths under stale-while-revalidate with locks disabled,
// where multiple independent goroutines might otherwise race to write the
// same freshly-fetched value.
func (b *Backend) Coalesce(key string, fn func() (any, error)) (any, error, bool) {
	v, err, shared := b.group.Do(key, fn)
	return v, err, shared
}
