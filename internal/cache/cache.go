// Package cache provides the TTL result cache shared by the embedding
// generator and the search service.
//
// Entries expire lazily: an expired entry is treated as a miss and dropped
// on the next read. Concurrent misses for the same key are collapsed with
// single-flight, so at most one computation per key runs at a time.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	terrors "github.com/MacroAcon/tavren/internal/errors"
)

// DefaultSize is the entry capacity used when none is configured.
const DefaultSize = 1000

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a size-bounded TTL cache with single-flight computation.
// It is safe for concurrent use.
type Cache[V any] struct {
	name    string
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger

	entries *lru.Cache[string, entry[V]]
	flights singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// WithComputeTimeout bounds each computation started by GetOrCompute.
// Zero (the default) leaves the computation unbounded.
func WithComputeTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger used for flight diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates a cache holding up to size entries for ttl each.
// A non-positive ttl stores nothing, turning the cache into a pure
// single-flight deduplicator.
func New[V any](name string, size int, ttl time.Duration, opts ...Option) (*Cache[V], error) {
	o := options{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if size <= 0 {
		size = DefaultSize
	}

	entries, err := lru.New[string, entry[V]](size)
	if err != nil {
		return nil, fmt.Errorf("create %s cache: %w", name, err)
	}

	return &Cache[V]{
		name:    name,
		ttl:     ttl,
		timeout: o.timeout,
		now:     o.now,
		logger:  o.logger,
		entries: entries,
	}, nil
}

// Name returns the cache name.
func (c *Cache[V]) Name() string { return c.name }

// Get returns a live entry. Expired entries are removed and reported as absent.
func (c *Cache[V]) Get(key string) (V, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		c.entries.Remove(key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for the cache TTL.
func (c *Cache[V]) Set(key string, value V) {
	if c.ttl <= 0 {
		return
	}
	c.entries.Add(key, entry[V]{value: value, expiresAt: c.now().Add(c.ttl)})
}

// Len returns the number of stored entries, including not yet evicted expired ones.
func (c *Cache[V]) Len() int { return c.entries.Len() }

// Purge drops every entry.
func (c *Cache[V]) Purge() { c.entries.Purge() }

// Stats returns hit and miss counts since creation.
func (c *Cache[V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// GetOrCompute returns the cached value for key, computing it with fn on a miss.
//
// Concurrent callers with the same key share one in-flight computation.
// When it fails every waiter receives the error and the key is released,
// so the next caller starts a fresh computation. A caller whose ctx ends
// while waiting detaches with a retryable error; the computation keeps
// running under a context that is not cancelled with the caller and still
// populates the cache.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	start := c.now()
	ch := c.flights.DoChan(key, func() (any, error) {
		// A flight that finished between our Get and DoChan may have filled the entry.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		return c.compute(ctx, key, fn)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	case <-ctx.Done():
		var zero V
		elapsed := c.now().Sub(start)
		c.logger.Debug("cache_waiter_detached",
			slog.String("cache", c.name),
			slog.Int64("elapsed_ms", elapsed.Milliseconds()))
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, terrors.Timeout(c.name+".wait", elapsed, ctx.Err())
		}
		return zero, ctx.Err()
	}
}

// compute runs fn detached from the first caller's cancellation, bounded by
// the compute timeout, and stores a successful result.
func (c *Cache[V]) compute(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (value V, err error) {
	cctx := context.WithoutCancel(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(cctx, c.timeout)
		defer cancel()
	}

	start := c.now()
	defer func() {
		if r := recover(); r != nil {
			err = terrors.InternalError(fmt.Sprintf("%s computation panicked: %v", c.name, r), nil)
		}
	}()

	value, err = fn(cctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !terrors.IsRetryable(err) {
			err = terrors.Timeout(c.name+".compute", c.now().Sub(start), err)
		}
		return value, err
	}

	c.Set(key, value)
	return value, nil
}

// Key derives a deterministic cache key from an operation name and its
// normalized parameters.
func Key(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h[:])
}
