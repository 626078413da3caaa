package cachemanager

import (
	"context"
	"sync/atomic"
	"time"
)

// Stats counts read-through lookups.
type Stats struct {
	Hits   int64
	Misses int64
}

// ReadThroughCache computes values with load on a miss and stores them.
// Errors are never cached. With bypass set every call loads.
type ReadThroughCache[K comparable, V any, I any] struct {
	cache  CacheManager[K, V]
	load   func(ctx context.Context, input I) (V, error)
	bypass bool

	hits, misses atomic.Int64
}

// NewReadThroughCache wraps cache with the loader load.
func NewReadThroughCache[K comparable, V any, I any](
	cache CacheManager[K, V],
	load func(ctx context.Context, input I) (V, error),
	bypass bool,
) *ReadThroughCache[K, V, I] {
	return &ReadThroughCache[K, V, I]{cache: cache, load: load, bypass: bypass}
}

// Get returns the cached value for key, loading it from input on a miss.
func (r *ReadThroughCache[K, V, I]) Get(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	return r.get(ctx, key, input, ttl, r.cache.Get)
}

// GetWithRefresh is Get, but a hit also extends the entry's lifetime.
func (r *ReadThroughCache[K, V, I]) GetWithRefresh(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	return r.get(ctx, key, input, ttl, func(ctx context.Context, key K) (V, bool) {
		return r.cache.GetWithRefresh(ctx, key, ttl)
	})
}

// Stats reports hits and misses so far. Bypassed calls count as misses.
func (r *ReadThroughCache[K, V, I]) Stats() Stats {
	return Stats{Hits: r.hits.Load(), Misses: r.misses.Load()}
}

func (r *ReadThroughCache[K, V, I]) get(ctx context.Context, key K, input I, ttl time.Duration, lookup func(context.Context, K) (V, bool)) (V, error) {
	if !r.bypass {
		if v, ok := lookup(ctx, key); ok {
			r.hits.Add(1)
			return v, nil
		}
	}
	r.misses.Add(1)

	v, err := r.load(ctx, input)
	if err != nil || r.bypass {
		return v, err
	}
	r.cache.Set(ctx, key, v, ttl)
	return v, nil
}
