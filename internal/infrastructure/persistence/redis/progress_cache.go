package redis

import (
	"context"
	"errors"
	"time"

	"github.com/jornada-hub/jornada/internal/application/query"
	"github.com/jornada-hub/jornada/pkg/circuitbreaker"
)

// ProgressCache stores progress views in Redis, shared by every instance.
type ProgressCache struct {
	cache   *Cache
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
}

var _ query.ProgressCache = (*ProgressCache)(nil)

// NewProgressCache creates a progress cache. A non-positive ttl uses
// TTLProgress. breaker may be nil.
func NewProgressCache(cache *Cache, ttl time.Duration, breaker *circuitbreaker.CircuitBreaker) *ProgressCache {
	if ttl <= 0 {
		ttl = TTLProgress
	}
	return &ProgressCache{cache: cache, ttl: ttl, breaker: breaker}
}

// IsCacheFailure reports whether err should count against the breaker.
// Misses and cancelled requests say nothing about Redis health.
func IsCacheFailure(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrCacheMiss) &&
		!errors.Is(err, context.Canceled)
}

func (c *ProgressCache) run(ctx context.Context, fn func(context.Context) error) error {
	if c.breaker == nil {
		return fn(ctx)
	}
	return c.breaker.Execute(ctx, fn)
}

// Get implements query.ProgressCache. An open breaker reads as a miss.
func (c *ProgressCache) Get(ctx context.Context, userID string) (*query.ProgressView, error) {
	var view query.ProgressView
	err := c.run(ctx, func(ctx context.Context) error {
		return c.cache.Get(ctx, ProgressKey(userID), &view)
	})
	switch {
	case err == nil:
		return &view, nil
	case errors.Is(err, ErrCacheMiss), circuitbreaker.Rejected(err):
		return nil, query.ErrCacheMiss
	default:
		return nil, err
	}
}

// Set implements query.ProgressCache. Writes are dropped while the breaker
// is open.
func (c *ProgressCache) Set(ctx context.Context, view *query.ProgressView, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	err := c.run(ctx, func(ctx context.Context) error {
		return c.cache.Set(ctx, ProgressKey(view.UserID), view, ttl)
	})
	if circuitbreaker.Rejected(err) {
		return nil
	}
	return err
}

// Invalidate implements query.ProgressCache. It reports an open breaker so
// the caller can log the skipped delete; the entry still expires with its TTL.
func (c *ProgressCache) Invalidate(ctx context.Context, userID string) error {
	return c.run(ctx, func(ctx context.Context) error {
		return c.cache.Delete(ctx, ProgressKey(userID))
	})
}
