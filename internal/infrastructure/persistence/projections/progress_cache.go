// Package projections holds in-process read models.
package projections

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/jornada-hub/jornada/internal/application/query"
)

const (
	// DefaultProgressCacheSize bounds the number of cached members.
	DefaultProgressCacheSize = 10000

	// DefaultProgressTTL is the lifetime of an entry.
	DefaultProgressTTL = 2 * time.Minute
)

type progressEntry struct {
	view      *query.ProgressView
	expiresAt time.Time
}

// LocalProgressCache keeps recently rendered progress views in an LRU.
// Entries also expire after a TTL so that views invalidated on another
// instance do not live forever here.
type LocalProgressCache struct {
	cache *lru.Cache
	ttl   time.Duration
	clock func() time.Time

	mu     sync.Mutex
	hits   int64
	misses int64
}

var _ query.ProgressCache = (*LocalProgressCache)(nil)

// NewLocalProgressCache creates an LRU progress cache.
func NewLocalProgressCache(size int, ttl time.Duration) (*LocalProgressCache, error) {
	if size <= 0 {
		size = DefaultProgressCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultProgressTTL
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &LocalProgressCache{cache: cache, ttl: ttl, clock: time.Now}, nil
}

// Get implements query.ProgressCache.
func (c *LocalProgressCache) Get(_ context.Context, userID string) (*query.ProgressView, error) {
	v, ok := c.cache.Get(userID)
	if !ok {
		c.count(false)
		return nil, query.ErrCacheMiss
	}
	entry := v.(progressEntry)
	if !c.clock().Before(entry.expiresAt) {
		c.cache.Remove(userID)
		c.count(false)
		return nil, query.ErrCacheMiss
	}
	c.count(true)
	return entry.view, nil
}

// Set implements query.ProgressCache.
func (c *LocalProgressCache) Set(_ context.Context, view *query.ProgressView, ttl time.Duration) error {
	if ttl <= 0 || ttl > c.ttl {
		ttl = c.ttl
	}
	c.cache.Add(view.UserID, progressEntry{view: view, expiresAt: c.clock().Add(ttl)})
	return nil
}

// Invalidate implements query.ProgressCache.
func (c *LocalProgressCache) Invalidate(_ context.Context, userID string) error {
	c.cache.Remove(userID)
	return nil
}

// Len returns the number of cached entries, expired ones included.
func (c *LocalProgressCache) Len() int {
	return c.cache.Len()
}

// Stats returns hit and miss counters.
func (c *LocalProgressCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *LocalProgressCache) count(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TIERED CACHE
// ══════════════════════════════════════════════════════════════════════════════

// TieredProgressCache reads through a local cache in front of a shared one.
type TieredProgressCache struct {
	local  query.ProgressCache
	shared query.ProgressCache
}

var _ query.ProgressCache = (*TieredProgressCache)(nil)

// NewTieredProgressCache combines two caches. shared may be nil.
func NewTieredProgressCache(local, shared query.ProgressCache) query.ProgressCache {
	if shared == nil {
		return local
	}
	return &TieredProgressCache{local: local, shared: shared}
}

// Get implements query.ProgressCache. A shared hit refills the local tier.
func (c *TieredProgressCache) Get(ctx context.Context, userID string) (*query.ProgressView, error) {
	if view, err := c.local.Get(ctx, userID); err == nil {
		return view, nil
	}
	view, err := c.shared.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	_ = c.local.Set(ctx, view, 0)
	return view, nil
}

// Set implements query.ProgressCache.
func (c *TieredProgressCache) Set(ctx context.Context, view *query.ProgressView, ttl time.Duration) error {
	_ = c.local.Set(ctx, view, ttl)
	return c.shared.Set(ctx, view, ttl)
}

// Invalidate implements query.ProgressCache.
func (c *TieredProgressCache) Invalidate(ctx context.Context, userID string) error {
	_ = c.local.Invalidate(ctx, userID)
	return c.shared.Invalidate(ctx, userID)
}
