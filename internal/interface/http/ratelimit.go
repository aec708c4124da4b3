package http

import (
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// rateLimiter is a token bucket per client key. Buckets live in an LRU so
// memory stays bounded under many distinct clients; an evicted client simply
// starts again with a full bucket.
type rateLimiter struct {
	mu      sync.Mutex
	buckets *lru.Cache
	burst   float64
	perSec  float64
	now     func() time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

func newRateLimiter(limit int, window time.Duration, maxClients int) *rateLimiter {
	// lru.New only fails on a non-positive size.
	buckets, _ := lru.New(max(maxClients, 1))
	return &rateLimiter{
		buckets: buckets,
		burst:   float64(limit),
		perSec:  float64(limit) / window.Seconds(),
		now:     time.Now,
	}
}

// Allow takes a token for key. When none is left it reports how long until
// the next one.
func (rl *rateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b := &bucket{tokens: rl.burst, seen: now}
	if v, ok := rl.buckets.Get(key); ok {
		b = v.(*bucket)
		elapsed := now.Sub(b.seen).Seconds()
		b.tokens = math.Min(rl.burst, b.tokens+elapsed*rl.perSec)
		b.seen = now
	} else {
		rl.buckets.Add(key, b)
	}

	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) / rl.perSec * float64(time.Second))
		return false, wait
	}
	b.tokens--
	return true, 0
}
