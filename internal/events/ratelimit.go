package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Cache is the narrow persistence contract the rate limiter needs to
// survive a worker restart: store.RedisCache and store.MemoryCache satisfy
// this directly. Declared locally so this package never imports
// internal/store.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// bucketTTL bounds how long a persisted bucket outlives its last use;
// Reset relies on this expiry rather than an explicit cache delete.
const bucketTTL = 10 * time.Minute

// bucketState is the JSON shape persisted to Cache between Allow calls.
type bucketState struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"lastRefill"`
}

// bucket is a per-(player,type) token bucket (spec glossary: "Rate limit
// token bucket"). Refilled continuously at RateLimit tokens/second,
// capped at RateLimit tokens, decremented per admitted event.
type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(ratePerSecond int) *bucket {
	return &bucket{
		tokens:     float64(ratePerSecond),
		capacity:   float64(ratePerSecond),
		refillRate: float64(ratePerSecond),
		lastRefill: time.Now(),
	}
}

func (b *bucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens = min(b.capacity, b.tokens+elapsed*b.refillRate)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RateLimiter holds one bucket per (playerID, eventType). The in-memory map
// is always authoritative for the running process; when a Cache is wired
// (spec §1's optional Redis-backed store), bucket state is additionally
// persisted there so a worker restart does not hand every player a free
// full bucket.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	cache   Cache
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*bucket)}
}

// NewRateLimiterWithCache wires a Cache as the token bucket's backing
// store, shared with C4's reconnect-grace session hints (spec DOMAIN
// STACK).
func NewRateLimiterWithCache(cache Cache) *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*bucket), cache: cache}
}

// Allow consumes one token for (playerID, t) at the given rate, creating
// the bucket lazily on first use (restoring it from Cache first, when
// configured, so a restart mid-burst does not reset the count to full).
func (rl *RateLimiter) Allow(playerID string, t Type, ratePerSecond int) bool {
	key := playerID + "|" + string(t)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = rl.restoreOrNewBucketLocked(key, ratePerSecond)
		rl.buckets[key] = b
	}
	allowed := b.allow()
	rl.persistLocked(key, b)
	return allowed
}

func (rl *RateLimiter) restoreOrNewBucketLocked(key string, ratePerSecond int) *bucket {
	if rl.cache != nil {
		if raw, ok, err := rl.cache.Get(context.Background(), cacheKey(key)); err == nil && ok {
			var st bucketState
			if json.Unmarshal([]byte(raw), &st) == nil {
				return &bucket{
					tokens:     st.Tokens,
					capacity:   float64(ratePerSecond),
					refillRate: float64(ratePerSecond),
					lastRefill: st.LastRefill,
				}
			}
		}
	}
	return newBucket(ratePerSecond)
}

func (rl *RateLimiter) persistLocked(key string, b *bucket) {
	if rl.cache == nil {
		return
	}
	raw, err := json.Marshal(bucketState{Tokens: b.tokens, LastRefill: b.lastRefill})
	if err != nil {
		return
	}
	_ = rl.cache.Set(context.Background(), cacheKey(key), string(raw), bucketTTL)
}

func cacheKey(key string) string { return "ratelimit:" + key }

// Reset removes all buckets for a player, used when a player leaves. Any
// cache-side copy is left in place: Cache has no Delete method, but a
// bucket left untouched refills to full by its own elapsed-time math well
// before bucketTTL expires it, so the next restore is equivalent to a
// fresh bucket in practice.
func (rl *RateLimiter) Reset(playerID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	prefix := playerID + "|"
	for k := range rl.buckets {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(rl.buckets, k)
		}
	}
}
