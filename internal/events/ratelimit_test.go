package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	mu    sync.Mutex
	items map[string]string
}

func newFakeCache() *fakeCache { return &fakeCache{items: make(map[string]string)} }

func (c *fakeCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
	return nil
}

func TestRateLimiterAllowsUpToCapacityThenBlocks(t *testing.T) {
	rl := NewRateLimiter()
	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("p1", TypePing, 3), "token %d should be allowed", i)
	}
	assert.False(t, rl.Allow("p1", TypePing, 3), "fourth token within the same instant should be rejected")
}

func TestRateLimiterTracksPerPlayerAndPerTypeIndependently(t *testing.T) {
	rl := NewRateLimiter()
	assert.True(t, rl.Allow("p1", TypePing, 1))
	assert.False(t, rl.Allow("p1", TypePing, 1), "p1's bucket for TypePing is exhausted")
	assert.True(t, rl.Allow("p2", TypePing, 1), "a different player gets its own bucket")
	assert.True(t, rl.Allow("p1", TypeChatMessage, 1), "a different event type gets its own bucket")
}

func TestRateLimiterResetClearsAllBucketsForPlayer(t *testing.T) {
	rl := NewRateLimiter()
	assert.True(t, rl.Allow("p1", TypePing, 1))
	assert.False(t, rl.Allow("p1", TypePing, 1))

	rl.Reset("p1")
	assert.True(t, rl.Allow("p1", TypePing, 1), "bucket should be recreated with full capacity after Reset")
}

func TestRateLimiterWithCachePersistsBucketStateAcrossInstances(t *testing.T) {
	cache := newFakeCache()

	first := NewRateLimiterWithCache(cache)
	for i := 0; i < 3; i++ {
		require.True(t, first.Allow("p1", TypePing, 3))
	}
	require.False(t, first.Allow("p1", TypePing, 3), "exhausted before handing off to a fresh instance")

	second := NewRateLimiterWithCache(cache)
	assert.False(t, second.Allow("p1", TypePing, 3), "a fresh process should restore the exhausted bucket from Cache rather than starting full")
}

func TestRateLimiterWithoutCacheStartsFreshEveryInstance(t *testing.T) {
	first := NewRateLimiter()
	require.True(t, first.Allow("p1", TypePing, 1))
	require.False(t, first.Allow("p1", TypePing, 1))

	second := NewRateLimiter()
	assert.True(t, second.Allow("p1", TypePing, 1), "with no Cache wired, a new instance has no memory of the old one")
}
