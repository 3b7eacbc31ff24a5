package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheGetMissReturnsFalse(t *testing.T) {
	c := NewMemoryCache()
	_, ok, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheSetThenGetRoundTrips(t *testing.T) {
	c := NewMemoryCache()
	require.NoError(t, c.Set(context.Background(), "k", "v", 0))

	val, ok, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)
}

func TestMemoryCacheEntryExpiresAfterTTL(t *testing.T) {
	c := NewMemoryCache()
	require.NoError(t, c.Set(context.Background(), "k", "v", 10*time.Millisecond))

	time.Sleep(20 * time.Millisecond)
	_, ok, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry should have expired")
}

func TestMemoryCacheIncrStartsAtOneAndAccumulates(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	n, err := c.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemoryCacheIncrResetsAfterExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	_, err := c.Incr(ctx, "counter", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	n, err := c.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "an expired counter restarts from 1 rather than continuing the old streak")
}
