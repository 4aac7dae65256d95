package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBucket(capacity int, window time.Duration) (*TokenBucket, *time.Time) {
	b := NewTokenBucket(capacity, window)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }
	b.last = clock
	return b, &clock
}

func TestBucketNeverExceedsCapacityPerWindow(t *testing.T) {
	b, _ := newTestBucket(3, time.Minute)

	for i := 0; i < 3; i++ {
		require.True(t, b.Allow(), "withdrawal %d should pass", i)
	}
	// clock is frozen: nothing refilled, every further call must fail
	for i := 0; i < 10; i++ {
		assert.False(t, b.Allow())
	}
}

func TestBucketRefillsProportionally(t *testing.T) {
	b, clock := newTestBucket(60, time.Minute)

	for i := 0; i < 60; i++ {
		require.True(t, b.Allow())
	}
	require.False(t, b.Allow())

	// 10s at 60/min => 10 tokens back
	*clock = clock.Add(10 * time.Second)
	for i := 0; i < 10; i++ {
		require.True(t, b.Allow(), "refilled withdrawal %d", i)
	}
	assert.False(t, b.Allow())
}

func TestBucketRefillCappedAtCapacity(t *testing.T) {
	b, clock := newTestBucket(5, time.Minute)

	*clock = clock.Add(time.Hour)
	assert.Equal(t, 5, b.Available())
}

func TestBucketNonBlocking(t *testing.T) {
	b, _ := newTestBucket(1, time.Minute)

	require.True(t, b.Allow())
	start := time.Now()
	b.Allow()
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
