package ratelimit

import (
	"math"
	"sync"
	"time"
)

// TokenBucket is a non-blocking, in-process admission gate. Capacity tokens
// refill over one window; refill and withdrawal happen under the same lock so
// concurrent callers cannot double-spend. Each channel dispatcher owns its
// own bucket.
type TokenBucket struct {
	mu       sync.Mutex
	capacity float64
	window   time.Duration
	tokens   float64
	last     time.Time
	now      func() time.Time
}

// NewTokenBucket returns a full bucket allowing capacity withdrawals per window.
func NewTokenBucket(capacity int, window time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	b := &TokenBucket{
		capacity: float64(capacity),
		window:   window,
		tokens:   float64(capacity),
		now:      time.Now,
	}
	b.last = b.now()
	return b
}

// Allow withdraws one token if available. It never blocks; the caller defers
// to a later cycle when it returns false.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Available reports the current token count after refill (diagnostics only).
func (b *TokenBucket) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	return int(b.tokens)
}

// refill adds tokens proportional to elapsed wall clock, capped at capacity.
// Callers must hold mu.
func (b *TokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(b.capacity, b.tokens+b.capacity*float64(elapsed)/float64(b.window))
	b.last = now
}
