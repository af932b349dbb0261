// Package ratelimit implements the token-bucket admission gate for the
// lookup endpoint.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// TokenBucket is a single global bucket shared by all callers. Tokens
// accrue continuously at tokensPerMinute and are debited one per
// admitted request; the balance never exceeds capacity and never goes
// negative.
type TokenBucket struct {
	mu          sync.Mutex
	capacity    float64
	tokens      float64
	refillPerMs float64
	lastRefill  time.Time
	now         func() time.Time
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(capacity int, tokensPerMinute float64) *TokenBucket {
	b := &TokenBucket{
		capacity:    float64(capacity),
		tokens:      float64(capacity),
		refillPerMs: tokensPerMinute / 60000,
		now:         time.Now,
	}
	b.lastRefill = b.now()
	return b
}

// TryConsume refills the bucket for elapsed wall-clock time, then
// admits the caller if at least one full token is available.
func (b *TokenBucket) TryConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// RetryAfter returns the minimum wait guaranteed to yield at least one
// token, or zero if a token is already available.
func (b *TokenBucket) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.tokens >= 1 {
		return 0
	}

	ms := math.Ceil((1 - b.tokens) / b.refillPerMs)
	return time.Duration(ms) * time.Millisecond
}

// Capacity returns the configured bucket capacity.
func (b *TokenBucket) Capacity() int {
	return int(b.capacity)
}

// refillLocked credits tokens for elapsed time. Caller holds b.mu.
func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsedMs := float64(now.Sub(b.lastRefill)) / float64(time.Millisecond)

	b.tokens = math.Min(b.capacity, b.tokens+elapsedMs*b.refillPerMs)
	b.lastRefill = now
}
