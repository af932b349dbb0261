package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock drives the bucket deterministically.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestBucket(capacity int, tokensPerMinute float64) (*TokenBucket, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := NewTokenBucket(capacity, tokensPerMinute)
	b.now = clock.Now
	b.lastRefill = clock.now
	return b, clock
}

func TestTryConsume(t *testing.T) {
	t.Run("admits up to capacity instantaneously", func(t *testing.T) {
		b, _ := newTestBucket(25, 25)

		for i := 0; i < 25; i++ {
			assert.True(t, b.TryConsume(), "request %d should be admitted", i+1)
		}
		assert.False(t, b.TryConsume(), "26th request should be rejected")
	})

	t.Run("tokens never go negative", func(t *testing.T) {
		b, _ := newTestBucket(2, 25)

		b.TryConsume()
		b.TryConsume()
		b.TryConsume()
		b.TryConsume()

		assert.GreaterOrEqual(t, b.tokens, 0.0)
	})

	t.Run("refill never exceeds capacity", func(t *testing.T) {
		b, clock := newTestBucket(25, 25)

		clock.Advance(24 * time.Hour)
		b.TryConsume()

		assert.LessOrEqual(t, b.tokens, 25.0)
	})

	t.Run("admits again after refill interval", func(t *testing.T) {
		b, clock := newTestBucket(1, 60) // one token per second

		assert.True(t, b.TryConsume())
		assert.False(t, b.TryConsume())

		clock.Advance(time.Second)
		assert.True(t, b.TryConsume())
	})
}

func TestRetryAfter(t *testing.T) {
	t.Run("zero when a token is available", func(t *testing.T) {
		b, _ := newTestBucket(25, 25)

		assert.Equal(t, time.Duration(0), b.RetryAfter())
	})

	t.Run("positive when exhausted", func(t *testing.T) {
		b, _ := newTestBucket(1, 25)
		b.TryConsume()

		assert.Greater(t, b.RetryAfter(), time.Duration(0))
	})

	t.Run("waiting the hint yields a token", func(t *testing.T) {
		b, clock := newTestBucket(1, 25)
		b.TryConsume()

		wait := b.RetryAfter()
		clock.Advance(wait)

		assert.True(t, b.TryConsume())
	})

	t.Run("hint matches the refill rate", func(t *testing.T) {
		b, _ := newTestBucket(1, 60) // one token per second

		b.TryConsume()

		// A full token is one second away at 60 tokens per minute.
		assert.InDelta(t, time.Second, b.RetryAfter(), float64(50*time.Millisecond))
	})
}

func TestCapacity(t *testing.T) {
	b, _ := newTestBucket(25, 25)
	assert.Equal(t, 25, b.Capacity())
}
