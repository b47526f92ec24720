package openai

import (
	"context"
	"sync"
	"time"
)

// Token bucket limiter gating outbound caption requests.
type rateLimiter struct {
	mu         sync.Mutex // protects lastRefill and tokens
	lastRefill time.Time
	tokens     int

	window time.Duration
	rate   int
}

// newRateLimiter allows rate units of work per window, e.g.
// newRateLimiter(20, time.Minute) permits 20 requests a minute.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		window:     window,
		rate:       rate,
		lastRefill: time.Now(),
		tokens:     rate,
	}
}

// Acquire blocks until a token is available or ctx is done, in which
// case it returns ctx.Err().
func (rl *rateLimiter) Acquire(ctx context.Context) error {
	for {
		if rl.tryAcquire() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rl.window / time.Duration(rl.rate)):
			// Bucket was empty. Tokens accrue evenly across the window so
			// waiting 1/rate of it accumulates roughly one. Then try again.
		}
	}
}

func (rl *rateLimiter) tryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Credit tokens proportional to the time since the last refill.
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	rl.lastRefill = now

	rl.tokens += int(elapsed.Nanoseconds() * int64(rl.rate) / rl.window.Nanoseconds())
	rl.tokens = min(rl.tokens, rl.rate)
	if rl.tokens <= 0 {
		return false
	}

	rl.tokens--
	return true
}
