package fetcher

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a minimum delay between consecutive requests to the
// origin. It is a token bucket of size one refilled once per delay, so every
// caller of Wait is spaced at least delay apart and concurrent callers queue.
type RateLimiter struct {
	limiter *rate.Limiter

	mu          sync.Mutex
	delay       time.Duration
	lastRequest time.Time
}

// NewRateLimiter creates a gate with the given minimum inter-request delay.
// A zero delay disables the gate.
func NewRateLimiter(delay time.Duration) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(limitFor(delay), 1),
		delay:   delay,
	}
}

func limitFor(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Every(delay)
}

// Wait blocks until the next request slot. An aborted wait gives its slot
// back and returns the context error.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rl.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}

	rl.mu.Lock()
	rl.lastRequest = time.Now()
	rl.mu.Unlock()
	return nil
}

// Delay returns the configured minimum delay
func (rl *RateLimiter) Delay() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.delay
}

// SetDelay changes the minimum delay for subsequent requests
func (rl *RateLimiter) SetDelay(delay time.Duration) {
	rl.mu.Lock()
	rl.delay = delay
	rl.mu.Unlock()
	rl.limiter.SetLimit(limitFor(delay))
}

// LastRequest returns when the last slot was granted
func (rl *RateLimiter) LastRequest() time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.lastRequest
}
