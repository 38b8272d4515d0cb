package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// StatusError reports a non-2xx response from the origin.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// IsAccessDenied reports whether the status usually means a blocked session.
func (e *StatusError) IsAccessDenied() bool {
	return e.StatusCode == http.StatusForbidden
}

// RetryPolicy defines retry behavior with exponential backoff.
// Backoff for attempt n is Base^n * Unit, plus or minus up to Jitter,
// floored at Floor.
type RetryPolicy struct {
	MaxAttempts int
	Base        float64
	Unit        time.Duration
	Jitter      time.Duration
	Floor       time.Duration

	// NonRetryableStatusCodes end the fetch immediately.
	NonRetryableStatusCodes []int

	random func() float64
}

// NewRetryPolicy creates the default policy: 3 attempts, 2^n seconds ±500ms,
// never less than 250ms.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		Base:        2.0,
		Unit:        time.Second,
		Jitter:      500 * time.Millisecond,
		Floor:       250 * time.Millisecond,
		NonRetryableStatusCodes: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusGone,
		},
		random: rand.Float64,
	}
}

// ShouldRetry checks whether another attempt follows attempt (0-based).
func (p *RetryPolicy) ShouldRetry(attempt int, statusCode int, err error) bool {
	if attempt+1 >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	for _, code := range p.NonRetryableStatusCodes {
		if statusCode == code {
			return false
		}
	}
	return true
}

// CalculateBackoff returns the delay before the given retry (1-based).
func (p *RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	backoff := math.Pow(p.Base, float64(attempt)) * float64(p.Unit)

	if p.Jitter > 0 {
		r := rand.Float64
		if p.random != nil {
			r = p.random
		}
		backoff += float64(p.Jitter) * (r()*2 - 1)
	}

	if backoff < float64(p.Floor) || math.IsNaN(backoff) {
		return p.Floor
	}
	return time.Duration(backoff)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
