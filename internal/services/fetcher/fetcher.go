package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/koscout/internal/common"
	"github.com/ternarybob/koscout/internal/interfaces"
	"github.com/ternarybob/koscout/internal/models"
)

// Fetcher retrieves listing pages from the origin. Every attempt passes the
// circuit breaker and then the shared rate-limit gate before any I/O happens.
type Fetcher struct {
	cfg     Config
	gate    *RateLimiter
	retry   *RetryPolicy
	breaker *CircuitBreaker
	loader  Loader
	logger  arbor.ILogger
}

var _ interfaces.Fetcher = (*Fetcher)(nil)

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithLoader replaces the mode-selected loader.
func WithLoader(loader Loader) Option {
	return func(f *Fetcher) {
		f.loader = loader
	}
}

// WithRetryPolicy replaces the policy derived from Config.
func WithRetryPolicy(policy *RetryPolicy) Option {
	return func(f *Fetcher) {
		f.retry = policy
	}
}

// New creates a fetcher from cfg. Unset fields take DefaultConfig values.
func New(cfg Config, logger arbor.ILogger, opts ...Option) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	retry := NewRetryPolicy()
	retry.MaxAttempts = cfg.MaxAttempts
	retry.Base = cfg.BackoffBase
	retry.Unit = cfg.BackoffUnit
	retry.Jitter = cfg.BackoffJitter
	retry.Floor = cfg.BackoffFloor

	f := &Fetcher{
		cfg:     cfg,
		gate:    NewRateLimiter(cfg.MinDelay),
		retry:   retry,
		breaker: NewCircuitBreaker("knockout-origin", cfg.BreakerThreshold, cfg.BreakerCooldown, logger),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.loader == nil {
		switch cfg.Mode {
		case ModeBrowser:
			f.loader = newBrowserLoader(cfg, f.gate, logger)
		default:
			f.loader = newHTTPLoader(cfg, f.gate, logger)
		}
	}

	logger.Debug().
		Str("mode", cfg.Mode).
		Dur("min_delay", cfg.MinDelay).
		Int("max_attempts", cfg.MaxAttempts).
		Uint32("breaker_threshold", cfg.BreakerThreshold).
		Dur("breaker_cooldown", cfg.BreakerCooldown).
		Msg("Fetcher initialized")

	return f, nil
}

// Fetch loads rawURL with retries. The result always carries the run id,
// attempt count and latency; Success is false on any failure.
//
// The breaker is asked first so an open circuit fails fast without touching
// the rate-limit gate. A request the caller abandons releases its permit
// without counting as an origin failure.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) models.FetchResult {
	startTime := time.Now()
	result := models.FetchResult{
		URL:   rawURL,
		RunID: common.NewRunID(),
	}

	for attempt := 0; ; attempt++ {
		result.Attempts = attempt + 1

		if err := ctx.Err(); err != nil {
			result.Error = fmt.Sprintf("fetch aborted: %v", err)
			break
		}

		permit, err := f.breaker.Allow()
		if err != nil {
			f.rejectOpen(&result, rawURL, err)
			break
		}

		if err := f.gate.Wait(ctx); err != nil {
			permit.Release()
			result.Error = fmt.Sprintf("rate limit wait aborted: %v", err)
			break
		}

		// The breaker may have tripped while this request queued on the gate.
		if f.breaker.IsOpen() {
			permit.Release()
			f.rejectOpen(&result, rawURL, fmt.Errorf("%w: open", ErrCircuitOpen))
			break
		}

		status, body, err := f.loader.Load(ctx, rawURL)
		if err == nil && (status < 200 || status >= 300) {
			err = &StatusError{StatusCode: status, URL: rawURL}
		}
		if err != nil && ctx.Err() != nil {
			permit.Release()
			result.StatusCode = status
			result.Error = fmt.Sprintf("fetch aborted: %v", err)
			break
		}
		if err == nil {
			permit.Success()
		} else {
			permit.Failure()
		}
		result.StatusCode = status

		if err == nil {
			result.Success = true
			result.Body = body
			result.Error = ""
			break
		}
		result.Error = err.Error()

		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.IsAccessDenied() {
			f.loader.Reset()
			f.logger.Warn().
				Str("url", rawURL).
				Str("run_id", result.RunID).
				Msg("Access denied, session reset for next attempt")
		}

		if ctx.Err() != nil || !f.retry.ShouldRetry(attempt, status, err) {
			break
		}

		backoff := f.retry.CalculateBackoff(attempt + 1)
		f.logger.Warn().
			Str("url", rawURL).
			Str("run_id", result.RunID).
			Int("attempt", attempt+1).
			Int("status_code", status).
			Dur("backoff", backoff).
			Err(err).
			Msg("Fetch attempt failed, retrying")

		if err := sleepContext(ctx, backoff); err != nil {
			result.Error = fmt.Sprintf("retry wait aborted: %v", err)
			break
		}
	}

	result.Latency = time.Since(startTime)

	if result.Success {
		f.logger.Debug().
			Str("url", rawURL).
			Str("run_id", result.RunID).
			Int("attempts", result.Attempts).
			Int("bytes", len(result.Body)).
			Dur("latency", result.Latency).
			Msg("Fetch completed")
	} else {
		f.logger.Error().
			Str("url", rawURL).
			Str("run_id", result.RunID).
			Int("attempts", result.Attempts).
			Int("status_code", result.StatusCode).
			Bool("circuit_open", result.CircuitOpen).
			Str("error", result.Error).
			Dur("latency", result.Latency).
			Msg("Fetch failed")
	}

	return result
}

func (f *Fetcher) rejectOpen(result *models.FetchResult, rawURL string, err error) {
	result.CircuitOpen = errors.Is(err, ErrCircuitOpen)
	result.Error = err.Error()
	f.logger.Warn().
		Str("url", rawURL).
		Str("run_id", result.RunID).
		Str("breaker_state", f.breaker.State()).
		Msg("Fetch rejected by circuit breaker")
}

// ResetCircuitBreaker forces the breaker back to CLOSED.
func (f *Fetcher) ResetCircuitBreaker() {
	f.breaker.Reset()
}

// BreakerState returns the breaker state name.
func (f *Fetcher) BreakerState() string {
	return f.breaker.State()
}

// Breaker exposes the underlying breaker for diagnostics.
func (f *Fetcher) Breaker() *CircuitBreaker {
	return f.breaker
}

// Close releases the loader session.
func (f *Fetcher) Close() error {
	return f.loader.Close()
}
