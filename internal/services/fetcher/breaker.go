package fetcher

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"github.com/ternarybob/arbor"
)

// ErrCircuitOpen is returned when the breaker rejects a call without I/O.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreaker guards the origin. CLOSED passes requests, OPEN rejects them
// until the cooldown elapses, HALF_OPEN lets exactly one trial request through.
// K consecutive failures trip CLOSED -> OPEN.
//
// mu only guards the cb pointer (swapped by Reset). gobreaker is never called
// with mu held, and the state-change callback never takes mu.
type CircuitBreaker struct {
	mu        sync.RWMutex
	cb        *gobreaker.TwoStepCircuitBreaker
	settings  gobreaker.Settings
	openedAt  atomic.Int64 // unix nanos, 0 if never tripped
	logger    arbor.ILogger
	threshold uint32
}

// Permit is one granted request. Exactly one of Success, Failure or Release
// must be called; later calls are ignored.
type Permit struct {
	done     func(success bool)
	halfOpen bool
	once     sync.Once
}

// Success records a healthy origin response.
func (p *Permit) Success() {
	p.once.Do(func() { p.done(true) })
}

// Failure records an origin failure.
func (p *Permit) Failure() {
	p.once.Do(func() { p.done(false) })
}

// Release gives the permit back without an outcome, for requests the caller
// abandoned. A closed breaker's failure run is untouched. A half-open trial
// slot cannot be handed back in gobreaker, so it is released as a failure and
// the breaker waits one more cooldown.
func (p *Permit) Release() {
	p.once.Do(func() {
		if p.halfOpen {
			p.done(false)
		}
	})
}

// NewCircuitBreaker creates a breaker that trips after threshold consecutive
// failures and lets one trial request through after cooldown.
func NewCircuitBreaker(name string, threshold uint32, cooldown time.Duration, logger arbor.ILogger) *CircuitBreaker {
	if threshold == 0 {
		threshold = 1
	}
	b := &CircuitBreaker{
		logger:    logger,
		threshold: threshold,
	}
	b.settings = gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: b.onStateChange,
	}
	b.cb = gobreaker.NewTwoStepCircuitBreaker(b.settings)
	return b
}

func (b *CircuitBreaker) current() *gobreaker.TwoStepCircuitBreaker {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cb
}

// Allow asks for permission to send one request.
func (b *CircuitBreaker) Allow() (*Permit, error) {
	cb := b.current()

	done, err := cb.Allow()
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, cb.State().String())
		}
		return nil, err
	}
	// Only the trial request can be outstanding while half-open, so reading the state
	// after Allow is stable for it. A closed-state permit that sees a later
	// half-open belongs to an older generation and gobreaker ignores its done.
	return &Permit{done: done, halfOpen: cb.State() == gobreaker.StateHalfOpen}, nil
}

// State returns "closed", "open" or "half-open".
func (b *CircuitBreaker) State() string {
	return b.current().State().String()
}

// IsOpen reports whether requests are currently rejected outright.
func (b *CircuitBreaker) IsOpen() bool {
	return b.current().State() == gobreaker.StateOpen
}

// ConsecutiveFailures returns the current failure run length.
func (b *CircuitBreaker) ConsecutiveFailures() uint32 {
	return b.current().Counts().ConsecutiveFailures
}

// OpenedAt returns when the breaker last tripped. Zero if never.
func (b *CircuitBreaker) OpenedAt() time.Time {
	n := b.openedAt.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Reset forces the breaker back to CLOSED with zeroed counters. Permits
// granted before the reset report into the old breaker and are ignored.
func (b *CircuitBreaker) Reset() {
	fresh := gobreaker.NewTwoStepCircuitBreaker(b.settings)

	b.mu.Lock()
	previous := b.cb
	b.cb = fresh
	b.mu.Unlock()

	b.openedAt.Store(0)

	if b.logger != nil {
		b.logger.Info().
			Str("breaker", b.settings.Name).
			Str("previous_state", previous.State().String()).
			Msg("Circuit breaker reset")
	}
}

// onStateChange runs under gobreaker's mutex.
func (b *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	if to == gobreaker.StateOpen {
		b.openedAt.Store(time.Now().UnixNano())
	}
	if b.logger == nil {
		return
	}
	b.logger.Warn().
		Str("breaker", name).
		Str("from", from.String()).
		Str("to", to.String()).
		Uint32("threshold", b.threshold).
		Msg("Circuit breaker state changed")
}
