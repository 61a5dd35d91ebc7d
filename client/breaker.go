package client

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jeffhajewski/quill/common"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed lets requests pass through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects requests locally without contacting the server.
	BreakerOpen
	// BreakerHalfOpen probes whether the server has recovered.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold int
	// SuccessThreshold is the consecutive-success count that closes the
	// circuit from half-open.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before the next request
	// attempt probes the server.
	Timeout time.Duration
	// WindowDuration is the sliding window for failure counting; counts
	// older than the window are discarded when a new failure is observed.
	WindowDuration time.Duration
	// Clock overrides the wall clock, for tests.
	Clock clockwork.Clock
}

// DefaultBreakerConfig delivers the default breaker configuration.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
		WindowDuration:   60 * time.Second,
	}
}

// CircuitBreaker protects a client from a persistently failing server.
// All state lives behind a single writer lock; no lock is held across a
// suspension point.
type CircuitBreaker struct {
	cfg   *BreakerConfig
	clock clockwork.Clock

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time
	openedAt    time.Time
}

// NewCircuitBreaker creates a breaker in the Closed state.
func NewCircuitBreaker(cfg *BreakerConfig) *CircuitBreaker {
	if cfg == nil {
		cfg = DefaultBreakerConfig()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CircuitBreaker{cfg: cfg, clock: clock, state: BreakerClosed}
}

// Allow reports whether a request may proceed. In the Open state it
// returns an error without contacting the server, except once the timeout
// has elapsed, when the next attempt transitions to HalfOpen and proceeds.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed, BreakerHalfOpen:
		return nil
	default: // BreakerOpen
		if cb.clock.Since(cb.openedAt) >= cb.cfg.Timeout {
			cb.state = BreakerHalfOpen
			cb.failures = 0
			cb.successes = 0
			return nil
		}
		return &common.TransportError{Op: "circuit breaker", Err: errBreakerOpen}
	}
}

var errBreakerOpen = &common.RPCError{Status: 503, Body: "circuit breaker is open"}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.state = BreakerClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

// RecordFailure records a failed request. Failure counts outside the
// sliding window are discarded at the moment a new failure is observed.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock.Now()
	if !cb.lastFailure.IsZero() && now.Sub(cb.lastFailure) >= cb.cfg.WindowDuration {
		cb.failures = 0
	}
	cb.lastFailure = now

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.state = BreakerOpen
			cb.openedAt = now
		}
	case BreakerHalfOpen:
		cb.state = BreakerOpen
		cb.openedAt = now
		cb.successes = 0
	}
}

// State delivers the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs op under the breaker, recording the outcome.
func (cb *CircuitBreaker) Execute(op func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := op()
	if err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}
