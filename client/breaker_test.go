package client

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	assert "github.com/stretchr/testify/require"
)

func testBreaker(clock clockwork.Clock) *CircuitBreaker {
	return NewCircuitBreaker(&BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          10 * time.Second,
		WindowDuration:   time.Minute,
		Clock:            clock,
	})
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := testBreaker(clock)

	assert.Equal(t, BreakerClosed, cb.State())

	for i := 0; i < 3; i++ {
		assert.NoError(t, cb.Allow())
		cb.RecordFailure()
	}
	assert.Equal(t, BreakerOpen, cb.State())

	// Requests are rejected locally without contacting the server.
	assert.Error(t, cb.Allow())
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := testBreaker(clock)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, BreakerOpen, cb.State())

	clock.Advance(10 * time.Second)
	assert.NoError(t, cb.Allow())
	assert.Equal(t, BreakerHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, BreakerHalfOpen, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := testBreaker(clock)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.Advance(10 * time.Second)
	assert.NoError(t, cb.Allow())
	assert.Equal(t, BreakerHalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
	assert.Error(t, cb.Allow())
}

func TestBreakerSuccessResetsClosedFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := testBreaker(clock)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, BreakerClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
}

func TestBreakerWindowDiscardsStaleFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := testBreaker(clock)

	cb.RecordFailure()
	cb.RecordFailure()

	// The next failure arrives outside the window, so the stale counts are
	// discarded when it is observed.
	clock.Advance(2 * time.Minute)
	cb.RecordFailure()
	assert.Equal(t, BreakerClosed, cb.State())

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
}

func TestBreakerExecute(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := testBreaker(clock)

	calls := 0
	fail := func() error { calls++; return assert.AnError }

	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(fail))
	}
	assert.Equal(t, 3, calls)

	// Open: the operation is not invoked.
	assert.Error(t, cb.Execute(fail))
	assert.Equal(t, 3, calls)
}
