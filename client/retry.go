package client

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/jeffhajewski/quill/common"
)

// RetryPolicy configures client-side retries.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration
	// Multiplier grows the delay between successive retries.
	Multiplier float64
	// Jitter randomises each delay by a factor in [0, 1].
	Jitter float64
	// RetryableStatusCodes are the structured-error statuses worth retrying.
	RetryableStatusCodes []int
}

// DefaultRetryPolicy delivers the default policy: 3 attempts, 100ms
// initial backoff doubling up to 30s with 10% jitter.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:          3,
		InitialBackoff:       100 * time.Millisecond,
		MaxBackoff:           30 * time.Second,
		Multiplier:           2.0,
		Jitter:               0.1,
		RetryableStatusCodes: []int{408, 429, 500, 502, 503, 504},
	}
}

// IsRetryable reports whether an error is worth another attempt: transport
// errors always are; structured errors when their status is in the
// retryable set.
func (p *RetryPolicy) IsRetryable(err error) bool {
	switch e := err.(type) {
	case *common.TransportError:
		return true
	case *common.Problem:
		for _, code := range p.RetryableStatusCodes {
			if e.Status == code {
				return true
			}
		}
	}
	return false
}

func (p *RetryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.RandomizationFactor = p.Jitter
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Retry runs op until it succeeds, the error is not retryable, or the
// policy's attempt budget is spent. Backoff sleeps go through the supplied
// clock so tests can drive them deterministically.
func Retry(ctx context.Context, policy *RetryPolicy, clock clockwork.Clock, op func(context.Context) error) error {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	b := policy.newBackOff()
	trace := ContextClientTrace(ctx)

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= policy.MaxAttempts || !policy.IsRetryable(err) {
			return err
		}

		wait := b.NextBackOff()
		if policy.MaxBackoff > 0 && wait > policy.MaxBackoff {
			wait = policy.MaxBackoff
		}
		trace.RetryWait("", attempt, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(wait):
		}
	}
}

// CallWithRetry issues a unary RPC under the retry policy. The final
// result is the last error when every attempt fails.
func (c *Client) CallWithRetry(ctx context.Context, service, method string, request []byte,
	policy *RetryPolicy, clock clockwork.Clock) ([]byte, error) {

	var response []byte
	err := Retry(ctx, policy, clock, func(ctx context.Context) error {
		var callErr error
		response, callErr = c.Call(ctx, service, method, request)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}
