package link

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy bounds caller-side retries of whole operations.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy gives five attempts with 50ms..500ms backoff on top of
// the store's own busy timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted. Backoff is exponential with ±25% jitter.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !IsRetryable(err) || attempt == attempts-1 {
			return err
		}

		delay := p.BaseDelay << uint(attempt)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		if delay > 0 {
			jitter := time.Duration(rand.Int63n(int64(delay/2) + 1))
			delay = delay - delay/4 + jitter
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
