package workflow

import (
	"context"
	"time"
)

// BackoffFunc returns the delay to wait after a failed attempt.
// attempt is 1-based (the attempt that just failed).
type BackoffFunc func(attempt int) time.Duration

// LinearBackoff grows the delay by one unit per failed attempt: unit
// after the first failure, 2*unit after the second, and so on.
func LinearBackoff(unit time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return unit * time.Duration(attempt)
	}
}

// withRetry runs fn up to maxAttempts times, sleeping per backoff between
// failed attempts. It returns the first success, or the last error once
// the budget is exhausted. Context cancellation interrupts the backoff
// sleep, never an in-flight attempt.
func withRetry(ctx context.Context, maxAttempts int, backoff BackoffFunc, fn func(ctx context.Context) (any, error)) (any, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		timer := time.NewTimer(backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}
