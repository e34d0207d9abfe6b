package publish

import (
	"context"
	"time"
)

// RetryPolicy is a bounded, fixed-delay retry. MaxRetries counts attempts
// after the first one.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
	Retryable  func(error) bool
	// OnRetry is called before each wait with the 1-based retry number.
	OnRetry func(retry int, err error)
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted. The last error is returned as is; a cancellation while
// waiting returns the context's error.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for retry := 0; ; retry++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if retry >= p.MaxRetries || p.Retryable == nil || !p.Retryable(err) {
			return zero, err
		}
		if p.OnRetry != nil {
			p.OnRetry(retry+1, err)
		}

		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
