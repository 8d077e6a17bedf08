package errors

import (
	"context"
	"time"
)

// RetryConfig bounds retry behavior for external calls. Attempts counts the
// initial call, so Attempts=2 means one retry.
type RetryConfig struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryConfig allows exactly one retry with a short pause.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 2, Backoff: 500 * time.Millisecond}
}

// RetryWithResult runs fn up to cfg.Attempts times, retrying only transient
// errors. Context cancellation stops retrying immediately.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(cfg.Backoff):
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) {
			break
		}
	}
	return zero, lastErr
}
