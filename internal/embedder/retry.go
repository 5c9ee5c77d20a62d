package embedder

import (
	"context"
	"time"
)

// RetryConfig configures exponential backoff between remote attempts
type RetryConfig struct {
	Attempts   int           // Total calls made before giving up, at least 1
	BaseDelay  time.Duration // Delay before the second attempt
	MaxDelay   time.Duration // Upper bound on any delay
	Multiplier float64       // Growth factor applied after each delay
}

// DefaultRetryConfig returns one attempt with no retries
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:   DefaultAttempts,
		BaseDelay:  time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier: BackoffMultiplier,
	}
}

// retryWithBackoff calls fn until it succeeds or attempts run out.
// Cancellation of ctx stops immediately.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(config.Attempts, 1)
	backoff := config.BaseDelay

	var lastErr error
	for attempt := range attempts {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
			backoff = min(time.Duration(float64(backoff)*config.Multiplier), config.MaxDelay)
		}
	}

	return zero, lastErr
}
