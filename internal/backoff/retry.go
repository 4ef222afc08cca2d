package backoff

import (
	"context"

	"github.com/cortexgw/cortex/internal/fault"
)

// Retry executes fn with exponential backoff, retrying only errors whose
// fault kind is retryable. Non-retryable errors return immediately, as does
// context cancellation mid-sleep. fn receives the 1-indexed attempt number.
// After maxAttempts failures the last error is returned.
func Retry[T any](
	ctx context.Context,
	policy Policy,
	maxAttempts int,
	fn func(attempt int) (T, error),
) (T, error) {
	var zero T
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if !fault.IsRetryable(err) {
			return zero, err
		}
		if attempt < maxAttempts {
			if err := Sleep(ctx, policy, attempt); err != nil {
				return zero, err
			}
		}
	}
	return zero, lastErr
}
