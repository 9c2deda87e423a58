package store

import (
	"context"
	"errors"
)

// Retry runs attempt until it succeeds, fails with something other than ErrConflict,
// or maxAttempts is reached. Each attempt must be a complete unit of work.
func Retry(ctx context.Context, maxAttempts int, attempt func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		lastErr = err
	}
	return lastErr
}
