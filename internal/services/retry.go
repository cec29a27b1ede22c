package services

import (
	"context"
	"fmt"
	"time"
)

var DefaultBackoffs = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// RetryWithBackoff runs fn up to maxRetries times, sleeping between attempts
// per backoffs (the last entry repeats). Errors for which retryable returns
// false end the loop immediately.
func RetryWithBackoff(ctx context.Context, backoffs []time.Duration, maxRetries int, retryable func(error) bool, fn func(context.Context) error) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || i == maxRetries-1 {
			break
		}

		wait := time.Duration(0)
		if len(backoffs) > 0 {
			wait = backoffs[min(i, len(backoffs)-1)]
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry interrupted: %w", lastErr)
		case <-timer.C:
		}
	}

	return lastErr
}
