package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errFlaky = errors.New("flaky")

func always(error) bool { return true }

func TestRetryWithBackoff_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), []time.Duration{time.Millisecond}, 3, always, func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_GivesUp(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), nil, 4, always, func(context.Context) error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 4, calls)
}

func TestRetryWithBackoff_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), nil, 5, func(err error) bool { return !errors.Is(err, errFlaky) }, func(context.Context) error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := RetryWithBackoff(ctx, []time.Duration{time.Hour}, 3, always, func(context.Context) error { return errFlaky })
	assert.ErrorIs(t, err, errFlaky)
	assert.Less(t, time.Since(start), time.Second)
}
