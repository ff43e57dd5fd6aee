package indexer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxRetries: n, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestRetryWithBackoff_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := retryWithBackoff(context.Background(), fastRetry(3), func(err error) bool { return errors.Is(err, errTransient) },
		func() (int, error) {
			calls++
			if calls < 3 {
				return 0, errTransient
			}
			return 42, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	_, err := retryWithBackoff(context.Background(), fastRetry(5), func(err error) bool { return errors.Is(err, errTransient) },
		func() (int, error) {
			calls++
			return 0, permanent
		})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	calls := 0
	_, err := retryWithBackoff(context.Background(), fastRetry(4), func(error) bool { return true },
		func() (struct{}, error) {
			calls++
			return struct{}{}, errTransient
		})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 4, calls)
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := retryWithBackoff(ctx, RetryConfig{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1},
		func(error) bool { return true },
		func() (int, error) {
			calls++
			cancel()
			return 0, errTransient
		})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_ZeroRetriesRunsOnce(t *testing.T) {
	calls := 0
	_, err := retryWithBackoff(context.Background(), RetryConfig{}, func(error) bool { return true },
		func() (int, error) {
			calls++
			return 0, errTransient
		})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
