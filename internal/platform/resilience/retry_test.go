package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errBackend
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(2), func(ctx context.Context) error {
		calls++
		return errBackend
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, 2, calls)
}

func TestRetry_StopsOnOpenCircuit(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(5), func(ctx context.Context) error {
		calls++
		return ErrCircuitOpen
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, calls)
}

func TestRetry_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetry(5), func(ctx context.Context) error {
		return errBackend
	})

	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCalculateBackoff_CapsAtMaxDelay(t *testing.T) {
	d := calculateBackoff(10, 10*time.Millisecond, 50*time.Millisecond, 0)
	assert.Equal(t, 50*time.Millisecond, d)
}

func TestRateLimiter_BurstThenLimit(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
}

func TestRateLimiter_NilNeverLimits(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	require.Nil(t, rl)

	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow())
	}
	assert.NoError(t, rl.Wait(context.Background()))
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(0.1, 1)
	require.True(t, rl.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
