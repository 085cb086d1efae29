package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    retries,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestExecuteWithRetry_RecoversOnSecondAttempt(t *testing.T) {
	calls := 0
	result := ExecuteWithRetry(context.Background(), fastPolicy(2), quietLogger(), "fetch", func(context.Context) error {
		calls++
		if calls == 1 {
			return errUpstream
		}
		return nil
	})

	assert.NoError(t, result.Err)
	assert.Equal(t, 2, result.Attempts)
	assert.True(t, result.Recovered)
}

func TestExecuteWithRetry_ExhaustsPolicy(t *testing.T) {
	calls := 0
	result := ExecuteWithRetry(context.Background(), fastPolicy(2), quietLogger(), "fetch", func(context.Context) error {
		calls++
		return errUpstream
	})

	assert.ErrorIs(t, result.Err, errUpstream)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, result.Attempts)
}

func TestExecuteWithRetry_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	invalid := errors.New("invalid payload")
	result := ExecuteWithRetry(context.Background(), fastPolicy(2), nil, "fetch", func(context.Context) error {
		calls++
		return Permanent(invalid)
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, result.Err, invalid)
	_, isPermanent := result.Err.(*permanentError)
	assert.False(t, isPermanent)
}

func TestExecuteWithRetry_AttemptTimeout(t *testing.T) {
	policy := fastPolicy(0)
	policy.AttemptTimeout = 10 * time.Millisecond

	result := ExecuteWithRetry(context.Background(), policy, nil, "fetch", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, result.Err, context.DeadlineExceeded)
}

func TestExecuteWithRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	result := ExecuteWithRetry(ctx, fastPolicy(2), nil, "fetch", func(context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}

func TestCalculateDelay_JitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, base, calculateDelay(base, false))
	for i := 0; i < 50; i++ {
		d := calculateDelay(base, true)
		assert.GreaterOrEqual(t, d, 87*time.Millisecond)
		assert.LessOrEqual(t, d, 113*time.Millisecond)
	}
}

func TestDefaultForecastRetryPolicy(t *testing.T) {
	policy := DefaultForecastRetryPolicy(2, 15*time.Second, 20*time.Second)
	assert.Equal(t, 2, policy.MaxRetries)
	assert.Equal(t, 15*time.Second, policy.AttemptTimeout)
	assert.Equal(t, 20*time.Second, policy.TotalTimeout)
	assert.True(t, policy.JitterEnabled)
}
