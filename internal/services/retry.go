package services

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryPolicy defines retry behavior for failed operations
type RetryPolicy struct {
	MaxRetries int
	// AttemptTimeout bounds each individual attempt; zero means no per-attempt bound.
	AttemptTimeout time.Duration
	// TotalTimeout bounds all attempts and backoff together; zero means unbounded.
	TotalTimeout  time.Duration
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultForecastRetryPolicy is the policy used for upstream forecast fetches:
// each attempt is bounded by attemptTimeout and the whole fetch by budget.
func DefaultForecastRetryPolicy(retries int, attemptTimeout, budget time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxRetries:     retries,
		AttemptTimeout: attemptTimeout,
		TotalTimeout:   budget,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		BackoffFactor:  2.0,
		JitterEnabled:  true,
	}
}

// RetryResult reports how an operation with retries finished.
type RetryResult struct {
	Attempts  int
	Duration  time.Duration
	Recovered bool
	Err       error
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so ExecuteWithRetry stops retrying immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ExecuteWithRetry runs operation until it succeeds, returns a permanent error,
// the policy is exhausted, or ctx is done.
func ExecuteWithRetry(ctx context.Context, policy RetryPolicy, logger *logrus.Logger, operationName string, operation func(ctx context.Context) error) RetryResult {
	start := time.Now()
	delay := policy.InitialDelay
	result := RetryResult{}

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		if err := ctx.Err(); err != nil {
			result.Err = err
			break
		}

		err := runAttempt(ctx, policy.AttemptTimeout, operation)
		if err == nil {
			result.Err = nil
			result.Recovered = attempt > 0
			if result.Recovered && logger != nil {
				logger.WithFields(logrus.Fields{
					"operation": operationName,
					"attempts":  attempt + 1,
				}).Info("Operation recovered after retry")
			}
			break
		}
		result.Err = err

		var perm *permanentError
		if errors.As(err, &perm) {
			result.Err = perm.err
			break
		}
		if attempt == policy.MaxRetries {
			break
		}

		wait := calculateDelay(delay, policy.JitterEnabled)
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"operation": operationName,
				"attempt":   attempt + 1,
				"delay_ms":  wait.Milliseconds(),
				"error":     err.Error(),
			}).Warn("Operation failed, retrying")
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.Err = ctx.Err()
			result.Duration = time.Since(start)
			return result
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * policy.BackoffFactor)
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	result.Duration = time.Since(start)
	return result
}

func runAttempt(ctx context.Context, timeout time.Duration, operation func(ctx context.Context) error) error {
	if timeout <= 0 {
		return operation(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return operation(attemptCtx)
}

// calculateDelay adds up to 25% jitter to baseDelay.
func calculateDelay(baseDelay time.Duration, jitter bool) time.Duration {
	if !jitter || baseDelay <= 0 {
		return baseDelay
	}
	spread := float64(baseDelay) * 0.25
	return baseDelay + time.Duration(spread*(rand.Float64()-0.5))
}
