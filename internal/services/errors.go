package services

import (
	"errors"
	"fmt"
)

var (
	// ErrFeatureDisabled is returned when the configuration gates the requested operation off.
	ErrFeatureDisabled = errors.New("feature disabled")
	// ErrInsufficientData is returned when a computation needs more history than is available.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrUpstreamUnavailable wraps any failure to obtain a usable result from the forecast service.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrTimeout is the parent of every bounded-wait failure.
	ErrTimeout = errors.New("operation timed out")
	// ErrCircuitOpen is returned when the forecast service breaker rejects a call.
	ErrCircuitOpen = fmt.Errorf("circuit breaker is open: %w", ErrUpstreamUnavailable)
	// ErrWorkerTimeout is returned when the offloaded forecast does not answer in time.
	ErrWorkerTimeout = fmt.Errorf("forecast worker: %w", ErrTimeout)
	// ErrBundleTooLarge is returned when an export exceeds the hard size limit.
	ErrBundleTooLarge = errors.New("bundle exceeds maximum export size")
)

// MalformedBundleError reports an import payload that cannot be decoded or validated.
type MalformedBundleError struct {
	Reason string
	Err    error
}

func (e *MalformedBundleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed bundle: %s: %v", e.Reason, e.Err)
	}
	return "malformed bundle: " + e.Reason
}

func (e *MalformedBundleError) Unwrap() error {
	return e.Err
}

// IsMalformedBundle reports whether err is a MalformedBundleError.
func IsMalformedBundle(err error) bool {
	var target *MalformedBundleError
	return errors.As(err, &target)
}

// ForecastValidationError reports a server forecast that violates band ordering
// or horizon length.
type ForecastValidationError struct {
	Index  int
	Reason string
}

func (e *ForecastValidationError) Error() string {
	if e.Index < 0 {
		return "invalid forecast: " + e.Reason
	}
	return fmt.Sprintf("invalid forecast point %d: %s", e.Index, e.Reason)
}
