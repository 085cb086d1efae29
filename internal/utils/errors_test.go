package utils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Message: "test error message"}
	assert.Equal(t, "test error message", err.Error())

	err = &ValidationError{Field: "horizon", Message: "must be positive"}
	assert.Equal(t, "horizon: must be positive", err.Error())
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("validation failed")

	assert.Error(t, err)
	assert.Equal(t, "validation failed", err.Error())

	validationErr, ok := err.(*ValidationError)
	assert.True(t, ok)
	assert.Equal(t, "validation failed", validationErr.Message)
}

func TestNewValidationErrorf(t *testing.T) {
	err := NewValidationErrorf("point %d has lower %v above value", 3, 1.5)
	assert.Equal(t, "point 3 has lower 1.5 above value", err.Error())
}

func TestNewFieldError(t *testing.T) {
	err := NewFieldError("campaignId", "is required")
	assert.Equal(t, "campaignId: is required", err.Error())
}

func TestIsValidationError(t *testing.T) {
	wrapped := fmt.Errorf("decode bundle: %w", NewValidationError("missing snapshots"))

	assert.True(t, IsValidationError(wrapped))
	assert.False(t, IsValidationError(fmt.Errorf("plain")))
	assert.False(t, IsValidationError(nil))
}
