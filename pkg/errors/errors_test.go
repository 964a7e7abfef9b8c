package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	err := NewValidationError("bad input")
	assert.Equal(t, ErrorTypeValidation, GetType(err))
	assert.Equal(t, "VALIDATION_ERROR", GetCode(err))
	assert.Contains(t, err.Error(), "bad input")

	cause := fmt.Errorf("underlying")
	wrapped := NewInternalError("something broke").WithCause(cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "caused by")
}

func TestAppError_Details(t *testing.T) {
	err := NewServiceError("semantic_search", "spawn failed").WithDetail("pid", "0")
	assert.Equal(t, "semantic_search", err.Details["service"])
	assert.Equal(t, "0", err.Details["pid"])
}

func TestIsType(t *testing.T) {
	assert.True(t, IsType(NewConflictError("dup"), ErrorTypeConflict))
	assert.False(t, IsType(NewConflictError("dup"), ErrorTypeNotFound))
	assert.False(t, IsType(fmt.Errorf("plain"), ErrorTypeConflict))
}

func TestTimeoutExceededError(t *testing.T) {
	err := NewTimeoutExceeded("test_execution", 600*time.Second, 601*time.Second)

	assert.True(t, IsTimeoutExceeded(err))
	assert.Contains(t, err.Error(), "test_execution")
	assert.Contains(t, err.Error(), "10m0s")

	wrapped := fmt.Errorf("run failed: %w", err)
	assert.True(t, IsTimeoutExceeded(wrapped))

	assert.False(t, IsTimeoutExceeded(fmt.Errorf("plain")))
	assert.False(t, IsTimeoutExceeded(nil))
}

func TestCircuitOpenError(t *testing.T) {
	err := NewCircuitOpen("network_operations", "OPEN")

	require.True(t, IsCircuitOpen(err))
	assert.Contains(t, err.Error(), "network_operations")
	assert.Contains(t, err.Error(), "OPEN")

	wrapped := fmt.Errorf("call failed: %w", err)
	assert.True(t, IsCircuitOpen(wrapped))

	assert.False(t, IsCircuitOpen(NewTimeoutExceeded("op", time.Second, time.Second)))
}
