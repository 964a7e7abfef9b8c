package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeExternal   ErrorType = "external"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRejected   ErrorType = "rejected"
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType         `json:"type"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Common error constructors
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrorTypeConflict, "CONFLICT", message)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

func NewExternalError(service, message string) *AppError {
	return NewAppError(ErrorTypeExternal, "EXTERNAL_SERVICE_ERROR", message).
		WithDetail("service", service)
}

// NewServiceError creates an error for a supervised service failure
func NewServiceError(serviceName, message string) *AppError {
	return NewAppError(ErrorTypeInternal, "SERVICE_ERROR", message).
		WithDetail("service", serviceName)
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == errorType
	}
	return false
}

// GetCode returns the error code if it's an AppError
func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType returns the error type if it's an AppError
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// TimeoutExceededError indicates an operation exceeded its configured deadline.
// It carries the operation name, the deadline that applied, and the elapsed
// time at the point the overrun was observed.
type TimeoutExceededError struct {
	Operation string        `json:"operation"`
	Timeout   time.Duration `json:"timeout"`
	Elapsed   time.Duration `json:"elapsed"`
}

func (e *TimeoutExceededError) Error() string {
	return fmt.Sprintf("operation '%s' exceeded timeout of %s after %s",
		e.Operation, e.Timeout, e.Elapsed.Round(time.Millisecond))
}

// NewTimeoutExceeded creates a timeout error for an operation
func NewTimeoutExceeded(operation string, timeout, elapsed time.Duration) *TimeoutExceededError {
	return &TimeoutExceededError{
		Operation: operation,
		Timeout:   timeout,
		Elapsed:   elapsed,
	}
}

// IsTimeoutExceeded checks if an error is a timeout overrun
func IsTimeoutExceeded(err error) bool {
	var te *TimeoutExceededError
	return errors.As(err, &te)
}

// CircuitOpenError indicates a call was rejected by an open or saturated
// half-open circuit breaker. The wrapped operation was never invoked.
type CircuitOpenError struct {
	Operation string `json:"operation"`
	State     string `json:"state"`
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker for operation '%s' is %s, call rejected", e.Operation, e.State)
}

// NewCircuitOpen creates a breaker rejection error for an operation
func NewCircuitOpen(operation, state string) *CircuitOpenError {
	return &CircuitOpenError{Operation: operation, State: state}
}

// IsCircuitOpen checks if an error is a breaker rejection
func IsCircuitOpen(err error) bool {
	var co *CircuitOpenError
	return errors.As(err, &co)
}
