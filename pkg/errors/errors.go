// Package errors provides error handling utilities for the zminer mining client.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeConnection represents socket open/dial failures
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeProtocol represents stratum protocol errors (malformed lines, handshake failures)
	ErrorTypeProtocol ErrorType = "protocol"
	// ErrorTypeSubmit represents share submission failures
	ErrorTypeSubmit ErrorType = "submit"
	// ErrorTypeHashProvider represents hash provider initialization or call failures
	ErrorTypeHashProvider ErrorType = "hashprovider"
	// ErrorTypeTelemetry represents telemetry sink errors (never fatal to mining)
	ErrorTypeTelemetry ErrorType = "telemetry"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInternal represents internal/unknown errors
	ErrorTypeInternal ErrorType = "internal"
)

// MinerError represents a structured error with context
type MinerError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Timestamp time.Time
	Retryable bool
}

// Error implements the error interface
func (e *MinerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s operation '%s' failed: %s (caused by: %v)", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s operation '%s' failed: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause for error unwrapping
func (e *MinerError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether this error should be retried
func (e *MinerError) IsRetryable() bool {
	return e.Retryable
}

// WithContext adds additional context to the error
func (e *MinerError) WithContext(key string, value interface{}) *MinerError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new MinerError
func New(errorType ErrorType, operation, message string) *MinerError {
	return &MinerError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: isRetryableByType(errorType),
	}
}

// Wrap wraps an existing error with context
func Wrap(err error, errorType ErrorType, operation, message string) *MinerError {
	if err == nil {
		return nil
	}

	// Preserve retryability of an already-classified error
	if me, ok := err.(*MinerError); ok {
		return &MinerError{
			Type:      errorType,
			Operation: operation,
			Message:   message,
			Cause:     me,
			Timestamp: time.Now(),
			Retryable: me.Retryable,
		}
	}

	return &MinerError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
		Retryable: isRetryableByDefault(err),
	}
}

// isRetryableByType determines if an error type is generally retryable.
// Connection and timeout failures recover on reconnect; protocol errors
// recover on a fresh handshake attempt. Provider and config failures don't.
func isRetryableByType(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeConnection, ErrorTypeTimeout, ErrorTypeProtocol, ErrorTypeTelemetry:
		return true
	case ErrorTypeHashProvider, ErrorTypeConfig:
		return false
	default:
		return false
	}
}

// isRetryableByDefault checks if an error is retryable based on common patterns
func isRetryableByDefault(err error) bool {
	if err == nil {
		return false
	}

	// Context cancellation/timeout means the caller gave up; don't retry.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	networkErrors := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"network unreachable",
		"timeout",
		"temporary failure",
		"no route to host",
	}

	for _, netErr := range networkErrors {
		if strings.Contains(errStr, netErr) {
			return true
		}
	}

	return false
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var me *MinerError
	if errors.As(err, &me) {
		return me.Type == errorType
	}
	return false
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var me *MinerError
	if errors.As(err, &me) {
		return me.IsRetryable()
	}
	return isRetryableByDefault(err)
}

// GetContext retrieves context from a MinerError
func GetContext(err error) map[string]interface{} {
	var me *MinerError
	if errors.As(err, &me) {
		return me.Context
	}
	return nil
}
