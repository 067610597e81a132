// Package errors provides standardized error types for the domain layer.
// Business rejections, transient network failures and timeouts are
// distinguished so callers can decide what is retriable.
package errors

import (
	"errors"
	"fmt"
)

// Standard error categories
var (
	// ErrInsufficientBalance indicates the address cannot cover the cast cost
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAlreadyParticipated indicates the weekly participation limit was reached
	ErrAlreadyParticipated = errors.New("already participated this week")

	// ErrRateLimited indicates near-duplicate submissions inside the spam window
	ErrRateLimited = errors.New("rate limited")

	// ErrQueueFull indicates the per-address queue is at capacity
	ErrQueueFull = errors.New("queue full")

	// ErrQueueTimeout indicates the entry aged out before being processed
	ErrQueueTimeout = errors.New("queue wait timeout")

	// ErrTransient indicates a transient upstream failure worth retrying
	ErrTransient = errors.New("transient upstream failure")

	// ErrInvalidInput indicates invalid input was provided
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")
)

// DomainError represents a domain-specific error with additional context
type DomainError struct {
	Err       error
	Code      string
	Message   string
	Details   map[string]interface{}
	Retryable bool
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *DomainError) Is(target error) bool {
	if e.Err != nil {
		return errors.Is(e.Err, target)
	}
	return false
}

// WithDetails adds details to the error
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	e.Details = details
	return e
}

// IsRetryable returns true if the error is retryable
func (e *DomainError) IsRetryable() bool {
	return e.Retryable
}

// TransientError creates a retryable upstream failure
func TransientError(service string, err error) *DomainError {
	de := &DomainError{
		Err:       ErrTransient,
		Code:      "TRANSIENT_FAILURE",
		Message:   fmt.Sprintf("%s is temporarily unavailable", service),
		Retryable: true,
	}
	if err != nil {
		de.Details = map[string]interface{}{"cause": err.Error()}
	}
	return de
}

// QueueFullError creates a bounded-backpressure rejection
func QueueFullError(address string, size int) *DomainError {
	return &DomainError{
		Err:       ErrQueueFull,
		Code:      "QUEUE_FULL",
		Message:   "too many pending requests for this address",
		Retryable: true,
		Details: map[string]interface{}{
			"address":    address,
			"queue_size": size,
		},
	}
}

// QueueTimeoutError creates an aged-out queue entry rejection
func QueueTimeoutError(address string) *DomainError {
	return &DomainError{
		Err:       ErrQueueTimeout,
		Code:      "QUEUE_TIMEOUT",
		Message:   "request expired before processing started",
		Retryable: true,
		Details:   map[string]interface{}{"address": address},
	}
}

// ValidationError creates a validation error
func ValidationError(field, message string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidInput,
		Code:    "VALIDATION_ERROR",
		Message: message,
		Details: map[string]interface{}{"field": field},
	}
}

// InternalError creates an internal error
func InternalError(message string, err error) *DomainError {
	de := &DomainError{
		Err:     ErrInternal,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if err != nil {
		de.Details = map[string]interface{}{"cause": err.Error()}
	}
	return de
}

// ShouldRetry reports whether an error is worth retrying: explicit
// retryable domain errors and transient failures qualify, business
// rejections never do.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Retryable
	}
	return errors.Is(err, ErrTransient)
}

// IsBusinessRejection reports whether an error is an expected user-facing
// outcome rather than a fault.
func IsBusinessRejection(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAlreadyParticipated) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrQueueFull)
}

// GetErrorCode extracts the error code from a domain error
func GetErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return "UNKNOWN_ERROR"
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
