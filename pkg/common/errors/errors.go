// Package errors defines the error taxonomy shared by canflow packages.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument indicates that a caller-supplied value violated a
	// construction or mutation rule. Always recoverable by correcting the input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDuplicateTask indicates that a task id is already registered.
	ErrDuplicateTask = errors.New("duplicate task id")

	// ErrUnknownTask indicates that no task is registered under the given id.
	ErrUnknownTask = errors.New("unknown task id")

	// ErrClosed indicates that an operation was attempted on a closed resource.
	ErrClosed = errors.New("resource is closed")
)

// ValidationError describes a rejected input value with enough context to fix it.
// It wraps ErrInvalidArgument so callers can match with errors.Is.
type ValidationError struct {
	Module string
	Field  string
	Value  interface{}
	Reason string
	Hint   string
}

// NewValidationError creates a ValidationError without a hint.
func NewValidationError(module, field string, value interface{}, reason string) *ValidationError {
	return &ValidationError{
		Module: module,
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// WithHint attaches a remediation hint and returns the error for chaining.
func (e *ValidationError) WithHint(hint string) *ValidationError {
	e.Hint = hint
	return e
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: invalid %s=%v (%s) - %s", e.Module, e.Field, e.Value, e.Reason, e.Hint)
	}
	return fmt.Sprintf("%s: invalid %s=%v (%s)", e.Module, e.Field, e.Value, e.Reason)
}

// Unwrap makes the error match ErrInvalidArgument via errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidArgument
}

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
