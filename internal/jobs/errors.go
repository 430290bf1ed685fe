package jobs

import (
	"errors"
	"fmt"

	"github.com/casgen-dev/casgen/internal/types"
)

// Error is a typed job error that can be inspected for proper HTTP mapping.
type Error struct {
	Kind    ErrorKind
	JobID   string
	State   types.JobStatus
	Message string
	Details map[string]any
	Cause   error
}

// ErrorKind categorizes the error for HTTP status mapping.
type ErrorKind int

const (
	ErrKindNotFound ErrorKind = iota
	ErrKindInvalidTransition
	ErrKindValidation
	ErrKindStorage
	ErrKindGeneration
	ErrKindTimeout
	ErrKindCancelled
	ErrKindInternal
)

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(jobID string) *Error {
	return &Error{
		Kind:    ErrKindNotFound,
		JobID:   jobID,
		Message: fmt.Sprintf("job not found: %s", jobID),
	}
}

// NewInvalidTransitionError creates an invalid-transition error.
func NewInvalidTransitionError(jobID string, from, to types.JobStatus) *Error {
	return &Error{
		Kind:    ErrKindInvalidTransition,
		JobID:   jobID,
		State:   from,
		Message: fmt.Sprintf("invalid status transition from %s to %s", from, to),
	}
}

// NewValidationError creates a validation error carrying the issue list
// from the validation report.
func NewValidationError(jobID string, details map[string]any) *Error {
	return &Error{
		Kind:    ErrKindValidation,
		JobID:   jobID,
		Message: "configuration validation failed",
		Details: details,
	}
}

// NewStorageError wraps a persistence failure.
func NewStorageError(jobID string, cause error) *Error {
	return &Error{
		Kind:    ErrKindStorage,
		JobID:   jobID,
		Message: "storage operation failed",
		Cause:   cause,
	}
}

// NewGenerationError wraps a failure inside the generation pipeline.
func NewGenerationError(jobID string, cause error) *Error {
	return &Error{
		Kind:    ErrKindGeneration,
		JobID:   jobID,
		Message: "generation failed",
		Cause:   cause,
	}
}

// NewTimeoutError creates a soft-deadline expiry error.
func NewTimeoutError(jobID string) *Error {
	return &Error{
		Kind:    ErrKindTimeout,
		JobID:   jobID,
		Message: "timeout",
	}
}

// NewCancelledError marks work abandoned at a cancellation checkpoint.
func NewCancelledError(jobID string) *Error {
	return &Error{
		Kind:    ErrKindCancelled,
		JobID:   jobID,
		Message: "cancelled",
	}
}

// NewInternalError wraps an internal error.
func NewInternalError(jobID string, cause error) *Error {
	return &Error{
		Kind:    ErrKindInternal,
		JobID:   jobID,
		Message: cause.Error(),
		Cause:   cause,
	}
}

// AsError attempts to convert an error to a jobs Error.
// Returns nil if not possible.
func AsError(err error) *Error {
	var jErr *Error
	if errors.As(err, &jErr) {
		return jErr
	}
	return nil
}

// IsNotFound checks if the error is a not-found error.
func IsNotFound(err error) bool {
	jErr := AsError(err)
	return jErr != nil && jErr.Kind == ErrKindNotFound
}

// IsInvalidTransition checks if the error is an invalid-transition error.
func IsInvalidTransition(err error) bool {
	jErr := AsError(err)
	return jErr != nil && jErr.Kind == ErrKindInvalidTransition
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	jErr := AsError(err)
	return jErr != nil && jErr.Kind == ErrKindValidation
}
