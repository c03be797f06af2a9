package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError is returned when a job definition is rejected before persistence.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ExecutionError wraps a backend invocation failure or timeout.
// It is recorded, never returned to the scheduler.
type ExecutionError struct {
	JobID string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("job %s: execution failed: %v", e.JobID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
