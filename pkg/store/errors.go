package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrNotApplied is returned by guarded updates when the row's current
	// state did not match the expected from-state. Callers re-query and
	// decide; the scheduler uses this to serialize claim decisions.
	ErrNotApplied = errors.New("transition not applied")

	// ErrConflict is returned when a phase or status precondition fails.
	ErrConflict = errors.New("state conflict")

	// ErrNoReadyTasks is returned by ClaimReadyTask when no task is claimable.
	ErrNoReadyTasks = errors.New("no ready tasks available")

	// ErrNoPendingQuestion is returned when answering discovery with no
	// unanswered question outstanding.
	ErrNoPendingQuestion = errors.New("no pending discovery question")

	// ErrForbidden is returned when the deployment policy refuses an
	// otherwise well-formed request.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError wraps field-specific validation errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
