package queue

import (
	"errors"
	"fmt"
)

// Domain errors for the command queue.
var (
	// ErrNotFound is returned when a command does not exist.
	ErrNotFound = errors.New("queue: command not found")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("queue: validation failed")

	// ErrInvalidTransition is returned when an operation is not allowed
	// from the command's current status.
	ErrInvalidTransition = errors.New("queue: invalid status transition")
)

// ValidationError describes bad input to Enqueue.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("queue: invalid %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func transitionError(c *Command, op string) error {
	return fmt.Errorf("%w: cannot %s command %s in status %s", ErrInvalidTransition, op, c.ID, c.Status)
}
