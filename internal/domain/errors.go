package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// It is usually carried inside a ValidationError naming the field.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidStatus is returned when a status value is not one of the known statuses.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInvalidTransition is returned when a status change is not an allowed edge
	// of the task lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError reports which field of an entity failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap makes every ValidationError match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
