package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/emplan-api/internal/domain"
)

// Common service errors. Callers check them with errors.Is; the API layer maps
// them to HTTP status codes.
var (
	// ErrTaskNotFound indicates that no task has the requested ID.
	// API layer should map this to HTTP 404 Not Found.
	ErrTaskNotFound = errors.New("task not found")

	// ErrArtifactNotReady means the task has not completed, so it has no
	// artifact yet. API layer maps it to 409 Conflict.
	ErrArtifactNotReady = errors.New("artifact not ready")

	// ErrArtifactNotFound means a completed task's artifact is gone from
	// storage.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrInvalidSecret means the supplied secret does not open the artifact.
	ErrInvalidSecret = errors.New("secret does not open the artifact")
)

// ValidationError names the request field that was rejected. It matches
// domain.ErrValidation with errors.Is.
type ValidationError = domain.ValidationError

// ServiceError wraps unexpected failures with the operation that hit them.
type ServiceError struct {
	// Operation is the operation that failed (e.g., "submit", "status")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("task service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError wraps err, returning nil for a nil err.
func NewServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}
	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
