package store

import (
	"errors"
	"fmt"
)

// Sentinels reported by every TaskStore and OutboxStore backend.
var (
	ErrNotFound = errors.New("entity not found")

	// ErrConflict means a compare-and-swap found the row in a different
	// state than expected. Another writer moved it first.
	ErrConflict = errors.New("conflicting update")

	// ErrDuplicate is a uniqueness violation, such as a second notification
	// of the same kind for one task.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity wraps a validation failure caught before the write.
	ErrInvalidEntity = errors.New("invalid entity")

	ErrTaskNotFound         = fmt.Errorf("%w: task", ErrNotFound)
	ErrNotificationNotFound = fmt.Errorf("%w: notification", ErrNotFound)
)

// IsNotFoundError reports whether err is a task or notification miss.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflictError checks if the error reports a lost compare-and-swap.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflict)
}

// StoreError records which backend operation failed on which entity.
type StoreError struct {
	Entity    string // "task" or "notification"
	Operation string // "create", "transition", "claim_due", ...
	Message   string
	Err       error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf(
			"%s operation on %s failed: %s: %v",
			e.Operation,
			e.Entity,
			e.Message,
			e.Err,
		)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError builds a StoreError. err is usually the output of a
// backend's MapError so sentinels survive errors.Is.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
