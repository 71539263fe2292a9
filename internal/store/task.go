package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/emplan-api/internal/domain"
)

// TaskStore persists tasks and guards every status change with a
// compare-and-swap on the current status.
//
// Implementations must make each method atomic per record and durable before
// returning.
type TaskStore interface {
	// Create persists a new pending task. The task's ID is assigned before the
	// record becomes visible to readers.
	// Returns an error wrapping domain.ErrValidation for an invalid task.
	Create(ctx context.Context, task *domain.Task) error

	// Get returns the current record for id, or ErrTaskNotFound.
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// ListPendingFIFO returns up to limit pending tasks, oldest created first,
	// ties broken by id. A limit <= 0 returns every pending task.
	ListPendingFIFO(ctx context.Context, limit int) ([]*domain.Task, error)

	// Transition moves the task from one status to another if, and only if,
	// its stored status still equals from. A lost race returns ErrConflict,
	// an unknown id ErrTaskNotFound, and an edge outside the lifecycle
	// domain.ErrInvalidTransition. When fields.Notification is set it is
	// enqueued in the same atomic write.
	Transition(ctx context.Context, id uuid.UUID, from, to domain.TaskStatus, fields domain.TransitionFields) error

	// ListExpiredLeases returns up to limit processing tasks whose lease
	// expired at or before now, oldest lease first.
	ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error)

	// ReleaseLease returns a processing task to pending when owner still holds
	// an expired lease on it. Otherwise it returns ErrConflict.
	ReleaseLease(ctx context.Context, id uuid.UUID, owner string, now time.Time) error
}
