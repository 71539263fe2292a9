package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names a lifecycle event.
type Type string

const (
	TaskSubmitted Type = "task.submitted"
	TaskClaimed   Type = "task.claimed"
	TaskCompleted Type = "task.completed"
	TaskFailed    Type = "task.failed"

	// LeaseReleased is emitted when an expired lease returns a task to pending.
	LeaseReleased Type = "task.lease_released"

	// TaskAbandoned is emitted when a task exhausts its attempts and is failed
	// by the lease sweeper.
	TaskAbandoned Type = "task.abandoned"
)

// Event describes one lifecycle change of a task.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	Type   Type      `json:"type"`
	TaskID uuid.UUID `json:"task_id"`

	// WorkerID is the lease owner involved, if any
	WorkerID string `json:"worker_id,omitempty"`

	// Detail carries the failure reason for failed and abandoned tasks
	Detail string `json:"detail,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// New creates an event for taskID stamped with the current time.
func New(eventType Type, taskID uuid.UUID, workerID string) *Event {
	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		TaskID:    taskID,
		WorkerID:  workerID,
		CreatedAt: time.Now().UTC(),
	}
}

// WithDetail sets Detail and returns e.
func (e *Event) WithDetail(detail string) *Event {
	e.Detail = detail
	return e
}

// Handler processes emitted events.
type Handler interface {
	HandleEvent(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Emitter publishes events.
type Emitter interface {
	Emit(ctx context.Context, event *Event) error
}

// Emit publishes event on e, doing nothing when e is nil. Errors are dropped:
// lifecycle events are advisory and never change task state.
func Emit(ctx context.Context, e Emitter, event *Event) {
	if e == nil {
		return
	}
	_ = e.Emit(ctx, event)
}
