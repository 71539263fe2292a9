package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ResultReference points at the output of a completed task: the generated
// content and the reference of the protected artifact rendered from it.
type ResultReference struct {
	Content     string `json:"content"`
	ArtifactRef string `json:"artifact_ref"`
}

// Task is one durable unit of work: a request to generate a plan for a subject
// and deliver it to the requester.
//
// Lease fields are only meaningful while the task is processing. Secret is
// the protection secret for the rendered artifact; it is never exposed in a
// TaskView and stores clear it once the task is terminal.
type Task struct {
	ID               uuid.UUID
	RequesterContact string
	SubjectName      string
	InputPayload     json.RawMessage
	Secret           string
	Status           TaskStatus
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ErrorMessage     string
	Result           *ResultReference
	LeaseOwner       string
	LeaseExpiresAt   *time.Time
	Attempts         int
}

// NewTask creates a pending task with a fresh ID and creation time.
// Returns a *ValidationError if a required field is empty.
func NewTask(requesterContact, subjectName string, payload json.RawMessage, secret string) (*Task, error) {
	task := &Task{
		ID:               uuid.New(),
		RequesterContact: strings.TrimSpace(requesterContact),
		SubjectName:      strings.TrimSpace(subjectName),
		InputPayload:     payload,
		Secret:           secret,
		Status:           StatusPending,
		CreatedAt:        time.Now().UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks the fields every stored task must carry, plus the
// status-dependent invariants: started_at from processing onward,
// completed_at only when terminal, error_message iff failed, result iff completed.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return NewValidationError("task_id", "must not be empty")
	}
	if strings.TrimSpace(t.RequesterContact) == "" {
		return NewValidationError("requester_contact", "must not be empty")
	}
	if strings.TrimSpace(t.SubjectName) == "" {
		return NewValidationError("subject_name", "must not be empty")
	}
	if len(t.InputPayload) == 0 || string(t.InputPayload) == "null" {
		return NewValidationError("input_payload", "must not be empty")
	}
	if !json.Valid(t.InputPayload) {
		return NewValidationError("input_payload", "must be valid JSON")
	}
	if !t.Status.Valid() {
		return NewValidationError("status", ErrInvalidStatus.Error())
	}
	if t.CreatedAt.IsZero() {
		return NewValidationError("created_at", "must be set")
	}

	switch t.Status {
	case StatusPending:
		if t.StartedAt != nil || t.CompletedAt != nil {
			return NewValidationError("status", "pending task cannot have started or completed")
		}
	case StatusProcessing:
		if t.StartedAt == nil || t.CompletedAt != nil {
			return NewValidationError("started_at", "processing task must have started and not completed")
		}
	case StatusCompleted:
		if t.StartedAt == nil || t.CompletedAt == nil || t.Result == nil {
			return NewValidationError("result_reference", "completed task must carry timestamps and a result")
		}
	case StatusFailed:
		if t.StartedAt == nil || t.CompletedAt == nil || t.ErrorMessage == "" {
			return NewValidationError("error_message", "failed task must carry timestamps and an error message")
		}
	}

	if t.ErrorMessage != "" && t.Status != StatusFailed {
		return NewValidationError("error_message", "only failed tasks carry an error message")
	}
	if t.Result != nil && t.Status != StatusCompleted {
		return NewValidationError("result_reference", "only completed tasks carry a result")
	}

	return nil
}

// LeaseExpired reports whether a processing task's lease ended at or before now.
func (t *Task) LeaseExpired(now time.Time) bool {
	return t.Status == StatusProcessing && t.LeaseExpiresAt != nil && !t.LeaseExpiresAt.After(now)
}

// TaskView is the read-only projection of a task returned to requesters.
type TaskView struct {
	TaskID           uuid.UUID        `json:"task_id"`
	RequesterContact string           `json:"requester_contact"`
	SubjectName      string           `json:"subject_name"`
	InputPayload     json.RawMessage  `json:"input_payload"`
	Status           TaskStatus       `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	StartedAt        *time.Time       `json:"started_at,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	Result           *ResultReference `json:"result_reference,omitempty"`
}

// View projects the task into a TaskView. The secret and lease bookkeeping
// are left out.
func (t *Task) View() TaskView {
	return TaskView{
		TaskID:           t.ID,
		RequesterContact: t.RequesterContact,
		SubjectName:      t.SubjectName,
		InputPayload:     t.InputPayload,
		Status:           t.Status,
		CreatedAt:        t.CreatedAt,
		StartedAt:        t.StartedAt,
		CompletedAt:      t.CompletedAt,
		ErrorMessage:     t.ErrorMessage,
		Result:           t.Result,
	}
}

// TransitionFields carries the values written alongside a status change.
//
// For a claim (pending -> processing) LeaseOwner and LeaseExpiresAt describe
// the new lease. For a terminal transition a non-empty LeaseOwner is a guard:
// the change only applies while that owner still holds the lease.
// Notification, when set, is enqueued in the same atomic write as a terminal
// transition.
type TransitionFields struct {
	At             time.Time
	LeaseOwner     string
	LeaseExpiresAt time.Time
	ErrorMessage   string
	Result         *ResultReference
	Notification   *Notification
}

// CheckTransition validates a requested transition and the fields it needs.
func CheckTransition(from, to TaskStatus, fields TransitionFields) error {
	if !from.Valid() || !to.Valid() {
		return ErrInvalidStatus
	}
	if !from.CanTransitionTo(to) {
		return ErrInvalidTransition
	}
	if fields.At.IsZero() {
		return NewValidationError("at", "transition time must be set")
	}

	switch to {
	case StatusProcessing:
		if fields.LeaseOwner == "" || !fields.LeaseExpiresAt.After(fields.At) {
			return NewValidationError("lease", "claim requires an owner and a future expiry")
		}
	case StatusCompleted:
		if fields.Result == nil {
			return NewValidationError("result_reference", "completion requires a result")
		}
	case StatusFailed:
		if strings.TrimSpace(fields.ErrorMessage) == "" {
			return NewValidationError("error_message", "failure requires an error message")
		}
	}

	if fields.Notification != nil && !to.IsTerminal() {
		return NewValidationError("notification", "only terminal transitions enqueue a notification")
	}

	return nil
}
