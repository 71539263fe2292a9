package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind names the terminal outcome a notification announces.
type NotificationKind string

// Notification kinds, one per terminal status.
const (
	NotificationCompleted NotificationKind = "completed"
	NotificationFailed    NotificationKind = "failed"
)

// KindForStatus returns the notification kind announcing a terminal status.
func KindForStatus(status TaskStatus) (NotificationKind, error) {
	switch status {
	case StatusCompleted:
		return NotificationCompleted, nil
	case StatusFailed:
		return NotificationFailed, nil
	default:
		return "", ErrInvalidTransition
	}
}

// Notification is an outbox entry describing a message owed to a requester.
// At most one exists per (TaskID, Kind).
type Notification struct {
	ID            uuid.UUID
	TaskID        uuid.UUID
	Kind          NotificationKind
	Recipient     string
	Subject       string
	Body          string
	AttachmentRef string
	Status        NotificationStatus
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DeliveredAt   *time.Time
}

// NewNotification creates a pending notification due immediately.
func NewNotification(taskID uuid.UUID, kind NotificationKind, recipient, subject, body, attachmentRef string, now time.Time) (*Notification, error) {
	n := &Notification{
		ID:            uuid.New(),
		TaskID:        taskID,
		Kind:          kind,
		Recipient:     recipient,
		Subject:       subject,
		Body:          body,
		AttachmentRef: attachmentRef,
		Status:        NotificationPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}

	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// Validate checks the notification has enough to be delivered.
func (n *Notification) Validate() error {
	if n.ID == uuid.Nil {
		return NewValidationError("id", "must not be empty")
	}
	if n.TaskID == uuid.Nil {
		return NewValidationError("task_id", "must not be empty")
	}
	if n.Kind != NotificationCompleted && n.Kind != NotificationFailed {
		return NewValidationError("kind", "must be completed or failed")
	}
	if n.Recipient == "" {
		return NewValidationError("recipient", "must not be empty")
	}
	if n.Subject == "" {
		return NewValidationError("subject", "must not be empty")
	}
	return nil
}
