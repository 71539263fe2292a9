package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/emplan-api/internal/domain"
)

// OutboxStore exposes the notification outbox written by terminal task
// transitions. Entries are delivered at least once.
type OutboxStore interface {
	// ListDueNotifications returns up to limit pending notifications whose next
	// attempt is due at or before now, oldest first.
	ListDueNotifications(ctx context.Context, now time.Time, limit int) ([]*domain.Notification, error)

	// GetNotification returns the outbox entry of the given kind for a task.
	GetNotification(ctx context.Context, taskID uuid.UUID, kind domain.NotificationKind) (*domain.Notification, error)

	// MarkDelivered records a successful delivery.
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error

	// MarkRetry records a failed attempt and schedules the next one.
	MarkRetry(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastErr string) error

	// MarkDead gives up on a notification after its final failed attempt.
	MarkDead(ctx context.Context, id uuid.UUID, attempts int, at time.Time, lastErr string) error
}
