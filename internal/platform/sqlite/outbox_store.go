package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/emplan-api/internal/domain"
	"github.com/phrazzld/emplan-api/internal/store"
)

const notificationColumns = `id, task_id, kind, recipient, subject, body, attachment_ref, status,
	attempts, next_attempt_at, last_error, created_at, delivered_at`

// OutboxStore implements store.OutboxStore on SQLite.
type OutboxStore struct {
	db *sql.DB
}

// NewOutboxStore creates an OutboxStore sharing the task database.
func NewOutboxStore(db *sql.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

var _ store.OutboxStore = (*OutboxStore)(nil)

func insertNotification(ctx context.Context, q store.DBTX, n *domain.Notification) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO notification_outbox (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		n.ID.String(),
		n.TaskID.String(),
		string(n.Kind),
		n.Recipient,
		n.Subject,
		n.Body,
		n.AttachmentRef,
		domain.NotificationPending.String(),
		n.Attempts,
		toNanos(n.NextAttemptAt),
		n.LastError,
		toNanos(n.CreatedAt),
	)
	if err != nil {
		return store.NewStoreError("notification", "enqueue", "failed to insert notification", MapError(err))
	}
	return nil
}

// ListDueNotifications returns pending notifications ready for an attempt.
func (s *OutboxStore) ListDueNotifications(ctx context.Context, now time.Time, limit int) ([]*domain.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notification_outbox
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC, created_at ASC
		LIMIT ?`,
		domain.NotificationPending.String(),
		toNanos(now),
		limitArg(limit),
	)
	if err != nil {
		return nil, store.NewStoreError("notification", "list_due", "failed to query outbox", err)
	}
	defer func() { _ = rows.Close() }()

	var notifications []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, store.NewStoreError("notification", "list_due", "failed to scan outbox row", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("notification", "list_due", "error iterating outbox rows", err)
	}
	return notifications, nil
}

// GetNotification returns the outbox entry of the given kind for a task.
func (s *OutboxStore) GetNotification(ctx context.Context, taskID uuid.UUID, kind domain.NotificationKind) (*domain.Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notification_outbox
		WHERE task_id = ? AND kind = ?`,
		taskID.String(),
		string(kind),
	)

	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotificationNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("notification", "get", "failed to read notification", err)
	}
	return n, nil
}

// MarkDelivered records a successful delivery.
func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.updatePending(ctx, "mark_delivered", `
		UPDATE notification_outbox
		SET status = ?, delivered_at = ?, attempts = attempts + 1, last_error = ''
		WHERE id = ? AND status = ?`,
		domain.NotificationDelivered.String(),
		toNanos(at),
		id.String(),
		domain.NotificationPending.String(),
	)
}

// MarkRetry records a failed attempt and schedules the next one.
func (s *OutboxStore) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastErr string) error {
	return s.updatePending(ctx, "mark_retry", `
		UPDATE notification_outbox
		SET attempts = ?, next_attempt_at = ?, last_error = ?
		WHERE id = ? AND status = ?`,
		attempts,
		toNanos(nextAttemptAt),
		lastErr,
		id.String(),
		domain.NotificationPending.String(),
	)
}

// MarkDead stops further delivery attempts.
func (s *OutboxStore) MarkDead(ctx context.Context, id uuid.UUID, attempts int, at time.Time, lastErr string) error {
	return s.updatePending(ctx, "mark_dead", `
		UPDATE notification_outbox
		SET status = ?, attempts = ?, next_attempt_at = ?, last_error = ?
		WHERE id = ? AND status = ?`,
		domain.NotificationDead.String(),
		attempts,
		toNanos(at),
		lastErr,
		id.String(),
		domain.NotificationPending.String(),
	)
}

func (s *OutboxStore) updatePending(ctx context.Context, operation, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return store.NewStoreError("notification", operation, "failed to update notification", MapError(err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: notification is not pending", store.ErrNotificationNotFound)
	}
	return nil
}

func scanNotification(row rowScanner) (*domain.Notification, error) {
	var (
		id, taskID, kind, status string
		nextAttemptAt, createdAt int64
		deliveredAt              sql.NullInt64
		n                        domain.Notification
	)

	err := row.Scan(
		&id,
		&taskID,
		&kind,
		&n.Recipient,
		&n.Subject,
		&n.Body,
		&n.AttachmentRef,
		&status,
		&n.Attempts,
		&nextAttemptAt,
		&n.LastError,
		&createdAt,
		&deliveredAt,
	)
	if err != nil {
		return nil, err
	}

	if n.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid notification id %q: %w", id, err)
	}
	if n.TaskID, err = uuid.Parse(taskID); err != nil {
		return nil, fmt.Errorf("invalid task id %q: %w", taskID, err)
	}
	if n.Status, err = domain.ParseNotificationStatus(status); err != nil {
		return nil, err
	}

	n.Kind = domain.NotificationKind(kind)
	n.NextAttemptAt = fromNanos(nextAttemptAt)
	n.CreatedAt = fromNanos(createdAt)
	n.DeliveredAt = timePtr(deliveredAt)

	return &n, nil
}
