package postgres

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

// PostgresOutboxStore implements the store.OutboxStore interface using PostgreSQL
type PostgresOutboxStore struct {
	db *sql.DB
}

// NewPostgresOutboxStore creates a new PostgresOutboxStore
func NewPostgresOutboxStore(db *sql.DB) *PostgresOutboxStore {
	return &PostgresOutboxStore{db: db}
}

var _ store.OutboxStore = (*PostgresOutboxStore)(nil)

func insertNotification(ctx context.Context, q store.DBTX, n *domain.Notification) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO notification_outbox (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULL)
	`
	_, err := q.ExecContext(ctx, query,
		n.ID,
		n.TaskID,
		string(n.Kind),
		n.Recipient,
		n.Subject,
		n.Body,
		n.AttachmentRef,
		domain.NotificationPending.String(),
		n.Attempts,
		n.NextAttemptAt.UTC(),
		n.LastError,
		n.CreatedAt.UTC(),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: notification %s already queued for task %s", store.ErrDuplicate, n.Kind, n.TaskID)
		}
		return store.NewStoreError("notification", "enqueue", "failed to insert notification", MapError(err))
	}
	return nil
}

// ListDueNotifications retrieves pending notifications whose next attempt is due
func (s *PostgresOutboxStore) ListDueNotifications(ctx context.Context, now time.Time, limit int) ([]*domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notification_outbox
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at ASC, created_at ASC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, domain.NotificationPending.String(), now.UTC(), limitArg(limit))
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

// GetNotification retrieves the outbox entry of a kind for a task
func (s *PostgresOutboxStore) GetNotification(ctx context.Context, taskID uuid.UUID, kind domain.NotificationKind) (*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification_outbox WHERE task_id = $1 AND kind = $2`

	n, err := scanNotification(s.db.QueryRowContext(ctx, query, taskID, string(kind)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotificationNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("notification", "get", "failed to read notification", err)
	}
	return n, nil
}

// MarkDelivered records a successful delivery
func (s *PostgresOutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE notification_outbox
		SET status = $1, delivered_at = $2, attempts = attempts + 1, last_error = ''
		WHERE id = $3 AND status = $4
	`
	return s.updatePending(ctx, "mark_delivered", query,
		domain.NotificationDelivered.String(), at.UTC(), id, domain.NotificationPending.String())
}

// MarkRetry records a failed attempt and schedules the next one
func (s *PostgresOutboxStore) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastErr string) error {
	query := `
		UPDATE notification_outbox
		SET attempts = $1, next_attempt_at = $2, last_error = $3
		WHERE id = $4 AND status = $5
	`
	return s.updatePending(ctx, "mark_retry", query,
		attempts, nextAttemptAt.UTC(), lastErr, id, domain.NotificationPending.String())
}

// MarkDead stops further delivery attempts
func (s *PostgresOutboxStore) MarkDead(ctx context.Context, id uuid.UUID, attempts int, at time.Time, lastErr string) error {
	query := `
		UPDATE notification_outbox
		SET status = $1, attempts = $2, next_attempt_at = $3, last_error = $4
		WHERE id = $5 AND status = $6
	`
	return s.updatePending(ctx, "mark_dead", query,
		domain.NotificationDead.String(), attempts, at.UTC(), lastErr, id, domain.NotificationPending.String())
}

func (s *PostgresOutboxStore) updatePending(ctx context.Context, operation, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return store.NewStoreError("notification", operation, "failed to update notification", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: notification is not pending", store.ErrNotificationNotFound)
	}
	return nil
}

func scanNotification(row rowScanner) (*domain.Notification, error) {
	var (
		kind, status string
		deliveredAt  sql.NullTime
		n            domain.Notification
	)

	err := row.Scan(
		&n.ID,
		&n.TaskID,
		&kind,
		&n.Recipient,
		&n.Subject,
		&n.Body,
		&n.AttachmentRef,
		&status,
		&n.Attempts,
		&n.NextAttemptAt,
		&n.LastError,
		&n.CreatedAt,
		&deliveredAt,
	)
	if err != nil {
		return nil, err
	}

	if n.Status, err = domain.ParseNotificationStatus(status); err != nil {
		return nil, err
	}

	n.Kind = domain.NotificationKind(kind)
	n.NextAttemptAt = n.NextAttemptAt.UTC()
	n.CreatedAt = n.CreatedAt.UTC()
	n.DeliveredAt = nullTimePtr(deliveredAt)

	return &n, nil
}
