package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/emplan-api/internal/domain"
	"github.com/phrazzld/emplan-api/internal/platform/logger"
	"github.com/phrazzld/emplan-api/internal/store"
)

const taskColumns = `id, requester_contact, subject_name, input_payload, secret, status,
	created_at, started_at, completed_at, error_message, result_content, artifact_ref,
	lease_owner, lease_expires_at, attempts`

// TaskStore implements store.TaskStore on SQLite.
type TaskStore struct {
	db *sql.DB
}

// NewTaskStore creates a TaskStore over an opened, migrated database.
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

var _ store.TaskStore = (*TaskStore)(nil)

// Create inserts a new pending task.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	if task.Status != domain.StatusPending {
		return fmt.Errorf("%w: new tasks must be pending", store.ErrInvalidEntity)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, requester_contact, subject_name, input_payload, secret, status, created_at, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		task.ID.String(),
		task.RequesterContact,
		task.SubjectName,
		string(task.InputPayload),
		task.Secret,
		task.Status.String(),
		toNanos(task.CreatedAt),
	)
	if err != nil {
		log.Error("failed to insert task", "task_id", task.ID, "error", err)
		return store.NewStoreError("task", "create", "failed to insert task", MapError(err))
	}

	return nil
}

// Get returns the task with the given id.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id.String())

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("task", "get", "failed to read task", err)
	}
	return task, nil
}

// ListPendingFIFO returns pending tasks in submission order.
func (s *TaskStore) ListPendingFIFO(ctx context.Context, limit int) ([]*domain.Task, error) {
	return s.queryTasks(ctx, "list_pending", `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`,
		domain.StatusPending.String(),
		limitArg(limit),
	)
}

// ListExpiredLeases returns processing tasks whose lease ran out.
func (s *TaskStore) ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error) {
	return s.queryTasks(ctx, "list_expired_leases", `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?
		ORDER BY lease_expires_at ASC, id ASC
		LIMIT ?`,
		domain.StatusProcessing.String(),
		toNanos(now),
		limitArg(limit),
	)
}

// Transition applies a compare-and-swap status change, enqueueing the
// accompanying notification in the same transaction.
func (s *TaskStore) Transition(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.TaskStatus,
	fields domain.TransitionFields,
) error {
	if err := domain.CheckTransition(from, to, fields); err != nil {
		return err
	}

	log := logger.FromContext(ctx).With("task_id", id, "from", from.String(), "to", to.String())

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		query, args := transitionQuery(id, from, to, fields)

		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return store.NewStoreError("task", "transition", "failed to update task", MapError(err))
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return missOrConflict(ctx, tx, id)
		}

		if fields.Notification != nil {
			if err := insertNotification(ctx, tx, fields.Notification); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if !store.IsConflictError(err) {
			log.Error("task transition failed", "error", err)
		}
		return err
	}

	log.Debug("task transitioned")
	return nil
}

// ReleaseLease puts a processing task with an expired lease back to pending.
func (s *TaskStore) ReleaseLease(ctx context.Context, id uuid.UUID, owner string, now time.Time) error {
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?, started_at = NULL, lease_owner = NULL, lease_expires_at = NULL
			WHERE id = ? AND status = ? AND lease_owner = ? AND lease_expires_at <= ?`,
			domain.StatusPending.String(),
			id.String(),
			domain.StatusProcessing.String(),
			owner,
			toNanos(now),
		)
		if err != nil {
			return store.NewStoreError("task", "release_lease", "failed to release lease", MapError(err))
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return missOrConflict(ctx, tx, id)
		}
		return nil
	})
}

func transitionQuery(id uuid.UUID, from, to domain.TaskStatus, f domain.TransitionFields) (string, []any) {
	var query string
	var args []any

	switch to {
	case domain.StatusProcessing:
		query = `
			UPDATE tasks
			SET status = ?, started_at = ?, lease_owner = ?, lease_expires_at = ?, attempts = attempts + 1
			WHERE id = ? AND status = ?`
		args = []any{to.String(), toNanos(f.At), f.LeaseOwner, toNanos(f.LeaseExpiresAt), id.String(), from.String()}
	case domain.StatusCompleted:
		query = `
			UPDATE tasks
			SET status = ?, completed_at = ?, result_content = ?, artifact_ref = ?,
				lease_owner = NULL, lease_expires_at = NULL, secret = ''
			WHERE id = ? AND status = ?`
		args = []any{to.String(), toNanos(f.At), f.Result.Content, f.Result.ArtifactRef, id.String(), from.String()}
	case domain.StatusFailed:
		query = `
			UPDATE tasks
			SET status = ?, completed_at = ?, error_message = ?,
				lease_owner = NULL, lease_expires_at = NULL, secret = ''
			WHERE id = ? AND status = ?`
		args = []any{to.String(), toNanos(f.At), f.ErrorMessage, id.String(), from.String()}
	}

	if to.IsTerminal() && f.LeaseOwner != "" {
		query += ` AND lease_owner = ?`
		args = append(args, f.LeaseOwner)
	}

	return query, args
}

// missOrConflict distinguishes a missing task from a lost compare-and-swap
// after an update matched no rows.
func missOrConflict(ctx context.Context, q store.DBTX, id uuid.UUID) error {
	var status string
	err := q.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id.String()).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrTaskNotFound
	}
	if err != nil {
		return store.NewStoreError("task", "transition", "failed to read current status", err)
	}
	return fmt.Errorf("%w: task %s is %s", store.ErrConflict, id, status)
}

func (s *TaskStore) queryTasks(ctx context.Context, operation, query string, args ...any) ([]*domain.Task, error) {
	log := logger.FromContext(ctx)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks", "operation", operation, "error", err)
		return nil, store.NewStoreError("task", operation, "failed to query tasks", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, store.NewStoreError("task", operation, "failed to scan task row", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", operation, "error iterating task rows", err)
	}

	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		id             string
		payload        string
		status         string
		createdAt      int64
		startedAt      sql.NullInt64
		completedAt    sql.NullInt64
		errorMessage   sql.NullString
		resultContent  sql.NullString
		artifactRef    sql.NullString
		leaseOwner     sql.NullString
		leaseExpiresAt sql.NullInt64
		task           domain.Task
	)

	err := row.Scan(
		&id,
		&task.RequesterContact,
		&task.SubjectName,
		&payload,
		&task.Secret,
		&status,
		&createdAt,
		&startedAt,
		&completedAt,
		&errorMessage,
		&resultContent,
		&artifactRef,
		&leaseOwner,
		&leaseExpiresAt,
		&task.Attempts,
	)
	if err != nil {
		return nil, err
	}

	if task.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid task id %q: %w", id, err)
	}
	if task.Status, err = domain.ParseTaskStatus(status); err != nil {
		return nil, err
	}

	task.InputPayload = []byte(payload)
	task.CreatedAt = fromNanos(createdAt)
	task.StartedAt = timePtr(startedAt)
	task.CompletedAt = timePtr(completedAt)
	task.ErrorMessage = errorMessage.String
	task.LeaseOwner = leaseOwner.String
	task.LeaseExpiresAt = timePtr(leaseExpiresAt)
	if resultContent.Valid {
		task.Result = &domain.ResultReference{
			Content:     resultContent.String,
			ArtifactRef: artifactRef.String,
		}
	}

	return &task, nil
}
