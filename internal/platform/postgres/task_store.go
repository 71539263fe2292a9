package postgres

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

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL
type PostgresTaskStore struct {
	db *sql.DB
}

// NewPostgresTaskStore creates a new PostgresTaskStore
func NewPostgresTaskStore(db *sql.DB) *PostgresTaskStore {
	return &PostgresTaskStore{
		db: db,
	}
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// Create persists a new pending task to the database
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	if task.Status != domain.StatusPending {
		return fmt.Errorf("%w: new tasks must be pending", store.ErrInvalidEntity)
	}

	query := `
		INSERT INTO tasks (id, requester_contact, subject_name, input_payload, secret, status, created_at, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
	`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.RequesterContact,
		task.SubjectName,
		string(task.InputPayload),
		task.Secret,
		task.Status.String(),
		task.CreatedAt.UTC(),
	)
	if err != nil {
		log.Error("failed to save task",
			"task_id", task.ID,
			"error", err)
		return store.NewStoreError("task", "create", "failed to insert task", MapError(err))
	}

	return nil
}

// Get retrieves a task by ID
func (s *PostgresTaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("task", "get", "failed to read task", err)
	}
	return task, nil
}

// ListPendingFIFO retrieves pending tasks in submission order
func (s *PostgresTaskStore) ListPendingFIFO(ctx context.Context, limit int) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`
	return s.queryTasks(ctx, "list_pending", query, domain.StatusPending.String(), limitArg(limit))
}

// ListExpiredLeases retrieves processing tasks whose lease has run out
func (s *PostgresTaskStore) ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = $1 AND lease_expires_at <= $2
		ORDER BY lease_expires_at ASC, id ASC
		LIMIT $3
	`
	return s.queryTasks(ctx, "list_expired_leases", query, domain.StatusProcessing.String(), now.UTC(), limitArg(limit))
}

// Transition performs a compare-and-swap status change and, for terminal
// transitions, enqueues the outcome notification in the same transaction.
func (s *PostgresTaskStore) Transition(
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

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return missOrConflict(ctx, tx, id)
		}

		if fields.Notification != nil {
			return insertNotification(ctx, tx, fields.Notification)
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

// ReleaseLease returns a processing task whose lease expired to pending
func (s *PostgresTaskStore) ReleaseLease(ctx context.Context, id uuid.UUID, owner string, now time.Time) error {
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		query := `
			UPDATE tasks
			SET status = $1, started_at = NULL, lease_owner = NULL, lease_expires_at = NULL
			WHERE id = $2 AND status = $3 AND lease_owner = $4 AND lease_expires_at <= $5
		`
		result, err := tx.ExecContext(ctx, query,
			domain.StatusPending.String(),
			id,
			domain.StatusProcessing.String(),
			owner,
			now.UTC(),
		)
		if err != nil {
			return store.NewStoreError("task", "release_lease", "failed to release lease", MapError(err))
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
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
			SET status = $1, started_at = $2, lease_owner = $3, lease_expires_at = $4, attempts = attempts + 1
			WHERE id = $5 AND status = $6`
		args = []any{to.String(), f.At.UTC(), f.LeaseOwner, f.LeaseExpiresAt.UTC(), id, from.String()}
	case domain.StatusCompleted:
		query = `
			UPDATE tasks
			SET status = $1, completed_at = $2, result_content = $3, artifact_ref = $4,
				lease_owner = NULL, lease_expires_at = NULL, secret = ''
			WHERE id = $5 AND status = $6`
		args = []any{to.String(), f.At.UTC(), f.Result.Content, f.Result.ArtifactRef, id, from.String()}
	case domain.StatusFailed:
		query = `
			UPDATE tasks
			SET status = $1, completed_at = $2, error_message = $3,
				lease_owner = NULL, lease_expires_at = NULL, secret = ''
			WHERE id = $4 AND status = $5`
		args = []any{to.String(), f.At.UTC(), f.ErrorMessage, id, from.String()}
	}

	if to.IsTerminal() && f.LeaseOwner != "" {
		args = append(args, f.LeaseOwner)
		query += fmt.Sprintf(` AND lease_owner = $%d`, len(args))
	}

	return query, args
}

// missOrConflict distinguishes a missing task from a lost compare-and-swap
// after an update matched no rows.
func missOrConflict(ctx context.Context, q store.DBTX, id uuid.UUID) error {
	var status string
	err := q.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrTaskNotFound
	}
	if err != nil {
		return store.NewStoreError("task", "transition", "failed to read current status", err)
	}
	return fmt.Errorf("%w: task %s is %s", store.ErrConflict, id, status)
}

func (s *PostgresTaskStore) queryTasks(ctx context.Context, operation, query string, args ...any) ([]*domain.Task, error) {
	log := logger.FromContext(ctx)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks",
			"operation", operation,
			"error", err)
		return nil, store.NewStoreError("task", operation, "failed to query tasks", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan task row",
				"operation", operation,
				"error", err)
			return nil, store.NewStoreError("task", operation, "failed to scan task row", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", operation, "error iterating task rows", err)
	}

	return tasks, nil
}

// limitArg maps a non-positive limit onto SQL NULL, which LIMIT treats as unbounded.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		payload        []byte
		status         string
		startedAt      sql.NullTime
		completedAt    sql.NullTime
		errorMessage   sql.NullString
		resultContent  sql.NullString
		artifactRef    sql.NullString
		leaseOwner     sql.NullString
		leaseExpiresAt sql.NullTime
		task           domain.Task
	)

	err := row.Scan(
		&task.ID,
		&task.RequesterContact,
		&task.SubjectName,
		&payload,
		&task.Secret,
		&status,
		&task.CreatedAt,
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

	if task.Status, err = domain.ParseTaskStatus(status); err != nil {
		return nil, err
	}

	task.InputPayload = payload
	task.CreatedAt = task.CreatedAt.UTC()
	task.StartedAt = nullTimePtr(startedAt)
	task.CompletedAt = nullTimePtr(completedAt)
	task.ErrorMessage = errorMessage.String
	task.LeaseOwner = leaseOwner.String
	task.LeaseExpiresAt = nullTimePtr(leaseExpiresAt)
	if resultContent.Valid {
		task.Result = &domain.ResultReference{
			Content:     resultContent.String,
			ArtifactRef: artifactRef.String,
		}
	}

	return &task, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
