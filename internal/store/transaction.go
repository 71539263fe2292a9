package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/emplan-api/internal/platform/logger"
)

// TxFn is the unit of work run by RunInTransaction.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// RunInTransaction runs fn inside a single transaction. A task transition
// and the notification it enqueues are written through one call so that
// neither is visible without the other.
//
// The transaction commits when fn returns nil and rolls back otherwise.
// A panic inside fn rolls back and is re-raised. fn's error is returned
// unchanged so callers can match sentinels such as ErrConflict.
func RunInTransaction(ctx context.Context, db *sql.DB, fn TxFn) (err error) {
	log := logger.FromContext(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		p := recover()
		if rbErr := tx.Rollback(); rbErr != nil {
			log.ErrorContext(ctx, "transaction rollback failed",
				slog.String("rollback_error", rbErr.Error()),
				slog.Any("panic", p))
			if p == nil && err != nil {
				err = fmt.Errorf("rollback failed: %v (cause: %w)", rbErr, err)
			}
		}
		if p != nil {
			// ALLOW-PANIC: re-raise after rollback
			panic(p)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		log.DebugContext(ctx, "transaction rolled back", slog.String("error", err.Error()))
		return err
	}

	// A failed commit leaves nothing to roll back.
	committed = true
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
