package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/tx.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE items (name TEXT NOT NULL)`)
	require.NoError(t, err)
	return db
}

func countItems(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
	return n
}

func TestRunInTransaction_Success(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	err := RunInTransaction(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES ('a')`)
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, 1, countItems(t, db))
}

func TestRunInTransaction_FunctionError(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	expectedErr := errors.New("function failed")
	err := RunInTransaction(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES ('a')`); err != nil {
			return err
		}
		return expectedErr
	})

	assert.Equal(t, expectedErr, err)
	assert.Equal(t, 0, countItems(t, db), "insert must be rolled back")
}

func TestRunInTransaction_Panic(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	assert.PanicsWithValue(t, "boom", func() {
		_ = RunInTransaction(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
			_, _ = tx.ExecContext(ctx, `INSERT INTO items (name) VALUES ('a')`)
			panic("boom")
		})
	})
	assert.Equal(t, 0, countItems(t, db))
}

func TestRunInTransaction_HelpersShareTheTransaction(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	insert := func(ctx context.Context, q DBTX, name string) error {
		_, err := q.ExecContext(ctx, `INSERT INTO items (name) VALUES (?)`, name)
		return err
	}
	count := func(ctx context.Context, q DBTX) (n int, err error) {
		err = q.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n)
		return n, err
	}

	err := RunInTransaction(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
		require.NoError(t, insert(ctx, tx, "a"))
		require.NoError(t, insert(ctx, tx, "b"))
		n, err := count(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, 2, n, "writes are visible inside the transaction")
		return errors.New("abort")
	})
	require.Error(t, err)

	n, err := count(context.Background(), db)
	require.NoError(t, err)
	assert.Zero(t, n)
}
