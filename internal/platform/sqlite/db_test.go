package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/phrazzld/emplan-api/internal/platform/sqlite"
	"github.com/phrazzld/emplan-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	driver "modernc.org/sqlite"
)

func TestOpen_PathWithReservedCharacters(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plans?v=1#main", "tasks 100%.db")
	db := openMigrated(t, path)
	t.Cleanup(func() { _ = db.Close() })

	tasks := sqlite.NewTaskStore(db)
	task := newTask(t, "Acme")
	require.NoError(t, tasks.Create(context.Background(), task))

	_, err := os.Stat(path)
	assert.NoError(t, err, "the database file keeps its literal name")
}

func TestMapError(t *testing.T) {
	t.Parallel()

	t.Run("duplicate keeps the driver error", func(t *testing.T) {
		t.Parallel()
		tasks, _ := newTestStores(t)
		task := newTask(t, "Acme")
		require.NoError(t, tasks.Create(context.Background(), task))

		err := tasks.Create(context.Background(), task)
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrDuplicate)

		var sqliteErr *driver.Error
		assert.ErrorAs(t, err, &sqliteErr)
	})

	t.Run("no rows", func(t *testing.T) {
		t.Parallel()
		mapped := sqlite.MapError(sql.ErrNoRows)
		assert.ErrorIs(t, mapped, store.ErrNotFound)
		assert.ErrorIs(t, mapped, sql.ErrNoRows)
	})

	t.Run("unmapped", func(t *testing.T) {
		t.Parallel()
		generic := errors.New("disk I/O error")
		assert.Equal(t, generic, sqlite.MapError(generic))
		assert.NoError(t, sqlite.MapError(nil))
	})
}
