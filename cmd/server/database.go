package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/emplan-api/internal/config"
	"github.com/phrazzld/emplan-api/internal/platform/postgres"
	"github.com/phrazzld/emplan-api/internal/platform/sqlite"
	"github.com/phrazzld/emplan-api/internal/store"
)

const sqliteScheme = "sqlite://"

// storage bundles the task and outbox stores sharing one database handle.
type storage struct {
	dialect string
	db      *sql.DB
	tasks   store.TaskStore
	outbox  store.OutboxStore
	migrate func(context.Context, *sql.DB) error
	status  func(context.Context, *sql.DB) (int, error)
}

// sqlitePath returns the file path of a sqlite:// URL, or "" and false for
// any other URL.
func sqlitePath(url string) (string, bool) {
	if !strings.HasPrefix(url, sqliteScheme) {
		return "", false
	}
	path := strings.TrimPrefix(url, sqliteScheme)
	return path, path != ""
}

// openStorage connects to the database named by cfg.URL: sqlite://<path> for
// an embedded file, anything else is handed to the Postgres driver.
func openStorage(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*storage, error) {
	if path, ok := sqlitePath(cfg.URL); ok {
		db, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		logger.Info("database connection established", "dialect", "sqlite")
		return &storage{
			dialect: "sqlite",
			db:      db,
			tasks:   sqlite.NewTaskStore(db),
			outbox:  sqlite.NewOutboxStore(db),
			migrate: sqlite.Migrate,
			status:  sqlite.MigrationStatus,
		}, nil
	}
	if strings.HasPrefix(cfg.URL, sqliteScheme) {
		return nil, fmt.Errorf("sqlite database URL must name a file, e.g. sqlite://data/tasks.db")
	}

	db, err := postgres.Open(ctx, cfg.URL, cfg.MaxConns)
	if err != nil {
		return nil, err
	}
	logger.Info("database connection established", "dialect", "postgres")
	return &storage{
		dialect: "postgres",
		db:      db,
		tasks:   postgres.NewPostgresTaskStore(db),
		outbox:  postgres.NewPostgresOutboxStore(db),
		migrate: postgres.Migrate,
		status:  postgres.MigrationStatus,
	}, nil
}

// Migrate applies pending schema migrations.
func (s *storage) Migrate(ctx context.Context) error {
	if err := s.migrate(ctx, s.db); err != nil {
		return fmt.Errorf("failed to apply %s migrations: %w", s.dialect, err)
	}
	return nil
}

// PendingMigrations reports how many migrations are not yet applied.
func (s *storage) PendingMigrations(ctx context.Context) (int, error) {
	return s.status(ctx, s.db)
}

// Close releases the database handle.
func (s *storage) Close() error {
	return s.db.Close()
}
