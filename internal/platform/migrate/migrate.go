// Package migrate applies the embedded SQL migrations of a storage backend
// with goose, logging through slog.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

// slogGooseLogger adapts the goose logger interface to use slog
type slogGooseLogger struct {
	log *slog.Logger
}

// Printf implements the goose.Logger Printf method by forwarding messages to slog.Info
func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	l.log.Info(fmt.Sprintf(format, v...))
}

// Fatalf implements the goose.Logger Fatalf method by forwarding error messages to slog.Error.
// It does not exit; the error is returned to the caller.
func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	l.log.Error(fmt.Sprintf(format, v...))
}

func newProvider(dialect goose.Dialect, db *sql.DB, fsys fs.FS) (*goose.Provider, error) {
	provider, err := goose.NewProvider(
		dialect,
		db,
		fsys,
		goose.WithLogger(&slogGooseLogger{log: slog.Default().With("component", "migrate")}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return provider, nil
}

// Up applies every pending migration found in fsys.
func Up(ctx context.Context, dialect goose.Dialect, db *sql.DB, fsys fs.FS) error {
	provider, err := newProvider(dialect, db, fsys)
	if err != nil {
		return err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	for _, r := range results {
		slog.Info("applied migration",
			"version", r.Source.Version,
			"path", r.Source.Path,
			"duration", r.Duration)
	}
	return nil
}

// Status logs the state of every known migration and returns the number
// still pending.
func Status(ctx context.Context, dialect goose.Dialect, db *sql.DB, fsys fs.FS) (int, error) {
	provider, err := newProvider(dialect, db, fsys)
	if err != nil {
		return 0, err
	}

	statuses, err := provider.Status(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read migration status: %w", err)
	}

	pending := 0
	for _, s := range statuses {
		if s.State == goose.StatePending {
			pending++
		}
		slog.Info("migration status",
			"version", s.Source.Version,
			"path", s.Source.Path,
			"state", string(s.State))
	}
	return pending, nil
}
