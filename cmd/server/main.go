// Package main implements the emplan-api server: an HTTP API accepting
// emergency response plan requests, a pool of workers generating and
// rendering the plans, and the relay delivering outcome notifications.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/emplan-api/internal/config"
	"github.com/phrazzld/emplan-api/internal/platform/logger"
	"github.com/phrazzld/emplan-api/internal/tracing"
)

type options struct {
	configFile      string
	migrate         bool
	migrationStatus bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configFile, "config", "", "path to a config file (default ./config.yaml if present)")
	flag.BoolVar(&opts.migrate, "migrate", false, "apply pending database migrations and exit")
	flag.BoolVar(&opts.migrationStatus, "migration-status", false, "report pending database migrations and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatalf("emplan-api: %v", err)
	}
}

// run loads configuration, connects storage and serves until ctx is done.
func run(ctx context.Context, opts options) error {
	cfg, err := config.LoadFile(opts.configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	l.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"auth_enabled", cfg.Auth.JWTSecret != "")

	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			l.Error("failed to flush traces", "error", err)
		}
	}()

	st, err := openStorage(ctx, cfg.Database, l)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if opts.migrate || opts.migrationStatus {
		defer func() { _ = st.Close() }()
		return runMigrationCommand(ctx, st, opts, l)
	}

	if cfg.Database.AutoMigrate {
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return err
		}
	}

	app, err := newApplication(ctx, cfg, l, st, nil)
	if err != nil {
		_ = st.Close()
		return err
	}

	router, err := app.setupRouter()
	if err != nil {
		_ = app.cleanup(ctx)
		return err
	}

	if err := app.start(ctx); err != nil {
		_ = app.cleanup(context.Background())
		return err
	}

	return app.serve(ctx, router)
}

func runMigrationCommand(ctx context.Context, st *storage, opts options, l *slog.Logger) error {
	if opts.migrate {
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		l.Info("migrations applied", "dialect", st.dialect)
		return nil
	}

	pending, err := st.PendingMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}
	fmt.Fprintf(os.Stdout, "%s: %d pending migration(s)\n", st.dialect, pending)
	return nil
}
