package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/emplan-api/internal/config"
	"github.com/phrazzld/emplan-api/internal/events"
	"github.com/phrazzld/emplan-api/internal/generation"
	"github.com/phrazzld/emplan-api/internal/metrics"
	"github.com/phrazzld/emplan-api/internal/notify"
	"github.com/phrazzld/emplan-api/internal/outbox"
	"github.com/phrazzld/emplan-api/internal/platform/gemini"
	"github.com/phrazzld/emplan-api/internal/platform/openai"
	"github.com/phrazzld/emplan-api/internal/render"
	"github.com/phrazzld/emplan-api/internal/service"
	"github.com/phrazzld/emplan-api/internal/task"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config  *config.Config
	logger  *slog.Logger
	storage *storage
	metrics *metrics.Metrics
	emitter *events.InMemoryEmitter

	generator       generation.Generator
	renderer        render.Renderer
	dispatcher      notify.Dispatcher
	closeDispatcher func() error

	submissions service.SubmissionService
	statuses    service.StatusService
	artifacts   service.ArtifactService

	relay  *outbox.Relay
	runner *task.Runner
}

// newApplication wires every component on top of an open storage. A nil
// generator is built from cfg.LLM.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	st *storage,
	generator generation.Generator,
) (*application, error) {
	app := &application{
		config:  cfg,
		logger:  logger,
		storage: st,
		metrics: metrics.New(),
	}

	app.emitter = events.NewInMemoryEmitter(logger)
	app.emitter.RegisterHandler(events.LogHandler(logger.With("component", "task_events")))

	var err error
	if generator == nil {
		generator, err = newGenerator(ctx, cfg.LLM, logger.With("component", "llm_generator"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM generator: %w", err)
		}
	}
	app.generator = generator
	logger.Info("LLM generator initialized", "provider", cfg.LLM.Provider, "model", cfg.LLM.ModelName)

	fileRenderer, err := render.NewFileRenderer(cfg.Artifacts.Dir, logger.With("component", "renderer"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize renderer: %w", err)
	}
	app.renderer = fileRenderer

	app.dispatcher, app.closeDispatcher, err = notify.New(cfg.Notify, logger.With("component", "notify"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize notification dispatcher: %w", err)
	}
	logger.Info("notification dispatcher initialized", "driver", cfg.Notify.Driver)

	app.submissions, err = service.NewSubmissionService(st.tasks, logger, app.metrics, app.emitter)
	if err != nil {
		return nil, err
	}
	app.statuses, err = service.NewStatusService(st.tasks, logger)
	if err != nil {
		return nil, err
	}
	app.artifacts, err = service.NewArtifactService(st.tasks, fileRenderer, logger)
	if err != nil {
		return nil, err
	}

	app.relay = outbox.NewRelay(st.outbox, app.dispatcher, outbox.ConfigFromNotify(cfg.Notify), logger, app.metrics)

	app.runner, err = task.NewRunner(task.Deps{
		Store:     st.tasks,
		Generator: app.generator,
		Renderer:  app.renderer,
		Logger:    logger,
		Metrics:   app.metrics,
		Events:    app.emitter,
	}, app.relay, task.ConfigFromQueue(cfg.Queue))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize task runner: %w", err)
	}

	return app, nil
}

// newGenerator builds the generator for the configured provider.
func newGenerator(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (generation.Generator, error) {
	prompts, err := generation.NewPromptBuilder(cfg.PromptTemplatePath)
	if err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "gemini":
		return gemini.NewGenerator(ctx, logger, cfg, prompts)
	case "openai":
		return openai.NewGenerator(logger, cfg, prompts)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", generation.ErrInvalidConfig, cfg.Provider)
	}
}

// start launches the background workers.
func (app *application) start(ctx context.Context) error {
	if err := app.runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}
	app.logger.Info("task runner started",
		"workers", len(app.runner.WorkerIDs()),
		"lease_duration", app.config.Queue.LeaseDuration)
	return nil
}

// cleanup stops the workers and releases resources. In-flight tasks are
// given until ctx expires to reach a terminal state.
func (app *application) cleanup(ctx context.Context) error {
	var errs []error
	if app.runner != nil {
		if err := app.runner.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if app.closeDispatcher != nil {
		if err := app.closeDispatcher(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close dispatcher: %w", err))
		}
	}
	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
