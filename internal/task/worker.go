package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/emplan-api/internal/domain"
	"github.com/phrazzld/emplan-api/internal/events"
	"github.com/phrazzld/emplan-api/internal/generation"
	"github.com/phrazzld/emplan-api/internal/metrics"
	"github.com/phrazzld/emplan-api/internal/notify"
	"github.com/phrazzld/emplan-api/internal/platform/logger"
	"github.com/phrazzld/emplan-api/internal/redact"
	"github.com/phrazzld/emplan-api/internal/render"
	"github.com/phrazzld/emplan-api/internal/store"
	"github.com/phrazzld/emplan-api/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// finishAttempts bounds how often a terminal transition is retried after a
// storage error before the task is left to lease recovery.
const finishAttempts = 3

var errTimedOut = errors.New("timed out")

// Deps are the collaborators shared by workers and the sweeper.
type Deps struct {
	Store     store.TaskStore
	Generator generation.Generator
	Renderer  render.Renderer
	Logger    *slog.Logger

	// Optional
	Metrics *metrics.Metrics
	Events  events.Emitter
}

func (d Deps) validate() error {
	switch {
	case d.Store == nil:
		return errors.New("task store cannot be nil")
	case d.Generator == nil:
		return errors.New("generator cannot be nil")
	case d.Renderer == nil:
		return errors.New("renderer cannot be nil")
	case d.Logger == nil:
		return errors.New("logger cannot be nil")
	}
	return nil
}

// Worker claims pending tasks one at a time and drives each to a terminal
// status.
type Worker struct {
	id     string
	deps   Deps
	cfg    Config
	logger *slog.Logger

	now        func() time.Time
	retryDelay time.Duration
}

// NewWorker creates a worker that claims tasks under the lease owner id.
func NewWorker(id string, deps Deps, cfg Config) (*Worker, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("worker id cannot be empty")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	return &Worker{
		id:         id,
		deps:       deps,
		cfg:        cfg.withDefaults(),
		logger:     deps.Logger.With("component", "worker", "worker_id", id),
		now:        func() time.Time { return time.Now().UTC() },
		retryDelay: time.Second,
	}, nil
}

// ID returns the lease owner identity of the worker.
func (w *Worker) ID() string {
	return w.id
}

// Run polls for work until ctx is cancelled. An empty queue waits for the poll
// interval, a storage error for the error backoff; a handled task polls again
// immediately.
func (w *Worker) Run(ctx context.Context) {
	w.logger.InfoContext(ctx, "worker started",
		"poll_interval", w.cfg.PollInterval.String(),
		"lease_duration", w.cfg.LeaseDuration.String())

	for {
		if ctx.Err() != nil {
			w.logger.InfoContext(ctx, "worker stopped")
			return
		}

		handled, err := w.RunOnce(ctx)

		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			w.logger.ErrorContext(ctx, "worker cycle failed, backing off",
				"error", err,
				"backoff", w.cfg.ErrorBackoff.String())
			wait = w.cfg.ErrorBackoff
		case handled:
			continue
		default:
			wait = w.cfg.PollInterval
		}

		if !sleep(ctx, wait) {
			w.logger.InfoContext(ctx, "worker stopped")
			return
		}
	}
}

// RunOnce performs a single poll-claim-process cycle. It reports whether a
// pending task was found, including one lost to another worker's claim.
// Errors are storage failures while polling or claiming; failures of the
// task itself are recorded on the task and never returned.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	pending, err := w.deps.Store.ListPendingFIFO(ctx, 1)
	if err != nil {
		w.deps.Metrics.RecordStorageError("list_pending")
		return false, fmt.Errorf("failed to poll pending tasks: %w", err)
	}
	if len(pending) == 0 {
		return false, nil
	}

	claimed, err := w.claim(ctx, pending[0])
	if err != nil {
		return false, err
	}
	if claimed != nil {
		w.process(ctx, claimed)
	}
	return true, nil
}

// claim moves t from pending to processing under this worker's lease. It
// returns nil without error when another worker claimed t first.
func (w *Worker) claim(ctx context.Context, t *domain.Task) (*domain.Task, error) {
	now := w.now()
	expires := now.Add(w.cfg.LeaseDuration)

	err := w.deps.Store.Transition(ctx, t.ID, domain.StatusPending, domain.StatusProcessing, domain.TransitionFields{
		At:             now,
		LeaseOwner:     w.id,
		LeaseExpiresAt: expires,
	})
	if store.IsConflictError(err) || store.IsNotFoundError(err) {
		w.deps.Metrics.RecordClaimConflict()
		w.logger.DebugContext(ctx, "task claimed by another worker", "task_id", t.ID)
		return nil, nil
	}
	if err != nil {
		w.deps.Metrics.RecordStorageError("claim")
		return nil, fmt.Errorf("failed to claim task %s: %w", t.ID, err)
	}

	t.Status = domain.StatusProcessing
	t.StartedAt = &now
	t.LeaseOwner = w.id
	t.LeaseExpiresAt = &expires
	t.Attempts++

	w.deps.Metrics.RecordClaim()
	events.Emit(ctx, w.deps.Events, events.New(events.TaskClaimed, t.ID, w.id))
	return t, nil
}

// process generates and renders a claimed task and records the outcome. It
// runs detached from ctx's cancellation so a stop request never strands a
// claimed task between statuses; the per-step deadlines bound it instead.
func (w *Worker) process(ctx context.Context, t *domain.Task) {
	log := w.logger.With("task_id", t.ID, "attempt", t.Attempts)
	ctx = logger.WithLogger(context.WithoutCancel(ctx), log)

	ctx, span := tracing.StartSpan(ctx, "task.process",
		attribute.String("task.id", t.ID.String()),
		attribute.String("worker.id", w.id),
		attribute.Int("task.attempt", t.Attempts))
	defer span.End()

	log.InfoContext(ctx, "processing task", "subject_name", t.SubjectName)

	content, err := w.generate(ctx, t)
	var ref string
	if err == nil {
		ref, err = w.render(ctx, t, content)
	}
	if err != nil {
		tracing.SetSpanError(ctx, err)
		w.finish(ctx, t, domain.StatusFailed, redact.Secrets(err.Error(), t.Secret), nil)
		return
	}

	w.finish(ctx, t, domain.StatusCompleted, "", &domain.ResultReference{
		Content:     content,
		ArtifactRef: ref,
	})
}

func (w *Worker) generate(ctx context.Context, t *domain.Task) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "task.generate")
	defer span.End()

	content, err := callWithTimeout(ctx, w.cfg.GenerationTimeout, func(ctx context.Context) (string, error) {
		return w.deps.Generator.Generate(ctx, generation.Request{
			TaskID:      t.ID,
			SubjectName: t.SubjectName,
			Payload:     t.InputPayload,
		})
	})
	switch {
	case errors.Is(err, errTimedOut):
		err = fmt.Errorf("%w: timed out after %s", ErrGeneration, w.cfg.GenerationTimeout)
	case err != nil:
		err = fmt.Errorf("%w: %w", ErrGeneration, err)
	case strings.TrimSpace(content) == "":
		err = fmt.Errorf("%w: generator returned no content", ErrGeneration)
	}
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return "", err
	}
	return content, nil
}

func (w *Worker) render(ctx context.Context, t *domain.Task, content string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "task.render")
	defer span.End()

	ref, err := callWithTimeout(ctx, w.cfg.RenderTimeout, func(ctx context.Context) (string, error) {
		return w.deps.Renderer.Render(ctx, render.Request{
			TaskID:  t.ID,
			Title:   "Emergency Response Plan: " + t.SubjectName,
			Content: content,
			Secret:  t.Secret,
		})
	})
	switch {
	case errors.Is(err, errTimedOut):
		err = fmt.Errorf("%w: timed out after %s", ErrRendering, w.cfg.RenderTimeout)
	case err != nil:
		err = fmt.Errorf("%w: %w", ErrRendering, err)
	case ref == "":
		err = fmt.Errorf("%w: renderer returned no artifact reference", ErrRendering)
	}
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return "", err
	}
	return ref, nil
}

// finish writes the terminal transition together with its outbox entry. The
// write is guarded by this worker's lease: when the lease was lost the
// outcome is discarded, since the task now belongs to someone else.
func (w *Worker) finish(
	ctx context.Context,
	t *domain.Task,
	to domain.TaskStatus,
	errorMessage string,
	result *domain.ResultReference,
) {
	log := logger.FromContext(ctx)
	now := w.now()

	n, err := notify.NewOutcomeNotification(t, to, errorMessage, result, now)
	if err != nil {
		log.ErrorContext(ctx, "failed to compose outcome notification", "error", err)
	}

	fields := domain.TransitionFields{
		At:           now,
		LeaseOwner:   w.id,
		ErrorMessage: errorMessage,
		Result:       result,
		Notification: n,
	}

	for attempt := 1; ; attempt++ {
		err = w.deps.Store.Transition(ctx, t.ID, domain.StatusProcessing, to, fields)
		if err == nil {
			break
		}
		if store.IsConflictError(err) || store.IsNotFoundError(err) {
			log.WarnContext(ctx, "lease lost before the outcome was recorded, discarding it",
				"status", to.String(),
				"error", err)
			return
		}

		w.deps.Metrics.RecordStorageError("finish")
		if attempt >= finishAttempts {
			log.ErrorContext(ctx, "failed to record task outcome, leaving it to lease recovery",
				"status", to.String(),
				"attempts", attempt,
				"error", err)
			return
		}
		log.WarnContext(ctx, "failed to record task outcome, retrying", "attempt", attempt, "error", err)
		if !sleep(ctx, w.retryDelay) {
			return
		}
	}

	elapsed := elapsedSince(t.StartedAt, now)
	w.deps.Metrics.RecordFinished(to.String(), elapsed)

	if to == domain.StatusCompleted {
		log.InfoContext(ctx, "task completed",
			"artifact_ref", result.ArtifactRef,
			"duration", elapsed.String())
		events.Emit(ctx, w.deps.Events, events.New(events.TaskCompleted, t.ID, w.id))
		return
	}

	log.WarnContext(ctx, "task failed",
		"error_message", errorMessage,
		"duration", elapsed.String())
	events.Emit(ctx, w.deps.Events, events.New(events.TaskFailed, t.ID, w.id).WithDetail(errorMessage))
}

type callResult struct {
	value string
	err   error
}

// callWithTimeout runs call under timeout and returns errTimedOut once the
// deadline passes, even if call ignores its context. A panic inside call is
// returned as an error.
func callWithTimeout(
	ctx context.Context,
	timeout time.Duration,
	call func(context.Context) (string, error),
) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		value, err := call(ctx)
		done <- callResult{value: value, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", errTimedOut
		}
		return r.value, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", errTimedOut
		}
		return "", ctx.Err()
	}
}

// sleep waits for d or until ctx is done, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
