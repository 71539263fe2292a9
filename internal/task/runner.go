package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/emplan-api/internal/outbox"
)

// ErrRunnerStarted is returned by Start on a runner that is already running.
var ErrRunnerStarted = errors.New("task runner already started")

// Runner manages background task processing: the worker pool, the lease
// sweeper and, when configured, the notification relay.
type Runner struct {
	workers []*Worker
	sweeper *Sweeper
	relay   *outbox.Relay
	logger  *slog.Logger

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewRunner creates a Runner with cfg.WorkerCount workers. relay may be nil,
// in which case outbox entries accumulate until another process relays them.
func NewRunner(deps Deps, relay *outbox.Relay, cfg Config) (*Runner, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if cfg.LeaseDuration <= cfg.GenerationTimeout+cfg.RenderTimeout {
		return nil, fmt.Errorf("lease duration %s must exceed generation and render timeouts combined",
			cfg.LeaseDuration)
	}

	r := &Runner{
		sweeper: NewSweeper(deps, cfg),
		relay:   relay,
		logger:  deps.Logger.With("component", "task_runner"),
	}

	prefix := workerIDPrefix()
	for i := 0; i < cfg.WorkerCount; i++ {
		w, err := NewWorker(fmt.Sprintf("%s-%d", prefix, i), deps, cfg)
		if err != nil {
			return nil, err
		}
		r.workers = append(r.workers, w)
	}

	return r, nil
}

// Start recovers expired leases left by earlier processes, then launches the
// workers, the sweeper and the relay. The goroutines outlive ctx; call Stop
// to end them.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancelFunc != nil {
		return ErrRunnerStarted
	}

	if n, err := r.sweeper.SweepOnce(ctx); err != nil {
		r.logger.ErrorContext(ctx, "startup lease recovery failed", "error", err)
	} else if n > 0 {
		r.logger.InfoContext(ctx, "recovered tasks from a previous run", "count", n)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancelFunc = cancel

	for _, w := range r.workers {
		r.wg.Add(1)
		go func(w *Worker) {
			defer r.wg.Done()
			w.Run(runCtx)
		}(w)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.sweeper.Run(runCtx)
	}()

	if r.relay != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.relay.Run(runCtx)
		}()
	}

	r.logger.InfoContext(ctx, "task runner started", "workers", len(r.workers))
	return nil
}

// Stop signals every loop to finish and waits for them. Tasks already being
// processed run to their terminal status first. If ctx ends before that,
// Stop returns its error and the loops keep draining in the background.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancelFunc
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.InfoContext(ctx, "task runner stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for workers to stop: %w", ctx.Err())
	}
}

// WorkerIDs returns the lease owner identities of the workers.
func (r *Runner) WorkerIDs() []string {
	ids := make([]string, len(r.workers))
	for i, w := range r.workers {
		ids[i] = w.ID()
	}
	return ids
}

// workerIDPrefix identifies this process among others sharing the store.
func workerIDPrefix() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}
