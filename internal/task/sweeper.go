package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/emplan-api/internal/domain"
	"github.com/phrazzld/emplan-api/internal/events"
	"github.com/phrazzld/emplan-api/internal/notify"
	"github.com/phrazzld/emplan-api/internal/store"
)

const sweepBatchSize = 100

// Sweeper recovers tasks whose worker stopped renewing its claim. An expired
// lease goes back to pending, unless the task has used up its attempts, in
// which case it fails.
type Sweeper struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewSweeper creates a Sweeper. Only deps.Store and deps.Logger are required.
func NewSweeper(deps Deps, cfg Config) *Sweeper {
	return &Sweeper{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: deps.Logger.With("component", "lease_sweeper"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every sweep interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "lease sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce handles one batch of expired leases and returns how many tasks it
// recovered. Leases that changed hands since they were listed are skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now()

	expired, err := s.deps.Store.ListExpiredLeases(ctx, now, sweepBatchSize)
	if err != nil {
		s.deps.Metrics.RecordStorageError("list_expired_leases")
		return 0, fmt.Errorf("failed to list expired leases: %w", err)
	}

	recovered := 0
	for _, t := range expired {
		if ctx.Err() != nil {
			break
		}

		var err error
		if t.Attempts >= s.cfg.MaxAttempts {
			err = s.abandon(ctx, t, now)
		} else {
			err = s.release(ctx, t, now)
		}

		switch {
		case err == nil:
			recovered++
		case store.IsConflictError(err) || store.IsNotFoundError(err):
			s.logger.DebugContext(ctx, "expired lease changed hands, skipping", "task_id", t.ID)
		default:
			s.deps.Metrics.RecordStorageError("recover_lease")
			s.logger.ErrorContext(ctx, "failed to recover expired lease",
				"task_id", t.ID,
				"lease_owner", t.LeaseOwner,
				"error", err)
		}
	}

	if recovered > 0 {
		s.logger.InfoContext(ctx, "recovered expired leases", "count", recovered)
	}
	return recovered, nil
}

func (s *Sweeper) release(ctx context.Context, t *domain.Task, now time.Time) error {
	if err := s.deps.Store.ReleaseLease(ctx, t.ID, t.LeaseOwner, now); err != nil {
		return err
	}

	s.deps.Metrics.RecordLeaseRecovered("released")
	s.logger.WarnContext(ctx, "released expired lease",
		"task_id", t.ID,
		"lease_owner", t.LeaseOwner,
		"attempts", t.Attempts)
	events.Emit(ctx, s.deps.Events, events.New(events.LeaseReleased, t.ID, t.LeaseOwner))
	return nil
}

func (s *Sweeper) abandon(ctx context.Context, t *domain.Task, now time.Time) error {
	message := fmt.Sprintf("abandoned after %d attempts: worker lease expired", t.Attempts)

	n, err := notify.NewOutcomeNotification(t, domain.StatusFailed, message, nil, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to compose outcome notification", "task_id", t.ID, "error", err)
	}

	err = s.deps.Store.Transition(ctx, t.ID, domain.StatusProcessing, domain.StatusFailed, domain.TransitionFields{
		At:           now,
		LeaseOwner:   t.LeaseOwner,
		ErrorMessage: message,
		Notification: n,
	})
	if err != nil {
		return err
	}

	s.deps.Metrics.RecordLeaseRecovered("abandoned")
	s.deps.Metrics.RecordFinished(domain.StatusFailed.String(), elapsedSince(t.StartedAt, now))
	s.logger.WarnContext(ctx, "abandoned task after repeated lease expiry",
		"task_id", t.ID,
		"lease_owner", t.LeaseOwner,
		"attempts", t.Attempts)
	events.Emit(ctx, s.deps.Events, events.New(events.TaskAbandoned, t.ID, t.LeaseOwner).WithDetail(message))
	return nil
}

func elapsedSince(start *time.Time, now time.Time) time.Duration {
	if start == nil {
		return 0
	}
	return now.Sub(*start)
}
