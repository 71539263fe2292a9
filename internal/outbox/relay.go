package outbox

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/phrazzld/emplan-api/internal/config"
	"github.com/phrazzld/emplan-api/internal/domain"
	"github.com/phrazzld/emplan-api/internal/metrics"
	"github.com/phrazzld/emplan-api/internal/notify"
	"github.com/phrazzld/emplan-api/internal/store"
	"github.com/phrazzld/emplan-api/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// Config tunes the relay.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	SendTimeout  time.Duration
}

// ConfigFromNotify extracts the relay settings from the notify configuration.
func ConfigFromNotify(cfg config.NotifyConfig) Config {
	return Config{
		PollInterval: cfg.RelayPollInterval,
		BatchSize:    cfg.RelayBatchSize,
		MaxAttempts:  cfg.MaxAttempts,
		BaseBackoff:  cfg.BaseBackoff,
		MaxBackoff:   cfg.MaxBackoff,
		SendTimeout:  cfg.SendTimeout,
	}
}

// Relay moves outbox entries to the dispatcher.
type Relay struct {
	store      store.OutboxStore
	dispatcher notify.Dispatcher
	cfg        Config
	logger     *slog.Logger
	metrics    *metrics.Metrics

	now    func() time.Time
	jitter func() float64
}

// NewRelay creates a Relay. m may be nil.
func NewRelay(
	outboxStore store.OutboxStore,
	dispatcher notify.Dispatcher,
	cfg Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 6
	}
	return &Relay{
		store:      outboxStore,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.With("component", "outbox_relay"),
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },
		jitter:     rand.Float64,
	}
}

// Run delivers due notifications every poll interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	r.logger.InfoContext(ctx, "outbox relay started", "poll_interval", r.cfg.PollInterval.String())

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "outbox relay cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "outbox relay stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce delivers one batch of due notifications and returns how many were
// attempted.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	due, err := r.store.ListDueNotifications(ctx, r.now(), r.cfg.BatchSize)
	if err != nil {
		r.metrics.RecordStorageError("list_due_notifications")
		return 0, err
	}

	for _, n := range due {
		if ctx.Err() != nil {
			break
		}
		r.deliver(ctx, n)
	}
	return len(due), nil
}

func (r *Relay) deliver(ctx context.Context, n *domain.Notification) {
	log := r.logger.With(
		"notification_id", n.ID,
		"task_id", n.TaskID,
		"kind", string(n.Kind),
		"attempt", n.Attempts+1)

	ctx, span := tracing.StartSpan(ctx, "outbox.deliver",
		attribute.String("task_id", n.TaskID.String()),
		attribute.String("kind", string(n.Kind)),
		attribute.Int("attempt", n.Attempts+1))
	defer span.End()

	sendErr := r.send(ctx, n)
	now := r.now()

	if sendErr == nil {
		if err := r.store.MarkDelivered(ctx, n.ID, now); err != nil {
			r.recordMarkError(ctx, log, "mark_delivered", err)
			return
		}
		r.metrics.RecordNotification("delivered")
		log.InfoContext(ctx, "notification delivered")
		return
	}

	tracing.SetSpanError(ctx, sendErr)
	attempts := n.Attempts + 1

	if attempts >= r.cfg.MaxAttempts {
		if err := r.store.MarkDead(ctx, n.ID, attempts, now, sendErr.Error()); err != nil {
			r.recordMarkError(ctx, log, "mark_dead", err)
			return
		}
		r.metrics.RecordNotification("dead")
		log.ErrorContext(ctx, "notification abandoned after final attempt", "error", sendErr)
		return
	}

	next := now.Add(Backoff(attempts, r.cfg.BaseBackoff, r.cfg.MaxBackoff, r.jitter()))
	if err := r.store.MarkRetry(ctx, n.ID, attempts, next, sendErr.Error()); err != nil {
		r.recordMarkError(ctx, log, "mark_retry", err)
		return
	}
	r.metrics.RecordNotification("retry")
	log.WarnContext(ctx, "notification delivery failed, retry scheduled",
		"error", sendErr,
		"next_attempt_at", next)
}

func (r *Relay) send(ctx context.Context, n *domain.Notification) (err error) {
	if r.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.SendTimeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = &notify.DeliveryError{Driver: "dispatcher", Err: errors.New("panic during send")}
			r.logger.ErrorContext(ctx, "dispatcher panicked", "panic", rec)
		}
	}()

	return r.dispatcher.Send(ctx, notify.MessageFromNotification(n))
}

func (r *Relay) recordMarkError(ctx context.Context, log *slog.Logger, operation string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		// Another relay already settled this entry.
		log.DebugContext(ctx, "notification no longer pending", "operation", operation)
		return
	}
	r.metrics.RecordStorageError(operation)
	log.ErrorContext(ctx, "failed to record notification outcome",
		"operation", operation,
		"error", err)
}

// MaxBackoffCeiling bounds retry delays when no maximum is configured.
const MaxBackoffCeiling = 24 * time.Hour

// Backoff returns the delay before retry number attempts (1-based):
// base * 2^(attempts-1) capped at maxDelay, scaled by rnd in [0, 1).
// A maxDelay <= 0 caps at MaxBackoffCeiling.
func Backoff(attempts int, base, maxDelay time.Duration, rnd float64) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if maxDelay <= 0 {
		maxDelay = MaxBackoffCeiling
	}

	// Pow may reach +Inf for large attempts; the cap below absorbs it.
	delay := float64(base) * math.Pow(2, float64(attempts-1))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	return time.Duration(delay * rnd)
}
