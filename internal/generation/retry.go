package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy retries calls that fail with ErrTransientFailure, waiting
// BaseDelay * 2^attempt scaled by a random factor in [0.5, 1.0) between attempts.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration

	// sleep waits for d or until ctx is done. Tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy builds a policy from the llm.max_retries and
// llm.retry_delay_seconds settings, falling back to 3 retries and 2s.
func NewRetryPolicy(maxRetries, delaySeconds int) RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 3
	}
	if delaySeconds < 1 {
		delaySeconds = 2
	}
	return RetryPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  time.Duration(delaySeconds) * time.Second,
	}
}

// Do invokes call until it succeeds, fails permanently, exhausts the retries
// or ctx is done. A context error is returned wrapped so callers can still
// match context.DeadlineExceeded.
func (p RetryPolicy) Do(
	ctx context.Context,
	logger *slog.Logger,
	call func(ctx context.Context) (string, error),
) (string, error) {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %w", ErrTransientFailure, err)
		}

		content, err := call(ctx)
		if err == nil {
			if attempt > 0 {
				logger.InfoContext(ctx, "LLM call succeeded after retry", "attempt", attempt+1)
			}
			return content, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %w", ErrTransientFailure, ctxErr)
		}

		if !errors.Is(err, ErrTransientFailure) {
			logger.WarnContext(ctx, "Permanent LLM error, not retrying",
				"attempt", attempt+1,
				"error", err)
			return "", err
		}

		if attempt >= p.MaxRetries {
			logger.WarnContext(ctx, "Maximum retry attempts reached",
				"max_retries", p.MaxRetries,
				"error", err)
			return "", fmt.Errorf("exceeded maximum retry attempts (%d): %w", p.MaxRetries, err)
		}

		delay := p.delay(attempt)
		logger.InfoContext(ctx, "Retrying LLM call after delay",
			"attempt", attempt+1,
			"delay", delay.String(),
			"error", err)

		if err := sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("%w: %w", ErrTransientFailure, err)
		}
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	backoff := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(backoff * jitter)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
