package generation

import (
	"context"
	"time"
)

// WithSleep returns a copy of p that waits through fn instead of a timer.
func (p RetryPolicy) WithSleep(fn func(ctx context.Context, d time.Duration) error) RetryPolicy {
	p.sleep = fn
	return p
}

// Delay exposes the backoff computation.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.delay(attempt)
}
