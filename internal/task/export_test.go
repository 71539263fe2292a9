package task

import "time"

// SetRetryDelay shortens the pause between terminal-write retries.
func SetRetryDelay(w *Worker, d time.Duration) {
	w.retryDelay = d
}

// SetSweeperClock replaces the sweeper's time source.
func SetSweeperClock(s *Sweeper, now func() time.Time) {
	s.now = now
}

// Workers exposes the runner's workers.
func Workers(r *Runner) []*Worker {
	return r.workers
}
