package outbox

import "time"

// SetClock replaces the relay's time source and jitter.
func SetClock(r *Relay, now func() time.Time, jitter func() float64) {
	r.now = now
	r.jitter = jitter
}
