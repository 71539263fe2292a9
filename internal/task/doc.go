// Package task runs the plan-generation queue.
//
// A Worker repeatedly claims the oldest pending task with a compare-and-swap,
// generates the plan, renders the protected artifact and records the outcome
// together with its outbox notification. Each claim carries a lease; the
// Sweeper returns tasks whose lease expired to the queue, or fails them once
// their attempts are spent. Runner owns the workers, the sweeper and the
// outbox relay and coordinates their shutdown.
package task
