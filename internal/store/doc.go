// Package store defines the persistence contracts for tasks and their
// notification outbox, together with the sentinel errors every backend
// reports. Concrete backends live under internal/platform.
package store
