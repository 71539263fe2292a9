// Package events publishes task lifecycle events to in-process handlers.
//
// Components emit an Event whenever a task changes hands: submission, claim,
// completion, failure, and lease recovery. Emission never blocks the caller on
// handler failures; the emitter logs them and reports the first one.
package events
