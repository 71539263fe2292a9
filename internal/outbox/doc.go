// Package outbox delivers notifications written to the outbox by terminal
// task transitions.
//
// The Relay polls for due entries, sends each through a notify.Dispatcher and
// records the outcome. Failed sends are rescheduled with capped exponential
// backoff and full jitter until the attempt budget is spent, after which the
// entry is marked dead. Delivery is at-least-once: a crash between a send and
// its MarkDelivered repeats the send.
package outbox
