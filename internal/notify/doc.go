// Package notify composes and delivers outcome messages to requesters.
//
// A Dispatcher sends one Message. Drivers exist for structured logging
// (development), SMTP, NSQ and Kafka; New selects one from configuration.
// Every delivery failure is returned as a *DeliveryError so the outbox relay
// can schedule a retry without knowing which driver is in use.
package notify
