// Package domain defines the core entities of the plan queue: the Task record
// that moves through its lifecycle, the closed set of statuses it may hold,
// and the outbox Notification that announces a terminal outcome.
//
// Types here carry no persistence or transport concerns. Stores and handlers
// translate to and from them.
package domain
