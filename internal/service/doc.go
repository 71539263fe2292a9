// Package service contains the use cases behind the task API: accepting a
// plan request and reporting a task's status.
//
// Services receive their store through constructor injection and depend only
// on the store interfaces, never on a specific database. They translate store
// and domain errors into the sentinels and types declared in errors.go, which
// the API layer maps to status codes.
package service
