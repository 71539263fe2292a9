// Package api exposes the plan-generation task queue over HTTP. Handlers
// decode and route requests, delegate to the submission and status services,
// and translate service errors into status codes and JSON error bodies that
// never carry internal details.
package api
