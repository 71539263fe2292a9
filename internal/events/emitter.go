package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// InMemoryEmitter dispatches events synchronously to registered handlers.
type InMemoryEmitter struct {
	handlers []Handler
	mu       sync.RWMutex
	logger   *slog.Logger
}

var _ Emitter = (*InMemoryEmitter)(nil)

// NewInMemoryEmitter creates an emitter with no handlers.
func NewInMemoryEmitter(logger *slog.Logger) *InMemoryEmitter {
	return &InMemoryEmitter{
		logger: logger.With("component", "event_emitter"),
	}
}

// RegisterHandler adds a handler to receive events.
func (e *InMemoryEmitter) RegisterHandler(handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("registered event handler", "handler_count", len(e.handlers))
}

// Emit sends event to every handler. A failing handler does not stop the
// others; the first error is returned.
func (e *InMemoryEmitter) Emit(ctx context.Context, event *Event) error {
	e.mu.RLock()
	handlers := make([]Handler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			e.logger.ErrorContext(ctx, "handler failed to process event",
				"error", err,
				"handler_index", i,
				"event_id", event.ID,
				"event_type", event.Type)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// LogHandler writes every event to logger at info level.
func LogHandler(logger *slog.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, event *Event) error {
		attrs := []any{
			"event_id", event.ID,
			"task_id", event.TaskID,
		}
		if event.WorkerID != "" {
			attrs = append(attrs, "worker_id", event.WorkerID)
		}
		if event.Detail != "" {
			attrs = append(attrs, "detail", event.Detail)
		}
		logger.InfoContext(ctx, string(event.Type), attrs...)
		return nil
	})
}

// Recorder keeps every event it handles, in order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// HandleEvent records a copy of event.
func (r *Recorder) HandleEvent(_ context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

// Events returns the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the types of the recorded events for taskID, in order.
func (r *Recorder) Types(taskID uuid.UUID) []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []Type
	for _, e := range r.events {
		if e.TaskID == taskID {
			types = append(types, e.Type)
		}
	}
	return types
}
