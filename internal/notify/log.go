package notify

import (
	"context"
	"log/slog"
)

// LogDispatcher writes messages to the log instead of delivering them.
type LogDispatcher struct {
	logger *slog.Logger
}

var _ Dispatcher = (*LogDispatcher)(nil)

// NewLogDispatcher creates a LogDispatcher.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With("component", "log_dispatcher")}
}

// Send logs msg.
func (d *LogDispatcher) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return deliveryError("log", err)
	}

	d.logger.InfoContext(ctx, "notification",
		"task_id", msg.TaskID,
		"kind", string(msg.Kind),
		"recipient", msg.Recipient,
		"subject", msg.Subject,
		"attachment_ref", msg.AttachmentRef,
		"body_length", len(msg.Body))
	return nil
}
