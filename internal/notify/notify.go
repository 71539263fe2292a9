package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/emplan-api/internal/domain"
)

// ErrDelivery matches every *DeliveryError.
var ErrDelivery = errors.New("notification delivery failed")

// DeliveryError reports a failed send through a driver.
type DeliveryError struct {
	Driver string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed: %v", e.Driver, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDelivery) match any DeliveryError.
func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }

func deliveryError(driver string, err error) error {
	return &DeliveryError{Driver: driver, Err: err}
}

// Message is one outbound notification.
type Message struct {
	TaskID        uuid.UUID
	Kind          domain.NotificationKind
	Recipient     string
	Subject       string
	Body          string
	AttachmentRef string
}

// MessageFromNotification builds the message for an outbox entry.
func MessageFromNotification(n *domain.Notification) Message {
	return Message{
		TaskID:        n.TaskID,
		Kind:          n.Kind,
		Recipient:     n.Recipient,
		Subject:       n.Subject,
		Body:          n.Body,
		AttachmentRef: n.AttachmentRef,
	}
}

// Sender is the identity messages are sent from.
type Sender struct {
	Address string
	Name    string
	ReplyTo string
}

// Dispatcher delivers messages. Send must be safe for concurrent use.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}
