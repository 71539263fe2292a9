package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"
)

// nsqPublisher is satisfied by *nsq.Producer.
type nsqPublisher interface {
	Publish(topic string, body []byte) error
	Stop()
}

// Envelope is the JSON form of a Message published to brokers. The
// attachment is referenced, not embedded; consumers read it from shared
// artifact storage.
type Envelope struct {
	TaskID        string    `json:"task_id"`
	Kind          string    `json:"kind"`
	From          string    `json:"from"`
	FromName      string    `json:"from_name,omitempty"`
	ReplyTo       string    `json:"reply_to,omitempty"`
	Recipient     string    `json:"recipient"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	AttachmentRef string    `json:"attachment_ref,omitempty"`
	SentAt        time.Time `json:"sent_at"`
}

func newEnvelope(sender Sender, msg Message, now time.Time) ([]byte, error) {
	return json.Marshal(Envelope{
		TaskID:        msg.TaskID.String(),
		Kind:          string(msg.Kind),
		From:          sender.Address,
		FromName:      sender.Name,
		ReplyTo:       sender.ReplyTo,
		Recipient:     msg.Recipient,
		Subject:       msg.Subject,
		Body:          msg.Body,
		AttachmentRef: msg.AttachmentRef,
		SentAt:        now.UTC(),
	})
}

// NSQDispatcher publishes messages to an NSQ topic for a mail service.
type NSQDispatcher struct {
	producer nsqPublisher
	topic    string
	sender   Sender
}

var _ Dispatcher = (*NSQDispatcher)(nil)

// NewNSQDispatcher connects a producer to the nsqd at addr.
func NewNSQDispatcher(addr, topic string, sender Sender) (*NSQDispatcher, error) {
	producer, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create nsq producer: %w", err)
	}
	return &NSQDispatcher{producer: producer, topic: topic, sender: sender}, nil
}

// Send publishes msg as an Envelope.
func (d *NSQDispatcher) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return deliveryError("nsq", err)
	}

	body, err := newEnvelope(d.sender, msg, time.Now())
	if err != nil {
		return deliveryError("nsq", err)
	}

	if err := d.producer.Publish(d.topic, body); err != nil {
		return deliveryError("nsq", fmt.Errorf("nsq publish: %w", err))
	}
	return nil
}

// Close stops the producer.
func (d *NSQDispatcher) Close() error {
	d.producer.Stop()
	return nil
}
