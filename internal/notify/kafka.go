package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// kafkaProducer is satisfied by *kgo.Client.
type kafkaProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaDispatcher produces messages to a Kafka topic keyed by task ID.
type KafkaDispatcher struct {
	client kafkaProducer
	topic  string
	sender Sender
}

var _ Dispatcher = (*KafkaDispatcher)(nil)

// NewKafkaDispatcher creates a producer-only client for brokers.
func NewKafkaDispatcher(brokers []string, topic string, sender Sender) (*KafkaDispatcher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &KafkaDispatcher{client: client, topic: topic, sender: sender}, nil
}

// Send produces msg as an Envelope and waits for the broker acknowledgement.
func (d *KafkaDispatcher) Send(ctx context.Context, msg Message) error {
	value, err := newEnvelope(d.sender, msg, time.Now())
	if err != nil {
		return deliveryError("kafka", err)
	}

	record := &kgo.Record{
		Topic: d.topic,
		Key:   []byte(msg.TaskID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(msg.Kind)},
		},
	}
	if err := d.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return deliveryError("kafka", fmt.Errorf("publish notification: %w", err))
	}
	return nil
}

// Close flushes and closes the client.
func (d *KafkaDispatcher) Close() error {
	d.client.Close()
	return nil
}
