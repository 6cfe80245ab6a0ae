package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ushopls/marketplace/internal/outbox"
)

const (
	HeaderEventType     = "event_type"
	HeaderEventID       = "event_id"
	HeaderAggregateType = "aggregate_type"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: writer}
}

// Publish writes one outbox event keyed by its aggregate id, so events of the
// same order land on the same partition in order.
func (p *Producer) Publish(ctx context.Context, event *outbox.Event) error {
	return p.writer.WriteMessages(ctx, toMessage(event))
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func toMessage(event *outbox.Event) kafka.Message {
	return kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(event.EventType)},
			{Key: HeaderEventID, Value: []byte(event.ID)},
			{Key: HeaderAggregateType, Value: []byte(event.AggregateType)},
		},
	}
}
