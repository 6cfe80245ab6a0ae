package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Message is a consumed event with its headers unpacked.
type Message struct {
	Key       []byte
	Value     []byte
	EventType string
	EventID   string
}

type MessageHandler func(ctx context.Context, msg Message) error

type Consumer struct {
	reader *kafka.Reader
	log    *zap.Logger
}

func NewConsumer(brokers []string, topic, groupID string, log *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, log: log.Named("consumer")}
}

// Consume reads until ctx is cancelled. Handler failures are logged and the
// message is committed anyway.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("read message", zap.Error(err))
			continue
		}

		m := fromMessage(msg)
		if err := handler(ctx, m); err != nil {
			c.log.Error("handle message",
				zap.String("event_type", m.EventType),
				zap.String("event_id", m.EventID),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func fromMessage(msg kafka.Message) Message {
	m := Message{Key: msg.Key, Value: msg.Value}
	for _, h := range msg.Headers {
		switch h.Key {
		case HeaderEventType:
			m.EventType = string(h.Value)
		case HeaderEventID:
			m.EventID = string(h.Value)
		}
	}
	return m
}
