package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-attendance/internal/logger"
	"ms-attendance/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes attendance events keyed by account so a member's
// ledger changes stay ordered within a partition.
type Producer struct {
	Writer MessageWriter
	Topic  string
	Logger *logger.Logger
}

func NewProducer(brokers []string, topic string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{Writer: writer, Topic: topic, Logger: log}
}

// Publish streams one event to Kafka. The event type travels in a header
// as well as the body so consumers can filter without decoding.
func (p *Producer) Publish(ctx context.Context, event models.AttendanceEvent) error {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.Type, err)
	}

	p.Logger.LogKafka("PUBLISH", p.Topic, fmt.Sprintf("%s key=%s", event.Type, event.Key()))

	return p.Writer.WriteMessages(ctx,
		kafka.Message{
			Key:   []byte(event.Key()),
			Value: msgBytes,
			Time:  event.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event-type", Value: []byte(event.Type)},
			},
		},
	)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
