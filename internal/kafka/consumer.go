package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ms-attendance/internal/logger"
	"ms-attendance/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Consumer struct {
	Reader MessageReader
	Logger *logger.Logger
}

// NewConsumer creates a consumer group reader for the attendance topic.
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{Reader: reader, Logger: log}
}

// Start hands every decodable event to handler until ctx is cancelled.
// Malformed messages are logged and skipped.
func (c *Consumer) Start(ctx context.Context, handler func(models.AttendanceEvent)) error {
	c.Logger.LogKafka("CONSUME", "", "consumer started")

	for {
		msg, err := c.Reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil
			}
			c.Logger.Error("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			continue
		}

		var event models.AttendanceEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.Logger.Warn("KAFKA", fmt.Sprintf("Failed to unmarshal message at offset %d: %v", msg.Offset, err))
			continue
		}

		c.Logger.LogKafka("CONSUME", msg.Topic, fmt.Sprintf("%s key=%s", event.Type, string(msg.Key)))
		handler(event)
	}
}

func (c *Consumer) Close() error {
	return c.Reader.Close()
}
