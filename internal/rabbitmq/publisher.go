// Package rabbitmq publishes attendance events to a RabbitMQ topic
// exchange. The routing key is the event type.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ms-attendance/internal/logger"
	"ms-attendance/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  Channel
	Exchange string
	Logger   *logger.Logger
}

// Dial connects, declares a durable topic exchange and a durable queue bound
// to every attendance event, and returns a publisher on that channel.
func Dial(url, exchange, queue string, log *logger.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: declare exchange %s: %w", exchange, err)
	}
	if queue != "" {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("rabbitmq: declare queue %s: %w", queue, err)
		}
		for _, key := range []string{"attendance.#", "deposit.#"} {
			if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("rabbitmq: bind %s: %w", key, err)
			}
		}
	}

	log.Info("RABBITMQ", fmt.Sprintf("Publishing to exchange %s", exchange))
	return &Publisher{conn: conn, channel: ch, Exchange: exchange, Logger: log}, nil
}

// NewPublisher wraps an already configured channel.
func NewPublisher(ch Channel, exchange string, log *logger.Logger) *Publisher {
	return &Publisher{channel: ch, Exchange: exchange, Logger: log}
}

// Publish sends a persistent JSON message. amqp channels are not safe for
// concurrent publishing, so calls are serialized.
func (p *Publisher) Publish(ctx context.Context, event models.AttendanceEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal %s: %w", event.Type, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    event.AttendanceID,
		Type:         string(event.Type),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.PublishWithContext(ctx, p.Exchange, string(event.Type), false, false, msg); err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", event.Type, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.channel != nil {
		err = p.channel.Close()
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
