package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Publisher pushes hub events to a topic exchange so external consumers
// (dashboards, analytics, campaign tooling) can react without polling.
type Publisher interface {
	Publish(ctx context.Context, key string, event Event) error
	Close() error
}

type rmqClient struct {
	conn     *amqp091.Connection
	exchange string
}

// New declares the topic exchange and returns a ready Publisher.
func New(conn *amqp091.Connection, exchange string) (Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		return nil, err
	}

	return &rmqClient{
		conn:     conn,
		exchange: exchange,
	}, nil
}

func (r *rmqClient) Publish(ctx context.Context, key string, event Event) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(
		ctx, r.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    event.ID,
			Timestamp:    event.OccurredAt,
			Body:         body,
		},
	)
	if err == nil {
		logrus.Debugf("[PUBSUB] Published %s to %s", key, r.exchange)
	}
	return err
}

func (r *rmqClient) Close() error {
	return r.conn.Close()
}

// noopPublisher is used when no broker is configured.
type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, key string, event Event) error {
	return nil
}

func (noopPublisher) Close() error { return nil }

// NewNoop returns a Publisher that drops every event.
func NewNoop() Publisher {
	return noopPublisher{}
}
