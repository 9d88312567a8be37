package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"mailpacer/internal/models"
)

// Publisher emits delivery events. Publishing is best effort; callers log failures
// and never let them change a job's outcome.
type Publisher interface {
	Publish(ctx context.Context, event models.DeliveryEvent) error
	Close() error
}

// NewDeliveryEvent builds an event for a job transition
func NewDeliveryEvent(eventType models.DeliveryEventType, payload models.SendPayload, correlationID string, at time.Time) models.DeliveryEvent {
	return models.DeliveryEvent{
		ID:             uuid.NewString(),
		Type:           eventType,
		EmailJobID:     payload.EmailJobID,
		CampaignID:     payload.CampaignID,
		RecipientEmail: payload.RecipientEmail,
		CorrelationID:  correlationID,
		OccurredAt:     at.UTC(),
	}
}

// AMQPPublisher publishes delivery events to a durable RabbitMQ queue
type AMQPPublisher struct {
	conn      *Connection
	queueName string
}

// NewAMQPPublisher declares the events queue and returns a publisher bound to it
func NewAMQPPublisher(conn *Connection, queueName string) (*AMQPPublisher, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &AMQPPublisher{conn: conn, queueName: queueName}, nil
}

// Publish sends the event as a persistent JSON message, typed by event name
func (p *AMQPPublisher) Publish(ctx context.Context, event models.DeliveryEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery event: %w", err)
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	err = ch.PublishWithContext(ctx,
		"",          // default exchange
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    event.ID,
			Type:         string(event.Type),
			Timestamp:    event.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish delivery event: %w", err)
	}

	return nil
}

// Close is a no-op; the connection is closed by its owner
func (p *AMQPPublisher) Close() error {
	return nil
}

// Discard drops every event. Used when EVENTS_ENABLED is false.
type Discard struct{}

func (Discard) Publish(context.Context, models.DeliveryEvent) error { return nil }
func (Discard) Close() error                                        { return nil }
