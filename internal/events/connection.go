package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Connection wraps a RabbitMQ connection and channel, redialing when the broker drops them
type Connection struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	url     string
	log     *logrus.Entry
	mu      sync.Mutex
}

// Dial connects to RabbitMQ and opens a channel
func Dial(url string, log *logrus.Entry) (*Connection, error) {
	if url == "" {
		return nil, errors.New("rabbitmq url cannot be empty")
	}

	c := &Connection{url: url, log: log}
	if err := c.open(); err != nil {
		return nil, err
	}

	log.Info("Connected to RabbitMQ")
	return c, nil
}

func (c *Connection) open() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	c.conn = conn
	c.channel = channel
	return nil
}

// Channel returns the live channel, redialing first if it was closed
func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil && c.conn != nil && !c.conn.IsClosed() && !c.channel.IsClosed() {
		return c.channel, nil
	}

	c.log.Warn("RabbitMQ channel closed, reconnecting")
	c.closeLocked()
	if err := c.open(); err != nil {
		return nil, fmt.Errorf("failed to reconnect: %w", err)
	}

	c.log.Info("Reconnected to RabbitMQ")
	return c.channel, nil
}

func (c *Connection) closeLocked() []error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
		c.channel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
		c.conn = nil
	}
	return errs
}

// Close closes the channel and connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if errs := c.closeLocked(); len(errs) > 0 {
		return errors.Join(errs...)
	}

	c.log.Info("RabbitMQ connection closed")
	return nil
}

// PingContext reports an error when the broker connection cannot be (re)established
func (c *Connection) PingContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.Channel()
	return err
}

// IsConnected reports whether both connection and channel are open
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
}
