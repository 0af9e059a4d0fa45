package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

const connectionName = "topup-outbox-publisher"

var (
	errURLRequired      = errors.New("rabbitmq url is required")
	errExchangeRequired = errors.New("rabbitmq exchange is required")
	errNacked           = errors.New("rabbitmq broker nacked message")
)

// Client publishes outbox events to a durable topic exchange with publisher
// confirms enabled. Topic names from the event registry are routing keys.
type Client struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewClient dials the broker, declares the exchange and puts the channel in
// confirm mode.
func NewClient(ctx context.Context, cfg config.RabbitMQConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errURLRequired
	}
	if strings.TrimSpace(cfg.Exchange) == "" {
		return nil, errExchangeRequired
	}

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Properties: amqp.Table{"connection_name": connectionName},
	})
	if err != nil {
		return nil, fmt.Errorf("dialing rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declaring exchange %q: %w", cfg.Exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enabling publisher confirms: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "exchange", cfg.Exchange), "rabbitmq client initialized")
	}

	return &Client{conn: conn, ch: ch, exchange: cfg.Exchange}, nil
}

// Publish sends one persistent message and waits for the broker confirm.
func (c *Client) Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) error {
	if c == nil || c.ch == nil {
		return errors.New("rabbitmq client not initialized")
	}

	headers := make(amqp.Table, len(attrs))
	for k, v := range attrs {
		headers[k] = v
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	confirm, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, c.exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    attrs["event_id"],
		Type:         attrs["event_type"],
		Headers:      headers,
		Body:         data,
	})
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	if confirm == nil {
		return nil
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("waiting for confirm on %s: %w", topic, err)
	}
	if !acked {
		return errNacked
	}
	return nil
}

// Ping reports whether the connection and channel are still open.
func (c *Client) Ping(context.Context) error {
	if c == nil || c.conn == nil {
		return errors.New("rabbitmq client not initialized")
	}
	if c.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	if c.ch.IsClosed() {
		return errors.New("rabbitmq channel closed")
	}
	return nil
}

// Close releases the channel and the connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	var chErr error
	if c.ch != nil {
		chErr = c.ch.Close()
	}
	if err := c.conn.Close(); err != nil {
		return err
	}
	return chErr
}
