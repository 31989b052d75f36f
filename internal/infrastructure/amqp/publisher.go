// Package amqp publishes parking events to a RabbitMQ queue for downstream
// consumers (billing, analytics). Publishing is best effort: failures are
// returned to the caller, which logs and carries on.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/config"
)

var (
	// ErrDisabled indicates the event feed is disabled in config.
	ErrDisabled = errors.New("amqp: disabled in configuration")

	// ErrPublishFailed wraps dial, channel and publish failures.
	ErrPublishFailed = errors.New("amqp: publish failed")

	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("amqp: publisher closed")
)

// channel is the subset of *amqp091.Channel the publisher uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// connection is the subset of *amqp091.Connection the publisher uses.
type connection interface {
	Channel() (channel, error)
	Close() error
}

type dialFunc func(url string) (connection, error)

type amqpConnection struct {
	*amqp091.Connection
}

func (c amqpConnection) Channel() (channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialAMQP(url string) (connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

// Event is the JSON envelope written to the queue.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Publisher keeps one connection and channel open and redials lazily after a
// failure.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Publisher struct {
	url   string
	queue string
	dial  dialFunc
	now   func() time.Time

	mu     sync.Mutex
	conn   connection
	ch     channel
	closed bool
}

// NewPublisher creates a publisher for cfg. No connection is made until the
// first Publish.
//
// Returns:
//   - *Publisher: Ready publisher
//   - error: ErrDisabled when the feed is turned off
func NewPublisher(cfg config.AMQPConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	return newPublisher(cfg.URL, cfg.Queue, dialAMQP), nil
}

func newPublisher(url, queue string, dial dialFunc) *Publisher {
	return &Publisher{url: url, queue: queue, dial: dial, now: time.Now}
}

// Queue returns the queue name events are routed to.
func (p *Publisher) Queue() string {
	return p.queue
}

// Publish marshals payload into an Event of the given type and publishes it
// as a persistent message on the default exchange.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload any) error {
	body, err := json.Marshal(Event{Type: eventType, Timestamp: p.now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if err := p.ensureChannel(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    p.now().UTC(),
		Type:         eventType,
		Body:         body,
	})
	if err != nil {
		p.reset()
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// ensureChannel dials and declares the queue if there is no open channel.
// Caller holds p.mu.
func (p *Publisher) ensureChannel() error {
	if p.ch != nil {
		return nil
	}

	conn, err := p.dial(p.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close() //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("channel open: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		ch.Close()   //nolint:errcheck // Best effort cleanup on error path
		conn.Close() //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("queue declare: %w", err)
	}

	p.conn, p.ch = conn, ch
	return nil
}

// reset drops the current connection so the next Publish redials. Caller holds p.mu.
func (p *Publisher) reset() {
	if p.ch != nil {
		p.ch.Close() //nolint:errcheck // Connection is being discarded
	}
	if p.conn != nil {
		p.conn.Close() //nolint:errcheck // Connection is being discarded
	}
	p.ch, p.conn = nil, nil
}

// Close closes the connection. Subsequent Publish calls fail with ErrClosed.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	p.closed = true
	return nil
}
