package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/config"
)

// Client is the server's broker session. Sensor reports come in through
// Subscribe; retained space status goes out through MirrorSpaceStatus.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Routes survive a reconnect and are re-subscribed by the online handler.
type Client struct {
	paho  pahomqtt.Client
	cfg   config.MQTTConfig
	hooks Hooks

	mu     sync.RWMutex
	online bool
	routes map[string]route
}

// Logger receives handler failures and connection loss.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Hooks are the optional callbacks of a Client, fixed when it is dialled.
type Hooks struct {
	Logger Logger

	// OnOnline runs after the first connect and after every reconnect.
	OnOnline func()

	// OnOffline runs when the broker connection drops.
	OnOffline func(err error)
}

// MessageHandler processes one message. A returned error is logged and
// does not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

type route struct {
	qos     byte
	handler MessageHandler
}

// Dial connects to the broker and announces the server as online.
//
// The broker is told to publish an offline presence message if the
// session dies without Close.
//
// Parameters:
//   - cfg: Broker address, credentials, QoS and reconnect delays
//   - hooks: Optional logger and connection callbacks
//
// Returns:
//   - *Client: Connected client
//   - error: *BrokerError with op "connect" if the broker refuses or times out
func Dial(cfg config.MQTTConfig, hooks Hooks) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		hooks:  hooks,
		routes: make(map[string]route),
	}

	opts := pahoOptions(cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.wentOnline() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.wentOffline(err) })

	c.paho = pahomqtt.NewClient(opts)
	if err := await("connect", "", c.paho.Connect(), connectTimeout); err != nil {
		return nil, err
	}

	// The paho connect handler is asynchronous.
	c.setOnline(true)
	return c, nil
}

func (c *Client) wentOnline() {
	c.setOnline(true)

	c.mu.RLock()
	for topic, r := range c.routes {
		c.paho.Subscribe(topic, r.qos, c.deliver(r.handler))
	}
	c.mu.RUnlock()

	c.paho.Publish(Topics{}.SystemStatus(), c.qos(), true, presence(c.cfg.Broker.ClientID, presenceOnline, ""))

	if c.hooks.OnOnline != nil {
		c.hooks.OnOnline()
	}
}

func (c *Client) wentOffline(err error) {
	c.setOnline(false)
	if c.hooks.Logger != nil {
		c.hooks.Logger.Warn("MQTT connection lost", "error", err)
	}
	if c.hooks.OnOffline != nil {
		c.hooks.OnOffline(err)
	}
}

func (c *Client) setOnline(v bool) {
	c.mu.Lock()
	c.online = v
	c.mu.Unlock()
}

// qos is the configured delivery level. config.Validate bounds it to 0-2.
func (c *Client) qos() byte {
	return byte(c.cfg.QoS) //nolint:gosec // validated range
}

// Close announces a graceful offline and disconnects.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		tok := c.paho.Publish(Topics{}.SystemStatus(), c.qos(), true,
			presence(c.cfg.Broker.ClientID, presenceOffline, "graceful_shutdown"))
		tok.WaitTimeout(ackTimeout)
	}
	c.paho.Disconnect(disconnectQuiesceMs)
	c.setOnline(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker session is down.
//
// Parameters:
//   - ctx: Checked for cancellation only; no broker round trip is made
//
// Returns:
//   - error: nil when connected
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the session is currently up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online && c.paho != nil && c.paho.IsConnected()
}

// deliver adapts a MessageHandler to paho, logging errors and recovering panics.
func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		log := c.hooks.Logger
		defer func() {
			if r := recover(); r != nil && log != nil {
				log.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil && log != nil {
			log.Warn("MQTT message rejected", "topic", msg.Topic(), "error", err)
		}
	}
}
