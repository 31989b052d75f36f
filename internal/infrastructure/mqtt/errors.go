package mqtt

import (
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Sentinel errors. A failed broker round trip is reported as *BrokerError
// wrapping ErrTimeout or the broker's own error.
var (
	ErrNotConnected    = errors.New("mqtt: not connected to broker")
	ErrTimeout         = errors.New("mqtt: broker did not acknowledge in time")
	ErrInvalidTopic    = errors.New("mqtt: empty topic")
	ErrInvalidQoS      = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
	ErrNilHandler      = errors.New("mqtt: nil message handler")
)

// BrokerError names the operation and topic of a failed broker round trip.
type BrokerError struct {
	Op    string
	Topic string // empty for connect
	Err   error
}

func (e *BrokerError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("mqtt %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("mqtt %s %s: %v", e.Op, e.Topic, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// await blocks until the broker acknowledges tok or timeout passes.
func await(op, topic string, tok pahomqtt.Token, timeout time.Duration) error {
	if !tok.WaitTimeout(timeout) {
		return &BrokerError{Op: op, Topic: topic, Err: ErrTimeout}
	}
	if err := tok.Error(); err != nil {
		return &BrokerError{Op: op, Topic: topic, Err: err}
	}
	return nil
}
