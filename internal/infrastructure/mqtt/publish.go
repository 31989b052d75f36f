package mqtt

import "fmt"

// maxPayloadSize bounds outgoing messages to 1MB.
const maxPayloadSize = 1 << 20

// Publish sends payload and waits for the broker's acknowledgement.
//
// Parameters:
//   - topic: Concrete topic, no wildcards
//   - payload: Message body, at most 1MB
//   - qos: Delivery level (0-2)
//   - retained: Whether the broker keeps it for late subscribers
//
// Returns:
//   - error: Validation sentinel, ErrNotConnected, or *BrokerError
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	case !c.IsConnected():
		return ErrNotConnected
	}
	return await("publish", topic, c.paho.Publish(topic, qos, retained, payload), ackTimeout)
}

// MirrorSpaceStatus publishes the latest state of a parking space as a
// retained message on Topics{}.SpaceStatus, so a device subscribing later
// gets the current state at once.
//
// Parameters:
//   - spaceID: Parking space ID
//   - payload: JSON encoded space update
//
// Returns:
//   - error: As Publish
func (c *Client) MirrorSpaceStatus(spaceID string, payload []byte) error {
	return c.Publish(Topics{}.SpaceStatus(spaceID), payload, c.qos(), true)
}
