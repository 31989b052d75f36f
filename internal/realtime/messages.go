package realtime

import "time"

// Frame types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeEvent       = "event"
	TypeResponse    = "response"
	TypeError       = "error"
)

// EventParkingSpaceUpdated is the event type pushed after a sensor report.
const EventParkingSpaceUpdated = "parking_space.updated"

// Message is a single frame in either direction.
type Message struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// TopicsPayload is the payload of subscribe and unsubscribe frames.
type TopicsPayload struct {
	Topics []string `json:"topics"`
}

// ErrorPayload is the payload of error frames.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Timestamp formats t the way frames carry it.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
