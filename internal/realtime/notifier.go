package realtime

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/logging"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/metrics"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// Delivery summarises one Publish call.
type Delivery struct {
	Recipients int `json:"recipients"`
	Delivered  int `json:"delivered"`
	Dropped    int `json:"dropped"`
}

// Notifier fans events out to the members of a topic.
type Notifier struct {
	registry *Registry
	logger   *logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewNotifier creates a notifier over registry. logger and m may be nil.
func NewNotifier(registry *Registry, logger *logging.Logger, m *metrics.Metrics) *Notifier {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Notifier{registry: registry, logger: logger, metrics: m, now: time.Now}
}

// Publish sends one event frame to every session currently in topic.
//
// The frame is encoded once. Each member receives it at most once; a member
// whose Send fails (closed or full) is counted in Dropped and the loop
// carries on. An empty topic is a no-op.
//
// Returns:
//   - Delivery: Per-call counts
//   - error: Validation for an empty topic or event type, or an encoding failure
func (n *Notifier) Publish(topic, eventType string, payload any) (Delivery, error) {
	if strings.TrimSpace(topic) == "" || strings.TrimSpace(eventType) == "" {
		return Delivery{}, result.New(result.CodeValidation, "topic and event type are required")
	}

	members := n.registry.Members(topic)
	if len(members) == 0 {
		return Delivery{}, nil
	}

	frame, err := json.Marshal(Message{
		Type:      TypeEvent,
		EventType: eventType,
		Timestamp: Timestamp(n.now()),
		Payload:   payload,
	})
	if err != nil {
		return Delivery{}, result.Wrap(result.CodeInternal, err, "encoding event")
	}

	d := Delivery{Recipients: len(members)}
	for _, s := range members {
		if err := s.Send(frame); err != nil {
			d.Dropped++
			if errors.Is(err, ErrSlowConsumer) {
				n.logger.Warn("dropping event for slow session", "session_id", s.ID(), "topic", topic)
			}
			continue
		}
		d.Delivered++
	}

	if n.metrics != nil {
		n.metrics.Notifications.WithLabelValues(metrics.OutcomeDelivered).Add(float64(d.Delivered))
		n.metrics.Notifications.WithLabelValues(metrics.OutcomeFailed).Add(float64(d.Dropped))
	}
	n.logger.Debug("event published", "topic", topic, "event_type", eventType,
		"recipients", d.Recipients, "dropped", d.Dropped)
	return d, nil
}
