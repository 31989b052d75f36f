package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/metrics"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/mqtt"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// mqttReportTimeout bounds one report received over MQTT.
const mqttReportTimeout = 5 * time.Second

// Subscriber is the part of *mqtt.Client the adapter needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTSource feeds sensor status messages into a Handler.
type MQTTSource struct {
	handler *Handler
	sub     Subscriber
	topic   string
	qos     byte
}

// NewMQTTSource creates an adapter that will subscribe sub to topic.
func NewMQTTSource(handler *Handler, sub Subscriber, topic string, qos byte) *MQTTSource {
	if topic == "" {
		topic = mqtt.Topics{}.AllSensorStatus()
	}
	return &MQTTSource{handler: handler, sub: sub, topic: topic, qos: qos}
}

// Start subscribes to the sensor topic. The subscription survives broker
// reconnects.
func (s *MQTTSource) Start() error {
	if err := s.sub.Subscribe(s.topic, s.qos, s.handleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.topic, err)
	}
	s.handler.logger.Info("listening for sensor reports", "topic", s.topic)
	return nil
}

// Stop unsubscribes from the sensor topic. Reports already being handled
// run to completion.
func (s *MQTTSource) Stop() {
	if err := s.sub.Unsubscribe(s.topic); err != nil {
		s.handler.logger.Warn("unsubscribing from sensor topic failed", "topic", s.topic, "error", err)
		return
	}
	s.handler.logger.Info("stopped listening for sensor reports", "topic", s.topic)
}

// handleMessage decodes one status message. The sensor id comes from the
// topic unless the payload names one. A returned error is logged by the
// MQTT client and the message is dropped.
func (s *MQTTSource) handleMessage(topic string, payload []byte) error {
	var r SensorReport
	if err := json.Unmarshal(payload, &r); err != nil {
		s.handler.count(metrics.SourceMQTT, metrics.OutcomeRejected)
		if result.CodeOf(err) == result.CodeValidation {
			return fmt.Errorf("sensor report on %s: %w", topic, err)
		}
		return result.Wrap(result.CodeBadRequest, err, "decoding sensor report")
	}
	if r.SensorID == "" {
		if id, ok := mqtt.SensorIDFromTopic(topic); ok {
			r.SensorID = id
		}
	}
	r.Source = metrics.SourceMQTT

	ctx, cancel := context.WithTimeout(context.Background(), mqttReportTimeout)
	defer cancel()

	if _, err := s.handler.Report(ctx, r); err != nil {
		return fmt.Errorf("sensor %q on %s: %w", r.SensorID, topic, err)
	}
	return nil
}
