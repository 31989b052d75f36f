package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/influxdb"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/logging"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/metrics"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/parking"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/realtime"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// Report errors.
var (
	ErrMissingFields = result.New(result.CodeValidation, "sensorId and isOccupied are required")
	ErrUnknownSensor = result.New(result.CodeNotFound, "Parking space with the given sensorId not found")
)

// SensorReport is one occupancy reading. IsOccupied is a pointer so a
// missing field can be told apart from false.
type SensorReport struct {
	SensorID     string   `json:"sensorId"`
	IsOccupied   *bool    `json:"isOccupied"`
	CurrentPrice *float64 `json:"currentPrice,omitempty"`

	// Source labels metrics; empty means webhook.
	Source string `json:"-"`
}

// UnmarshalJSON decodes a report. A field of the wrong JSON type is a
// validation failure; syntax errors are left to the caller's decoder.
func (r *SensorReport) UnmarshalJSON(data []byte) error {
	type wire SensorReport
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fieldTypeError(typeErr.Field)
		}
		return err
	}
	*r = SensorReport(w)
	return nil
}

func fieldTypeError(field string) error {
	switch field {
	case "sensorId":
		return result.New(result.CodeValidation, "sensorId must be a string")
	case "isOccupied":
		return result.New(result.CodeValidation, "isOccupied must be a boolean")
	case "currentPrice":
		return result.New(result.CodeValidation, "currentPrice must be a number")
	default:
		return result.New(result.CodeValidation, "sensor report must be a JSON object")
	}
}

// SpaceUpdate is the payload of a parking_space.updated event.
type SpaceUpdate struct {
	ID           string    `json:"id"`
	SensorID     string    `json:"sensorId"`
	Address      string    `json:"address"`
	Latitude     *float64  `json:"latitude"`
	Longitude    *float64  `json:"longitude"`
	IsOccupied   bool      `json:"isOccupied"`
	CurrentPrice float64   `json:"currentPrice"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewSpaceUpdate builds the event payload for s.
func NewSpaceUpdate(s *parking.Space) SpaceUpdate {
	return SpaceUpdate{
		ID:           s.ID,
		SensorID:     s.SensorID,
		Address:      s.Address,
		Latitude:     s.Latitude,
		Longitude:    s.Longitude,
		IsOccupied:   s.IsOccupied,
		CurrentPrice: s.CurrentPrice,
		UpdatedAt:    s.UpdatedAt,
	}
}

// StatusStore is the part of parking.Repository the handler writes through.
type StatusStore interface {
	UpdateStatus(ctx context.Context, sensorID string, isOccupied bool, price *float64) (*parking.Space, error)
}

// Publisher fans an event out to a realtime topic.
type Publisher interface {
	Publish(topic, eventType string, payload any) (realtime.Delivery, error)
}

// OccupancyWriter records telemetry. Implemented by *influxdb.Recorder.
type OccupancyWriter interface {
	WriteOccupancy(s influxdb.OccupancySample)
}

// EventFeed forwards events to downstream consumers. Implemented by *amqp.Publisher.
type EventFeed interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

// StatusMirror republishes the latest space state to devices on the
// broker. Implemented by *mqtt.Client.
type StatusMirror interface {
	MirrorSpaceStatus(spaceID string, payload []byte) error
}

// Config wires a Handler. Store and Publisher are required; the rest may be nil.
type Config struct {
	Store     StatusStore
	Publisher Publisher
	Telemetry OccupancyWriter
	Feed      EventFeed
	Mirror    StatusMirror
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
}

// Handler applies sensor reports.
//
// Thread Safety:
//   - Report is safe for concurrent use. Concurrent reports for the same
//     sensor are serialised by the store; the last committed write wins.
type Handler struct {
	store     StatusStore
	publisher Publisher
	telemetry OccupancyWriter
	feed      EventFeed
	mirror    StatusMirror
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// NewHandler creates a Handler from cfg.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		telemetry: cfg.Telemetry,
		feed:      cfg.Feed,
		mirror:    cfg.Mirror,
		logger:    logger,
		metrics:   cfg.Metrics,
	}
}

// Report validates r, persists the new occupancy and notifies subscribers
// of the space.
//
// Parameters:
//   - ctx: Request context for the store and the event feed
//   - r: The sensor reading
//
// Returns:
//   - *parking.Space: The state after the write
//   - error: Validation or not_found before any write, or a store failure
func (h *Handler) Report(ctx context.Context, r SensorReport) (*parking.Space, error) {
	source := r.Source
	if source == "" {
		source = metrics.SourceWebhook
	}

	sensorID := strings.TrimSpace(r.SensorID)
	if sensorID == "" || r.IsOccupied == nil {
		h.count(source, metrics.OutcomeRejected)
		return nil, ErrMissingFields
	}
	if r.CurrentPrice != nil {
		if err := parking.ValidatePrice(*r.CurrentPrice); err != nil {
			h.count(source, metrics.OutcomeRejected)
			return nil, err
		}
	}

	space, err := h.store.UpdateStatus(ctx, sensorID, *r.IsOccupied, r.CurrentPrice)
	if err != nil {
		if errors.Is(err, parking.ErrSpaceNotFound) {
			h.count(source, metrics.OutcomeNotFound)
			return nil, ErrUnknownSensor
		}
		h.count(source, metrics.OutcomeError)
		h.logger.Error("applying sensor report failed", "sensor_id", sensorID, "error", err)
		return nil, err
	}
	h.count(source, metrics.OutcomeApplied)

	update := NewSpaceUpdate(space)
	d, err := h.publisher.Publish(space.Topic(), realtime.EventParkingSpaceUpdated, update)
	if err != nil {
		h.logger.Error("fan-out failed", "space_id", space.ID, "error", err)
	}
	h.logger.Debug("sensor report applied",
		"sensor_id", sensorID,
		"space_id", space.ID,
		"occupied", space.IsOccupied,
		"source", source,
		"recipients", d.Recipients,
	)

	h.sideEffects(ctx, space, update)
	return space, nil
}

// sideEffects writes telemetry, the outbound event and the retained broker
// status. Failures are logged only.
func (h *Handler) sideEffects(ctx context.Context, space *parking.Space, update SpaceUpdate) {
	if h.telemetry != nil {
		h.telemetry.WriteOccupancy(influxdb.OccupancySample{
			SpaceID:      space.ID,
			SensorID:     space.SensorID,
			IsOccupied:   space.IsOccupied,
			CurrentPrice: space.CurrentPrice,
			At:           space.UpdatedAt,
		})
	}
	if h.feed != nil {
		if err := h.feed.Publish(ctx, realtime.EventParkingSpaceUpdated, update); err != nil {
			if h.metrics != nil {
				h.metrics.EventFeedPublishFails.Inc()
			}
			h.logger.Warn("event feed publish failed", "space_id", space.ID, "error", err)
		}
	}
	if h.mirror != nil {
		payload, err := json.Marshal(update)
		if err == nil {
			err = h.mirror.MirrorSpaceStatus(space.ID, payload)
		}
		if err != nil {
			h.logger.Warn("space status mirror failed", "space_id", space.ID, "error", err)
		}
	}
}

func (h *Handler) count(source, outcome string) {
	if h.metrics != nil {
		h.metrics.SensorReports.WithLabelValues(source, outcome).Inc()
	}
}
