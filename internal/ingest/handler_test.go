package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/metrics"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/realtime"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

func TestReport_UpdatesAndNotifiesSubscribers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub := f.subscriber(t, "usr-1", f.space.ID)
	other := f.subscriber(t, "usr-2", "ps-elsewhere")

	got, err := f.handler.Report(ctx, SensorReport{SensorID: " SENSOR-001 ", IsOccupied: boolPtr(true), CurrentPrice: floatPtr(35)})
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if !got.IsOccupied || got.CurrentPrice != 35 {
		t.Errorf("Report() = %+v", got)
	}
	if got.UpdatedAt.Before(f.space.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want not before %v", got.UpdatedAt, f.space.UpdatedAt)
	}

	stored, err := f.repo.GetByID(ctx, f.space.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !stored.IsOccupied || stored.CurrentPrice != 35 {
		t.Errorf("stored = %+v", stored)
	}

	update := sub.nextUpdate(t)
	if update.ID != f.space.ID || update.SensorID != "SENSOR-001" || !update.IsOccupied || update.CurrentPrice != 35 {
		t.Errorf("update = %+v", update)
	}
	if update.Address != f.space.Address || update.Latitude == nil || *update.Latitude != 59.33 {
		t.Errorf("update location = %q %v", update.Address, update.Latitude)
	}
	other.expectNone(t)

	if len(f.telem.samples) != 1 || f.telem.samples[0].SpaceID != f.space.ID || !f.telem.samples[0].IsOccupied {
		t.Errorf("telemetry = %+v", f.telem.samples)
	}
	if len(f.feed.events) != 1 || f.feed.events[0] != realtime.EventParkingSpaceUpdated {
		t.Errorf("feed events = %v", f.feed.events)
	}
	if len(f.mirror.spaces) != 1 || f.mirror.spaces[0] != f.space.ID {
		t.Fatalf("mirrored spaces = %v", f.mirror.spaces)
	}
	var mirrored SpaceUpdate
	if err := json.Unmarshal(f.mirror.payloads[0], &mirrored); err != nil {
		t.Fatalf("mirror payload %s: %v", f.mirror.payloads[0], err)
	}
	if mirrored.ID != f.space.ID || !mirrored.IsOccupied || mirrored.CurrentPrice != 35 {
		t.Errorf("mirrored = %+v", mirrored)
	}
	if got := testutil.ToFloat64(f.metrics.SensorReports.WithLabelValues(metrics.SourceWebhook, metrics.OutcomeApplied)); got != 1 {
		t.Errorf("sensor_reports_total{webhook,applied} = %v", got)
	}
}

func TestReport_PriceOmittedKeepsPrice(t *testing.T) {
	f := newFixture(t)

	got, err := f.handler.Report(context.Background(), SensorReport{SensorID: "SENSOR-001", IsOccupied: boolPtr(false)})
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if got.CurrentPrice != f.space.CurrentPrice {
		t.Errorf("CurrentPrice = %v, want unchanged %v", got.CurrentPrice, f.space.CurrentPrice)
	}
}

func TestReport_ValidationDoesNotMutate(t *testing.T) {
	tests := []struct {
		name    string
		report  SensorReport
		wantMsg string
	}{
		{"missing sensor", SensorReport{IsOccupied: boolPtr(true)}, "sensorId and isOccupied are required"},
		{"blank sensor", SensorReport{SensorID: "   ", IsOccupied: boolPtr(true)}, "sensorId and isOccupied are required"},
		{"missing isOccupied", SensorReport{SensorID: "SENSOR-001"}, "sensorId and isOccupied are required"},
		{"negative price", SensorReport{SensorID: "SENSOR-001", IsOccupied: boolPtr(true), CurrentPrice: floatPtr(-1)}, ""},
		{"NaN price", SensorReport{SensorID: "SENSOR-001", IsOccupied: boolPtr(true), CurrentPrice: floatPtr(math.NaN())}, ""},
		{"infinite price", SensorReport{SensorID: "SENSOR-001", IsOccupied: boolPtr(true), CurrentPrice: floatPtr(math.Inf(1))}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sub := f.subscriber(t, "usr-1", f.space.ID)

			_, err := f.handler.Report(context.Background(), tt.report)
			if result.CodeOf(err) != result.CodeValidation {
				t.Fatalf("Report() error = %v, want validation", err)
			}
			if tt.wantMsg != "" && result.MessageOf(err) != tt.wantMsg {
				t.Errorf("message = %q, want %q", result.MessageOf(err), tt.wantMsg)
			}

			stored, err := f.repo.GetByID(context.Background(), f.space.ID)
			if err != nil {
				t.Fatalf("GetByID() error = %v", err)
			}
			if stored.IsOccupied != f.space.IsOccupied || stored.CurrentPrice != f.space.CurrentPrice || !stored.UpdatedAt.Equal(f.space.UpdatedAt) {
				t.Errorf("space mutated: %+v", stored)
			}
			sub.expectNone(t)
			if len(f.telem.samples) != 0 || len(f.feed.events) != 0 || len(f.mirror.spaces) != 0 {
				t.Error("side effects ran for a rejected report")
			}
		})
	}
}

func TestReport_UnknownSensor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.handler.Report(ctx, SensorReport{SensorID: "SENSOR-404", IsOccupied: boolPtr(true)})
	if !errors.Is(err, ErrUnknownSensor) || result.CodeOf(err) != result.CodeNotFound {
		t.Fatalf("Report() error = %v, want ErrUnknownSensor", err)
	}

	n, err := f.repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1 (no space created)", n)
	}
	if got := testutil.ToFloat64(f.metrics.SensorReports.WithLabelValues(metrics.SourceWebhook, metrics.OutcomeNotFound)); got != 1 {
		t.Errorf("sensor_reports_total{webhook,not_found} = %v", got)
	}
}

func TestReport_DuplicateDeliversTwice(t *testing.T) {
	f := newFixture(t)
	sub := f.subscriber(t, "usr-1", f.space.ID)
	r := SensorReport{SensorID: "SENSOR-001", IsOccupied: boolPtr(true)}

	first, err := f.handler.Report(context.Background(), r)
	if err != nil {
		t.Fatalf("first Report() error = %v", err)
	}
	second, err := f.handler.Report(context.Background(), r)
	if err != nil {
		t.Fatalf("second Report() error = %v", err)
	}
	if first.IsOccupied != second.IsOccupied || first.CurrentPrice != second.CurrentPrice {
		t.Errorf("end states differ: %+v vs %+v", first, second)
	}

	for i := 0; i < 2; i++ {
		if u := sub.nextUpdate(t); !u.IsOccupied {
			t.Errorf("update #%d = %+v", i+1, u)
		}
	}
	sub.expectNone(t)
}

func TestReport_NoSubscribersStillSucceeds(t *testing.T) {
	f := newFixture(t)
	if _, err := f.handler.Report(context.Background(), SensorReport{SensorID: "SENSOR-001", IsOccupied: boolPtr(true)}); err != nil {
		t.Fatalf("Report() error = %v", err)
	}
}

func TestReport_FeedFailureIsBestEffort(t *testing.T) {
	f := newFixture(t)
	f.feed.fail = true
	sub := f.subscriber(t, "usr-1", f.space.ID)

	if _, err := f.handler.Report(context.Background(), SensorReport{SensorID: "SENSOR-001", IsOccupied: boolPtr(true)}); err != nil {
		t.Fatalf("Report() error = %v, feed failures must not surface", err)
	}
	sub.nextUpdate(t)
	if got := testutil.ToFloat64(f.metrics.EventFeedPublishFails); got != 1 {
		t.Errorf("event_feed_publish_failures_total = %v, want 1", got)
	}
}

func TestReport_MirrorFailureIsBestEffort(t *testing.T) {
	f := newFixture(t)
	f.mirror.fail = true
	sub := f.subscriber(t, "usr-1", f.space.ID)

	if _, err := f.handler.Report(context.Background(), SensorReport{SensorID: "SENSOR-001", IsOccupied: boolPtr(true)}); err != nil {
		t.Fatalf("Report() error = %v, mirror failures must not surface", err)
	}
	sub.nextUpdate(t)
	if len(f.feed.events) != 1 {
		t.Errorf("feed events = %v, want the feed to run despite the mirror", f.feed.events)
	}
}

func TestReport_OptionalCollaborators(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(Config{Store: f.repo, Publisher: realtime.NewNotifier(f.registry, nil, nil)})

	if _, err := h.Report(context.Background(), SensorReport{SensorID: "SENSOR-001", IsOccupied: boolPtr(true)}); err != nil {
		t.Fatalf("Report() without telemetry, feed or metrics error = %v", err)
	}
}
