package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/auth"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/config"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/database"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/influxdb"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/metrics"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/parking"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/realtime"
	"github.com/fortune-cook1e/iot-smart-parking-system/migrations"
)

func boolPtr(b bool) *bool { return &b }

func floatPtr(f float64) *float64 { return &f }

// fixture is a handler over a real database and a real registry.
type fixture struct {
	repo     *parking.SQLiteRepository
	registry *realtime.Registry
	handler  *Handler
	metrics  *metrics.Metrics
	telem    *recordingTelemetry
	feed     *recordingFeed
	mirror   *recordingMirror
	space    *parking.Space
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "ingest-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	repo := parking.NewRepository(db)
	space, err := repo.Create(context.Background(), parking.SpaceInput{
		SensorID:     "SENSOR-001",
		Name:         "Bay 1",
		Address:      "Drottninggatan 1, Stockholm",
		Latitude:     floatPtr(59.33),
		Longitude:    floatPtr(18.06),
		CurrentPrice: 20,
	})
	if err != nil {
		t.Fatalf("creating space: %v", err)
	}

	m := metrics.New()
	registry := realtime.NewRegistry(realtime.RegistryConfig{Verifier: okVerifier{}, Metrics: m})
	f := &fixture{
		repo:     repo,
		registry: registry,
		metrics:  m,
		telem:    &recordingTelemetry{},
		feed:     &recordingFeed{},
		mirror:   &recordingMirror{},
		space:    space,
	}
	f.handler = NewHandler(Config{
		Store:     repo,
		Publisher: realtime.NewNotifier(registry, nil, m),
		Telemetry: f.telem,
		Feed:      f.feed,
		Mirror:    f.mirror,
		Metrics:   m,
	})
	return f
}

// subscriber connects a session for userID and joins it to topics.
func (f *fixture) subscriber(t *testing.T, userID string, topics ...string) *outboxSession {
	t.Helper()
	var s *outboxSession
	_, err := f.registry.Accept(context.Background(), userID, func(id string, p auth.Payload) (realtime.Session, error) {
		s = &outboxSession{id: id, userID: p.UserID, out: realtime.NewOutbox(8)}
		return s, nil
	})
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	for _, topic := range topics {
		if err := f.registry.Subscribe(s.ID(), topic); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	return s
}

type okVerifier struct{}

func (okVerifier) VerifyAccess(_ context.Context, token string) (auth.Payload, error) {
	return auth.Payload{UserID: token}, nil
}

type outboxSession struct {
	id, userID string
	out        *realtime.Outbox
}

func (s *outboxSession) ID() string              { return s.id }
func (s *outboxSession) UserID() string          { return s.userID }
func (s *outboxSession) Send(frame []byte) error { return s.out.Enqueue(frame) }
func (s *outboxSession) Close() error            { s.out.Close(); return nil }

// nextUpdate waits for one event frame and decodes its payload.
func (s *outboxSession) nextUpdate(t *testing.T) SpaceUpdate {
	t.Helper()
	select {
	case frame := <-s.out.C():
		var msg struct {
			Type      string      `json:"type"`
			EventType string      `json:"event_type"`
			Payload   SpaceUpdate `json:"payload"`
		}
		if err := json.Unmarshal(frame, &msg); err != nil {
			t.Fatalf("decoding frame: %v", err)
		}
		if msg.Type != realtime.TypeEvent || msg.EventType != realtime.EventParkingSpaceUpdated {
			t.Fatalf("frame = %s", frame)
		}
		return msg.Payload
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
		return SpaceUpdate{}
	}
}

func (s *outboxSession) expectNone(t *testing.T) {
	t.Helper()
	select {
	case frame := <-s.out.C():
		t.Fatalf("unexpected frame %s", frame)
	case <-time.After(20 * time.Millisecond):
	}
}

type recordingTelemetry struct {
	mu      sync.Mutex
	samples []influxdb.OccupancySample
}

func (r *recordingTelemetry) WriteOccupancy(s influxdb.OccupancySample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

type recordingFeed struct {
	mu     sync.Mutex
	events []string
	fail   bool
}

func (r *recordingFeed) Publish(_ context.Context, eventType string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("broker unreachable")
	}
	r.events = append(r.events, eventType)
	return nil
}

type recordingMirror struct {
	mu       sync.Mutex
	spaces   []string
	payloads [][]byte
	fail     bool
}

func (r *recordingMirror) MirrorSpaceStatus(spaceID string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("broker unreachable")
	}
	r.spaces = append(r.spaces, spaceID)
	r.payloads = append(r.payloads, payload)
	return nil
}
