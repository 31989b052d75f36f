package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/auth"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/config"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/database"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/logging"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/metrics"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/ingest"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/parking"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/realtime"
	"github.com/fortune-cook1e/iot-smart-parking-system/migrations"
)

const testPassword = "correct-horse-battery"

// fakeClock drives token issue and verification.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// env is a fully wired server over a temp database.
type env struct {
	srv      *Server
	handler  http.Handler
	clock    *fakeClock
	auth     *auth.Service
	spaces   *parking.SQLiteRepository
	subs     *parking.SQLiteSubscriptionRepository
	registry *realtime.Registry
	metrics  *metrics.Metrics
}

type envOption func(*Deps)

func withSensorKey(key string) envOption {
	return func(d *Deps) { d.Security.Webhook.SensorKey = key }
}

func withRateLimit(perMinute, burst int) envOption {
	return func(d *Deps) {
		rl := &d.Security.RateLimit
		rl.Enabled, rl.RequestsPerMinute, rl.Burst = true, perMinute, burst
	}
}

func withWebhookRateLimit(perMinute, burst int) envOption {
	return func(d *Deps) {
		d.Security.RateLimit.Webhook = config.BucketConfig{Enabled: true, RequestsPerMinute: perMinute, Burst: burst}
	}
}

func withChecks(checks map[string]HealthChecker) envOption {
	return func(d *Deps) { d.Checks = checks }
}

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
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

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	clock := &fakeClock{now: time.Now().UTC()}
	m := metrics.New()

	tokens := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  "test-access-secret-at-least-32-bytes!!",
		RefreshSecret: "test-refresh-secret-at-least-32-bytes!",
		AccessTTL:     time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "smartparking-test",
		Now:           clock.Now,
	}, auth.NewMemoryBlacklist(clock.Now))
	authSvc := auth.NewService(auth.NewUserRepository(db.DB), tokens, log.Logger)

	spaces := parking.NewRepository(db)
	subs := parking.NewSubscriptionRepository(db)
	registry := realtime.NewRegistry(realtime.RegistryConfig{
		Verifier:      tokens,
		Lister:        subs,
		AutoSubscribe: true,
		Logger:        log,
		Metrics:       m,
	})
	handler := ingest.NewHandler(ingest.Config{
		Store:     spaces,
		Publisher: realtime.NewNotifier(registry, log, m),
		Logger:    log,
		Metrics:   m,
	})

	deps := Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     16,
		},
		Logger:        log,
		Auth:          authSvc,
		Spaces:        spaces,
		Subscriptions: subs,
		Realtime:      registry,
		Ingest:        handler,
		Metrics:       m,
		Version:       "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return &env{
		srv:      srv,
		handler:  srv.Handler(),
		clock:    clock,
		auth:     authSvc,
		spaces:   spaces,
		subs:     subs,
		registry: registry,
		metrics:  m,
	}
}

// envelope is the decoded Result body.
type envelope struct {
	OK      bool            `json:"ok"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

// do sends a request through the router.
func (e *env) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("encoding body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("decoding %s %s response %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w, env
}

// decodeData unmarshals the envelope data into dst.
func decodeData(t *testing.T, env envelope, dst any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decoding data %s: %v", env.Data, err)
	}
}

// login registers email (once) and returns a fresh login result.
func (e *env) login(t *testing.T, email string) auth.LoginResult {
	t.Helper()
	ctx := context.Background()
	username := strings.Split(email, "@")[0]
	if _, err := e.auth.Register(ctx, auth.RegisterInput{Username: username, Email: email, Password: testPassword}); err != nil {
		if !errors.Is(err, auth.ErrEmailExists) {
			t.Fatalf("Register(%s) error = %v", email, err)
		}
	}
	res, err := e.auth.Login(ctx, email, testPassword)
	if err != nil {
		t.Fatalf("Login(%s) error = %v", email, err)
	}
	return res
}

// createSpace inserts a space directly through the repository.
func (e *env) createSpace(t *testing.T, sensorID string) *parking.Space {
	t.Helper()
	lat, lon := 59.3293, 18.0686
	space, err := e.spaces.Create(context.Background(), parking.SpaceInput{
		SensorID:     sensorID,
		Name:         "Bay " + sensorID,
		Address:      "Sergels torg 1, Stockholm",
		Latitude:     &lat,
		Longitude:    &lon,
		CurrentPrice: 25,
	})
	if err != nil {
		t.Fatalf("creating space %s: %v", sensorID, err)
	}
	return space
}

// liveServer serves the router over a real listener.
func (e *env) liveServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(e.handler)
	t.Cleanup(func() {
		e.registry.CloseAll()
		ts.Close()
	})
	return ts
}

var websocketDialer = websocket.Dialer{HandshakeTimeout: 5 * time.Second}

// dialWS opens a websocket with the token in the Authorization header.
func dialWS(t *testing.T, ts *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocketDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() }) //nolint:errcheck // Test cleanup
	}
	return conn, resp, err
}

// wsFrame is a decoded server frame.
type wsFrame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// readFrame reads one frame with a deadline.
func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	var f wsFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return f
}

// sendFrame writes a client frame.
func sendFrame(t *testing.T, conn *websocket.Conn, msgType, id string, topics ...string) {
	t.Helper()
	msg := map[string]any{"type": msgType, "id": id}
	if topics != nil {
		msg["payload"] = realtime.TopicsPayload{Topics: topics}
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("writing %s frame: %v", msgType, err)
	}
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
