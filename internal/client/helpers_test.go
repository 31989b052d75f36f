package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

var testSigningKey = []byte("client-test-signing-key-32-bytes!!")

// fakeClock drives the manager's expiry checks.
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

// fakeServer implements the REST and websocket surface the manager talks to.
type fakeServer struct {
	t     *testing.T
	ts    *httptest.Server
	clock *fakeClock

	mu          sync.Mutex
	access      map[string]bool // valid access tokens; false means expired
	refresh     map[string]bool // unused refresh tokens
	durable     []string
	rejectWS    bool
	dropNextWS  int // accepted handshakes to close straight away
	failRefresh bool
	wsAttempts  int
	refreshes   int
	logouts     []string
	conns       []*websocket.Conn

	frames chan frame
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{
		t:       t,
		clock:   &fakeClock{now: time.Now()},
		access:  make(map[string]bool),
		refresh: make(map[string]bool),
		frames:  make(chan frame, 32),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", f.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/refresh", f.handleRefresh)
	mux.HandleFunc("POST /api/v1/auth/logout", f.handleLogout)
	mux.HandleFunc("GET /api/v1/subscriptions", f.handleSubscriptions)
	mux.HandleFunc("GET /api/v1/ws", f.handleWS)
	f.ts = httptest.NewServer(mux)
	t.Cleanup(func() {
		f.dropAll()
		f.ts.Close()
	})
	return f
}

func (f *fakeServer) manager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(Config{
		BaseURL:          f.ts.URL,
		InitialDelay:     5 * time.Millisecond,
		MaxDelay:         20 * time.Millisecond,
		HandshakeTimeout: time.Second,
		RequestTimeout:   time.Second,
		Now:              f.clock.Now,
	})
	t.Cleanup(m.Close)
	return m
}

// issue mints a token pair expiring an hour from the fake clock.
func (f *fakeServer) issue() (string, string) {
	f.t.Helper()
	sign := func(ttl time.Duration) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "usr-1",
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(f.clock.Now().Add(ttl)),
		}).SignedString(testSigningKey)
		if err != nil {
			f.t.Fatalf("signing token: %v", err)
		}
		return tok
	}
	access, refresh := sign(time.Hour), sign(7*24*time.Hour)
	f.access[access] = true
	f.refresh[refresh] = true
	return access, refresh
}

func (f *fakeServer) handleLogin(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	access, refresh := f.issue()
	f.mu.Unlock()
	writeEnvelope(w, http.StatusOK, result.Ok(loginResponse{
		User:         &User{ID: "usr-1", Username: "user", Email: "user@parking.com"},
		AccessToken:  access,
		RefreshToken: refresh,
	}))
}

func (f *fakeServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck // Test server

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRefresh || !f.refresh[req.RefreshToken] {
		writeEnvelope(w, http.StatusUnauthorized, result.Fail[any](result.New(result.CodeTokenInvalid, "invalid or expired refresh token")))
		return
	}
	delete(f.refresh, req.RefreshToken)
	f.refreshes++
	access, refresh := f.issue()
	writeEnvelope(w, http.StatusOK, result.Ok(tokenPair{AccessToken: access, RefreshToken: refresh}))
}

func (f *fakeServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck // Test server

	f.mu.Lock()
	defer f.mu.Unlock()
	if code := f.checkLocked(r); code != "" {
		writeEnvelope(w, http.StatusUnauthorized, result.Fail[any](result.New(code, string(code))))
		return
	}
	delete(f.access, bearer(r))
	delete(f.refresh, req.RefreshToken)
	f.logouts = append(f.logouts, req.RefreshToken)
	writeEnvelope(w, http.StatusOK, result.Ok[any](nil))
}

func (f *fakeServer) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code := f.checkLocked(r); code != "" {
		writeEnvelope(w, http.StatusUnauthorized, result.Fail[any](result.New(code, string(code))))
		return
	}
	subs := make([]Subscription, 0, len(f.durable))
	for i, id := range f.durable {
		subs = append(subs, Subscription{ID: "sub-" + string(rune('a'+i)), ParkingSpaceID: id})
	}
	writeEnvelope(w, http.StatusOK, result.Ok(subs))
}

var testUpgrader = websocket.Upgrader{}

func (f *fakeServer) handleWS(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.wsAttempts++
	reject := f.rejectWS
	code := f.checkLocked(r)
	f.mu.Unlock()

	if reject {
		writeEnvelope(w, http.StatusServiceUnavailable, result.Fail[any](result.New(result.CodeInternal, "unavailable")))
		return
	}
	if code != "" {
		writeEnvelope(w, http.StatusUnauthorized, result.Fail[any](result.New(code, string(code))))
		return
	}

	conn, err := testUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	if f.dropNextWS > 0 {
		f.dropNextWS--
		f.mu.Unlock()
		conn.Close() //nolint:errcheck // Test
		return
	}
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	go func() {
		for {
			var fr frame
			if err := conn.ReadJSON(&fr); err != nil {
				return
			}
			f.frames <- fr
		}
	}()
}

// checkLocked returns the failure code for the request's bearer token.
func (f *fakeServer) checkLocked(r *http.Request) result.Code {
	valid, known := f.access[bearer(r)]
	switch {
	case !known:
		return result.CodeTokenInvalid
	case !valid:
		return result.CodeTokenExpired
	}
	return ""
}

// expireAccess marks every issued access token as expired.
func (f *fakeServer) expireAccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for tok := range f.access {
		f.access[tok] = false
	}
}

func (f *fakeServer) set(fn func(f *fakeServer)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeServer) get(fn func(f *fakeServer) int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(f)
}

// dropAll closes every server-side connection.
func (f *fakeServer) dropAll() {
	f.mu.Lock()
	conns := f.conns
	f.conns = nil
	f.mu.Unlock()
	for _, c := range conns {
		c.Close() //nolint:errcheck // Test
	}
}

// push sends a raw frame on the newest connection.
func (f *fakeServer) push(t *testing.T, v any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		t.Fatal("no server connection to push on")
	}
	if err := f.conns[len(f.conns)-1].WriteJSON(v); err != nil {
		t.Fatalf("push: %v", err)
	}
}

// nextFrame waits for the next client frame.
func (f *fakeServer) nextFrame(t *testing.T) frame {
	t.Helper()
	select {
	case fr := <-f.frames:
		return fr
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return frame{}
	}
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeEnvelope(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // Test server
}

// stateRecorder collects OnStateChange transitions.
type stateRecorder struct {
	ch chan State
}

func newStateRecorder(m *Manager) *stateRecorder {
	r := &stateRecorder{ch: make(chan State, 64)}
	m.cfg.OnStateChange = func(s State) { r.ch <- s }
	return r
}

// waitFor blocks until want is observed.
func (r *stateRecorder) waitFor(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-r.ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func topicsOf(t *testing.T, fr frame) []string {
	t.Helper()
	var p topicsPayload
	if err := json.Unmarshal(fr.Payload, &p); err != nil {
		t.Fatalf("decoding topics: %v", err)
	}
	return p.Topics
}
