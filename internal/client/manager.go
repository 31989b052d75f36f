package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// Config holds configuration for a Manager.
type Config struct {
	// BaseURL is the server root, e.g. "http://localhost:8080".
	BaseURL string

	// MaxReconnectAttempts bounds reconnection after a dropped connection.
	MaxReconnectAttempts int

	// InitialDelay is the wait before the first reconnect attempt. Each
	// further attempt doubles it up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// HandshakeTimeout bounds the websocket upgrade.
	HandshakeTimeout time.Duration

	// RequestTimeout bounds REST calls made without a caller deadline.
	RequestTimeout time.Duration

	// RefreshMargin is how close to expiry the access token may get before
	// it is refreshed ahead of use.
	RefreshMargin time.Duration

	// UpdateBuffer is the capacity of the Updates channel. Updates arriving
	// while it is full are dropped.
	UpdateBuffer int

	// OnStateChange is called after every state transition, outside any lock.
	OnStateChange func(State)

	// HTTPClient is used for REST calls. Defaults to a client with RequestTimeout.
	HTTPClient *http.Client

	// Now overrides the clock used for token expiry checks.
	Now func() time.Time
}

// Manager owns one authenticated session against the server.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Manager struct {
	cfg     Config
	logger  Logger
	http    *http.Client
	dialer  *websocket.Dialer
	updates chan Update

	// connectMu serialises handshakes; refreshMu serialises token rotation.
	connectMu sync.Mutex
	refreshMu sync.Mutex
	writeMu   sync.Mutex

	mu            sync.Mutex
	state         State
	authenticated bool
	tok           tokens
	user          *User
	conn          *websocket.Conn
	topics        map[string]struct{}
	reconnecting  bool
	reconnectGen  int // bumped whenever a connection is installed
	stop          chan struct{}
	frameSeq      int
}

// NewManager creates a manager with cfg. Nothing is contacted until Login.
func NewManager(cfg Config) *Manager {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = DefaultUpdateBuffer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	return &Manager{
		cfg:     cfg,
		logger:  noopLogger{},
		http:    httpClient,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		updates: make(chan Update, cfg.UpdateBuffer),
		state:   StateDisconnected,
		topics:  make(map[string]struct{}),
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Updates returns the channel parking space updates are delivered on. The
// channel is never closed.
func (m *Manager) Updates() <-chan Update {
	return m.updates
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsAuthenticated reports whether the manager holds a session.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated
}

// User returns the logged-in user, or nil.
func (m *Manager) User() *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// Login authenticates and opens the websocket.
//
// An existing connection is closed first so exactly one websocket is open
// afterwards. If the handshake fails the session stays authenticated and
// the manager enters StateFailed; Reconnect can be used to try again.
//
// Parameters:
//   - ctx: Bounds the login call and the handshake
//   - email, password: Account credentials
//
// Returns:
//   - error: The server's classified failure, or a transport error
func (m *Manager) Login(ctx context.Context, email, password string) error {
	var res loginResponse
	if err := m.send(ctx, http.MethodPost, "/api/v1/auth/login", "", loginRequest{Email: email, Password: password}, &res); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	tok, err := newTokens(res.AccessToken, res.RefreshToken)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	m.mu.Lock()
	old := m.conn
	m.conn = nil
	if m.stop != nil && m.authenticated {
		close(m.stop)
	}
	m.stop = make(chan struct{})
	m.authenticated = true
	m.tok = tok
	m.user = res.User
	m.mu.Unlock()

	if old != nil {
		closeConn(old)
	}

	m.setState(StateConnecting)
	if err := m.connect(ctx); err != nil {
		m.setStateIfAuthenticated(StateFailed)
		return fmt.Errorf("connecting: %w", err)
	}
	return nil
}

// Logout revokes the session on the server and closes the connection. The
// local session is cleared even if the server call fails.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if !m.authenticated {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	tok := m.tok
	m.mu.Unlock()

	err := m.send(ctx, http.MethodPost, "/api/v1/auth/logout", tok.access, refreshRequest{RefreshToken: tok.refresh}, nil)

	m.teardown()
	m.logger.Info("logged out")

	// An expired or revoked session is already gone server side.
	if err != nil && !result.CodeOf(err).IsAuth() {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Close clears the local session without contacting the server.
func (m *Manager) Close() {
	m.teardown()
}

// Reconnect opens the websocket again after StateFailed.
//
// Returns:
//   - error: ErrNotAuthenticated without a session, or the handshake failure
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	authenticated, state := m.authenticated, m.state
	m.mu.Unlock()

	if !authenticated {
		return ErrNotAuthenticated
	}
	if state == StateConnected {
		return nil
	}

	m.setState(StateConnecting)
	if err := m.connect(ctx); err != nil {
		m.setStateIfAuthenticated(StateFailed)
		return err
	}
	return nil
}

// Watch tracks topic locally and subscribes the live connection to it.
// Watched topics are replayed on every reconnect alongside the durable
// subscriptions, but are not stored server side.
func (m *Manager) Watch(topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return errors.New("client: topic is required")
	}

	m.mu.Lock()
	m.topics[topic] = struct{}{}
	connected := m.conn != nil
	m.mu.Unlock()

	if !connected {
		return nil
	}
	return m.writeFrame(typeSubscribe, []string{topic})
}

// Unwatch stops tracking topic and unsubscribes the live connection.
func (m *Manager) Unwatch(topic string) error {
	m.mu.Lock()
	delete(m.topics, topic)
	connected := m.conn != nil
	m.mu.Unlock()

	if !connected {
		return nil
	}
	return m.writeFrame(typeUnsubscribe, []string{topic})
}

// Subscribe stores a durable subscription. The server joins every live
// session of the user to the topic, so no frame is sent.
func (m *Manager) Subscribe(ctx context.Context, spaceID string) error {
	return m.call(ctx, http.MethodPost, "/api/v1/subscriptions", subscriptionRequest{ParkingSpaceID: spaceID}, nil)
}

// Unsubscribe removes a durable subscription and any local watch on it.
func (m *Manager) Unsubscribe(ctx context.Context, spaceID string) error {
	if err := m.call(ctx, http.MethodDelete, "/api/v1/subscriptions/"+spaceID, nil, nil); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.topics, spaceID)
	m.mu.Unlock()
	return nil
}

// Subscriptions lists the user's durable subscriptions.
func (m *Manager) Subscriptions(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	if err := m.call(ctx, http.MethodGet, "/api/v1/subscriptions", nil, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// teardown clears the session and closes the connection. The reconnect
// loop observes the closed stop channel and exits.
func (m *Manager) teardown() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	if m.authenticated && m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.authenticated = false
	m.tok = tokens{}
	m.user = nil
	m.mu.Unlock()

	if conn != nil {
		closeConn(conn)
	}
	m.setState(StateDisconnected)
}

// setState records a transition and notifies the callback.
func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	cb := m.cfg.OnStateChange
	m.mu.Unlock()

	m.logger.Debug("client state changed", "state", string(s))
	if cb != nil {
		cb(s)
	}
}

// setStateIfAuthenticated skips the transition when a concurrent logout
// already moved the manager to StateDisconnected.
func (m *Manager) setStateIfAuthenticated(s State) {
	if m.IsAuthenticated() {
		m.setState(s)
	}
}

// backoff returns the wait before reconnect attempt n (1-based).
func (m *Manager) backoff(attempt int) time.Duration {
	d := m.cfg.InitialDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= m.cfg.MaxDelay {
			return m.cfg.MaxDelay
		}
	}
	return min(d, m.cfg.MaxDelay)
}
