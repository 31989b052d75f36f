package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// Frame types exchanged with the server.
const (
	typeSubscribe   = "subscribe"
	typeUnsubscribe = "unsubscribe"
	typeEvent       = "event"
	typeError       = "error"
	typeResponse    = "response"

	eventSpaceUpdated = "parking_space.updated"
)

// writeWait bounds a single frame write.
const writeWait = 5 * time.Second

// frame is the wire shape of every websocket message.
type frame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type topicsPayload struct {
	Topics []string `json:"topics"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsURL maps the REST base URL onto the websocket endpoint.
func (m *Manager) wsURL() string {
	base := m.cfg.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/v1/ws"
}

// connect performs the handshake, installs the connection and replays
// subscriptions. A handshake rejected with token_expired is retried once
// after a refresh.
func (m *Manager) connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	access, err := m.freshAccess(ctx)
	if err != nil {
		return err
	}

	conn, err := m.dial(ctx, access)
	if result.CodeOf(err) == result.CodeTokenExpired {
		if err := m.refreshTokens(ctx, access); err != nil {
			return err
		}
		if access, err = m.currentAccess(); err != nil {
			return err
		}
		conn, err = m.dial(ctx, access)
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	if !m.authenticated {
		m.mu.Unlock()
		closeConn(conn)
		return ErrNotAuthenticated
	}
	old := m.conn
	m.conn = conn
	// A live connection ends any reconnect loop, so a drop seen by the
	// readLoop started below can start a new one.
	m.reconnecting = false
	m.reconnectGen++
	m.mu.Unlock()

	if old != nil {
		closeConn(old)
	}

	m.setState(StateConnected)
	go m.readLoop(conn)
	m.logger.Info("websocket connected", "url", m.wsURL())

	m.reconcile(ctx)
	return nil
}

// dial opens the websocket. A rejected handshake is returned as the
// server's classified error when the body carries one.
func (m *Manager) dial(ctx context.Context, access string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+access)

	conn, resp, err := m.dialer.DialContext(ctx, m.wsURL(), header)
	if err == nil {
		return conn, nil
	}
	if resp != nil {
		defer resp.Body.Close() //nolint:errcheck // Read-only body
		if errors.Is(err, websocket.ErrBadHandshake) {
			if envErr := decodeEnvelope(resp, nil); envErr != nil {
				return nil, envErr
			}
		}
		return nil, fmt.Errorf("websocket handshake: status %d: %w", resp.StatusCode, err)
	}
	return nil, fmt.Errorf("websocket dial: %w", err)
}

// reconcile subscribes the live connection to every durable subscription
// plus the locally watched topics. A failed listing still replays the
// local topics.
func (m *Manager) reconcile(ctx context.Context) {
	want := make(map[string]struct{})

	subs, err := m.Subscriptions(ctx)
	if err != nil {
		m.logger.Warn("listing subscriptions failed", "error", err)
	}
	for _, s := range subs {
		want[s.ParkingSpaceID] = struct{}{}
	}

	m.mu.Lock()
	for t := range m.topics {
		want[t] = struct{}{}
	}
	m.mu.Unlock()

	if len(want) == 0 {
		return
	}
	topics := make([]string, 0, len(want))
	for t := range want {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	if err := m.writeFrame(typeSubscribe, topics); err != nil {
		m.logger.Warn("replaying subscriptions failed", "error", err)
		return
	}
	m.logger.Debug("subscriptions replayed", "topics", topics)
}

// writeFrame sends a subscribe or unsubscribe frame on the live connection.
func (m *Manager) writeFrame(msgType string, topics []string) error {
	m.mu.Lock()
	conn := m.conn
	m.frameSeq++
	id := strconv.Itoa(m.frameSeq)
	m.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(topicsPayload{Topics: topics})
	if err != nil {
		return fmt.Errorf("encoding topics: %w", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	//nolint:errcheck // Best-effort deadline; write error caught below
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame{Type: msgType, ID: id, Payload: payload}); err != nil {
		return fmt.Errorf("writing %s frame: %w", msgType, err)
	}
	return nil
}

// readLoop delivers frames from conn until it fails. If conn is still the
// live connection at that point and the session is authenticated, the
// reconnect loop is started.
func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			current := m.conn == conn
			if current {
				m.conn = nil
			}
			retry := current && m.authenticated
			m.mu.Unlock()

			if !current {
				return
			}
			conn.Close() //nolint:errcheck // Connection already failed
			m.logger.Warn("websocket disconnected", "error", err)
			if retry {
				go m.reconnectLoop()
			}
			return
		}
		m.handleFrame(data)
	}
}

// handleFrame routes one server frame.
func (m *Manager) handleFrame(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		m.logger.Warn("invalid frame from server", "error", err)
		return
	}

	switch f.Type {
	case typeEvent:
		if f.EventType != eventSpaceUpdated {
			m.logger.Debug("ignoring event", "event_type", f.EventType)
			return
		}
		var u Update
		if err := json.Unmarshal(f.Payload, &u); err != nil {
			m.logger.Warn("invalid update payload", "error", err)
			return
		}
		select {
		case m.updates <- u:
		default:
			m.logger.Warn("update buffer full, dropping update", "space_id", u.ID)
		}
	case typeError:
		var p errorPayload
		_ = json.Unmarshal(f.Payload, &p)
		m.logger.Warn("server rejected frame", "id", f.ID, "code", p.Code, "message", p.Message)
	case typeResponse:
		m.logger.Debug("server acknowledged frame", "id", f.ID)
	}
}

// reconnectLoop retries the connection with doubling delays. After the
// last failed attempt the manager enters StateFailed. Logout or a new Login
// stops the loop.
func (m *Manager) reconnectLoop() {
	m.mu.Lock()
	if m.reconnecting || !m.authenticated {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	gen := m.reconnectGen
	stop := m.stop
	m.mu.Unlock()

	// Clear the flag only if no connection was installed meanwhile;
	// otherwise it may belong to a newer loop.
	defer func() {
		m.mu.Lock()
		if m.reconnectGen == gen {
			m.reconnecting = false
		}
		m.mu.Unlock()
	}()

	m.setState(StateReconnecting)

	for attempt := 1; attempt <= m.cfg.MaxReconnectAttempts; attempt++ {
		delay := m.backoff(attempt)
		m.logger.Info("reconnecting", "attempt", attempt, "delay", delay)

		select {
		case <-stop:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout+m.cfg.RequestTimeout)
		err := m.connect(ctx)
		cancel()
		if err == nil {
			return
		}
		if errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrNotAuthenticated) {
			return
		}
		if code := result.CodeOf(err); code.IsAuth() {
			m.logger.Error("reconnect rejected by server", "code", string(code))
			break
		}
		m.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
	}

	m.logger.Error("giving up reconnecting", "attempts", m.cfg.MaxReconnectAttempts)
	m.setStateIfAuthenticated(StateFailed)
}

// closeConn sends a close frame and closes the socket.
func closeConn(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	//nolint:errcheck // Best effort; the socket is closed below regardless
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	conn.Close() //nolint:errcheck // Connection is being discarded
}
