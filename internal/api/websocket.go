package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/auth"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/config"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/logging"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/realtime"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// defaultSendBuffer is used when websocket.send_buffer is unset.
const defaultSendBuffer = 256

// inboundMessage is a client frame; the payload is decoded per type.
type inboundMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// WSClient is a realtime.Session over a gorilla websocket connection.
// Frames are queued on an Outbox drained by writePump, so one slow socket
// never blocks a publish.
type WSClient struct {
	id       string
	userID   string
	conn     *websocket.Conn
	out      *realtime.Outbox
	registry *realtime.Registry
	cfg      config.WebSocketConfig
	logger   *logging.Logger
}

// ID implements realtime.Session.
func (c *WSClient) ID() string { return c.id }

// UserID implements realtime.Session.
func (c *WSClient) UserID() string { return c.userID }

// Send implements realtime.Session.
func (c *WSClient) Send(frame []byte) error { return c.out.Enqueue(frame) }

// Close stops delivery. writePump flushes what is queued, sends a close
// frame and closes the socket, which in turn ends readPump.
func (c *WSClient) Close() error {
	c.out.Close()
	return nil
}

// handleWebSocket authenticates the handshake and upgrades the connection.
//
// The access token is read from "Authorization: Bearer" or, for browser
// clients that cannot set headers, the token query parameter. A rejected
// token gets a plain 401 envelope carrying the token_* code and no upgrade.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	upgraded := false
	session, err := s.realtime.Accept(r.Context(), token, func(id string, identity auth.Payload) (realtime.Session, error) {
		upgraded = true
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return nil, err
		}
		return s.newWSClient(id, identity, conn), nil
	})
	if err != nil {
		if !upgraded {
			s.writeError(w, r, err)
			return
		}
		// The upgrader has already replied to the client.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client, ok := session.(*WSClient)
	if !ok {
		s.logger.Error("unexpected session type", "session_id", session.ID())
		return
	}
	go client.writePump()
	go client.readPump()
}

func (s *Server) newWSClient(id string, identity auth.Payload, conn *websocket.Conn) *WSClient {
	size := s.wsCfg.SendBuffer
	if size <= 0 {
		size = defaultSendBuffer
	}
	return &WSClient{
		id:       id,
		userID:   identity.UserID,
		conn:     conn,
		out:      realtime.NewOutbox(size),
		registry: s.realtime,
		cfg:      s.wsCfg,
		logger:   s.logger.With("session_id", id, "user_id", identity.UserID),
	}
}

// readPump reads frames until the connection fails or closes, then
// unregisters the session. It is the single place OnDisconnect is called.
func (c *WSClient) readPump() {
	defer func() {
		c.registry.OnDisconnect(c.id)
		c.out.Close()
		c.conn.Close()
	}()

	if c.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(c.cfg.MaxMessageSize))
	}
	pingInterval := time.Duration(c.cfg.PingInterval) * time.Second
	pongWait := time.Duration(c.cfg.PongTimeout) * time.Second
	deadline := func() time.Time {
		if pingInterval+pongWait <= 0 {
			return time.Time{}
		}
		return time.Now().Add(pingInterval + pongWait)
	}

	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(deadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(deadline())
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			} else {
				c.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if browser doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(deadline())
		c.handleMessage(message)
	}
}

// writePump is the only writer on the connection.
func (c *WSClient) writePump() {
	pingInterval := time.Duration(c.cfg.PingInterval) * time.Second
	var tick <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.conn.Close()

	writeWait := time.Duration(c.cfg.PongTimeout) * time.Second
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}

	for {
		select {
		case message, ok := <-c.out.C():
			if !ok {
				// Session closed
				//nolint:errcheck // Best-effort close message
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-tick:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", result.New(result.CodeBadRequest, "invalid JSON message"))
		return
	}

	switch msg.Type {
	case realtime.TypeSubscribe:
		c.handleTopics(msg, c.registry.Subscribe, "subscribed")
	case realtime.TypeUnsubscribe:
		c.handleTopics(msg, c.registry.Unsubscribe, "unsubscribed")
	case realtime.TypePing:
		c.sendFrame(msg.ID, realtime.TypePong, nil)
	default:
		c.sendError(msg.ID, result.New(result.CodeBadRequest, "unknown message type: "+msg.Type))
	}
}

// handleTopics applies op to every topic in a subscribe or unsubscribe frame
// and replies with the topics that were applied.
func (c *WSClient) handleTopics(msg inboundMessage, op func(sessionID, topic string) error, key string) {
	var p realtime.TopicsPayload
	if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &p) != nil {
		c.sendError(msg.ID, result.New(result.CodeBadRequest, "invalid "+msg.Type+" payload"))
		return
	}

	applied := make([]string, 0, len(p.Topics))
	var errs []error
	for _, topic := range p.Topics {
		topic = strings.TrimSpace(topic)
		if err := op(c.id, topic); err != nil {
			errs = append(errs, err)
			continue
		}
		applied = append(applied, topic)
	}
	if len(errs) > 0 && len(applied) == 0 {
		c.sendError(msg.ID, errors.Join(errs...))
		return
	}

	c.logger.Debug("websocket "+msg.Type, "topics", applied)
	c.sendFrame(msg.ID, realtime.TypeResponse, map[string][]string{key: applied})
}

// sendFrame encodes and enqueues a reply. A closed or full outbox drops it.
func (c *WSClient) sendFrame(id, msgType string, payload any) {
	data, err := json.Marshal(realtime.Message{
		Type:      msgType,
		ID:        id,
		Timestamp: realtime.Timestamp(time.Now()),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.Send(data) //nolint:errcheck // Reply is best effort
}

// sendError sends an error frame carrying the failure code.
func (c *WSClient) sendError(id string, err error) {
	c.sendFrame(id, realtime.TypeError, realtime.ErrorPayload{
		Code:    string(result.CodeOf(err)),
		Message: result.MessageOf(err),
	})
}
