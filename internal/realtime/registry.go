package realtime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/auth"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/logging"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/metrics"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// Verifier checks the bearer token presented on handshake.
type Verifier interface {
	VerifyAccess(ctx context.Context, token string) (auth.Payload, error)
}

// SubscriptionLister returns the topics a user is durably subscribed to.
type SubscriptionLister interface {
	ListTopicsByUser(ctx context.Context, userID string) ([]string, error)
}

// OpenFunc performs the transport upgrade once the token has been accepted.
// It returns nil Session only with a non-nil error.
type OpenFunc func(sessionID string, identity auth.Payload) (Session, error)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Verifier Verifier

	// Lister and AutoSubscribe together replay durable subscriptions into
	// each new session.
	Lister        SubscriptionLister
	AutoSubscribe bool

	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

type member struct {
	session Session
	topics  map[string]struct{}
}

// Registry tracks sessions and their topic memberships.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Session methods are never
//     called while the registry lock is held.
type Registry struct {
	cfg    RegistryConfig
	logger *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*member
	topics   map[string]map[string]Session
	byUser   map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*member),
		topics:   make(map[string]map[string]Session),
		byUser:   make(map[string]map[string]struct{}),
	}
}

// Accept authenticates a handshake and registers the resulting session.
//
// The token is verified before open is called. On failure the returned
// error carries the token_* or unauthorised code and no session exists.
// With AutoSubscribe the session joins every durable topic of its user;
// a lister failure is logged and the session stays connected.
//
// Parameters:
//   - ctx: Request context, used for verification and the lister
//   - token: Raw bearer token
//   - open: Upgrades the transport and builds the Session
//
// Returns:
//   - Session: The registered session
//   - error: Auth failure, or whatever open returned
func (r *Registry) Accept(ctx context.Context, token string, open OpenFunc) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		r.countAuthFailure(result.CodeUnauthorized)
		return nil, result.New(result.CodeUnauthorized, "authentication token is required")
	}

	identity, err := r.cfg.Verifier.VerifyAccess(ctx, token)
	if err != nil {
		r.countAuthFailure(result.CodeOf(err))
		return nil, err
	}

	session, err := open("sess-"+uuid.NewString(), identity)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}

	r.mu.Lock()
	r.sessions[session.ID()] = &member{session: session, topics: make(map[string]struct{})}
	users := r.byUser[session.UserID()]
	if users == nil {
		users = make(map[string]struct{})
		r.byUser[session.UserID()] = users
	}
	users[session.ID()] = struct{}{}
	r.mu.Unlock()

	r.updateGauges()
	r.logger.Debug("realtime session accepted", "session_id", session.ID(), "user_id", session.UserID())

	if r.cfg.AutoSubscribe && r.cfg.Lister != nil {
		topics, err := r.cfg.Lister.ListTopicsByUser(ctx, session.UserID())
		if err != nil {
			r.logger.Warn("loading durable subscriptions failed", "user_id", session.UserID(), "error", err)
		}
		for _, topic := range topics {
			r.Subscribe(session.ID(), topic) //nolint:errcheck // session was registered above
		}
	}
	return session, nil
}

// Subscribe joins a session to a topic. Joining twice is a no-op.
func (r *Registry) Subscribe(sessionID, topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return result.New(result.CodeValidation, "topic is required")
	}

	r.mu.Lock()
	m, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return result.New(result.CodeNotFound, "session not found")
	}
	r.joinLocked(m, topic)
	r.mu.Unlock()

	r.updateGauges()
	return nil
}

// Unsubscribe removes a session from a topic. Leaving a topic the session
// never joined is a no-op.
func (r *Registry) Unsubscribe(sessionID, topic string) error {
	topic = strings.TrimSpace(topic)

	r.mu.Lock()
	m, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return result.New(result.CodeNotFound, "session not found")
	}
	r.leaveLocked(m, topic)
	r.mu.Unlock()

	r.updateGauges()
	return nil
}

// SubscribeUser joins every live session of userID to topic and returns how
// many sessions it touched.
func (r *Registry) SubscribeUser(userID, topic string) int {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return 0
	}

	r.mu.Lock()
	n := 0
	for id := range r.byUser[userID] {
		r.joinLocked(r.sessions[id], topic)
		n++
	}
	r.mu.Unlock()

	r.updateGauges()
	return n
}

// UnsubscribeUser removes every live session of userID from topic.
func (r *Registry) UnsubscribeUser(userID, topic string) int {
	r.mu.Lock()
	n := 0
	for id := range r.byUser[userID] {
		r.leaveLocked(r.sessions[id], topic)
		n++
	}
	r.mu.Unlock()

	r.updateGauges()
	return n
}

// OnDisconnect removes a session from every topic and forgets it. It is
// called for every disconnect reason and is idempotent.
func (r *Registry) OnDisconnect(sessionID string) {
	r.mu.Lock()
	m, ok := r.sessions[sessionID]
	if ok {
		r.removeLocked(m)
	}
	r.mu.Unlock()

	if ok {
		r.updateGauges()
		r.logger.Debug("realtime session closed", "session_id", sessionID, "user_id", m.session.UserID())
	}
}

// DisconnectUser closes and forgets every live session of userID and
// returns how many were closed. Used when an account is deleted.
func (r *Registry) DisconnectUser(userID string) int {
	r.mu.Lock()
	closing := make([]Session, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		m := r.sessions[id]
		closing = append(closing, m.session)
		r.removeLocked(m)
	}
	r.mu.Unlock()

	for _, s := range closing {
		s.Close() //nolint:errcheck // Session is being discarded
	}
	if len(closing) > 0 {
		r.updateGauges()
	}
	return len(closing)
}

// CloseAll closes and forgets every session. Used on server shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	closing := make([]Session, 0, len(r.sessions))
	for _, m := range r.sessions {
		closing = append(closing, m.session)
		r.removeLocked(m)
	}
	r.mu.Unlock()

	for _, s := range closing {
		s.Close() //nolint:errcheck // Shutdown path; transport errors are irrelevant
	}
	r.updateGauges()
}

// Members returns a snapshot of the sessions in topic.
func (r *Registry) Members(topic string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group := r.topics[topic]
	out := make([]Session, 0, len(group))
	for _, s := range group {
		out = append(out, s)
	}
	return out
}

// Topics returns the sorted topics a session has joined, or nil for an
// unknown session.
func (r *Registry) Topics(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(m.topics))
	for t := range m.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SessionCount returns the number of registered sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// TopicCount returns the number of topics with at least one member.
func (r *Registry) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

func (r *Registry) joinLocked(m *member, topic string) {
	if _, ok := m.topics[topic]; ok {
		return
	}
	m.topics[topic] = struct{}{}
	group := r.topics[topic]
	if group == nil {
		group = make(map[string]Session)
		r.topics[topic] = group
	}
	group[m.session.ID()] = m.session
}

func (r *Registry) leaveLocked(m *member, topic string) {
	if _, ok := m.topics[topic]; !ok {
		return
	}
	delete(m.topics, topic)
	if group := r.topics[topic]; group != nil {
		delete(group, m.session.ID())
		if len(group) == 0 {
			delete(r.topics, topic)
		}
	}
}

func (r *Registry) removeLocked(m *member) {
	for topic := range m.topics {
		r.leaveLocked(m, topic)
	}
	id, userID := m.session.ID(), m.session.UserID()
	delete(r.sessions, id)
	if users := r.byUser[userID]; users != nil {
		delete(users, id)
		if len(users) == 0 {
			delete(r.byUser, userID)
		}
	}
}

func (r *Registry) updateGauges() {
	if r.cfg.Metrics == nil {
		return
	}
	r.mu.RLock()
	sessions := len(r.sessions)
	memberships := 0
	for _, group := range r.topics {
		memberships += len(group)
	}
	r.mu.RUnlock()

	r.cfg.Metrics.Sessions.Set(float64(sessions))
	r.cfg.Metrics.TopicMemberships.Set(float64(memberships))
}

func (r *Registry) countAuthFailure(code result.Code) {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.AuthFailures.WithLabelValues(string(code)).Inc()
	}
}
