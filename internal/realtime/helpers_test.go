package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/auth"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// fakeSession records frames on a buffered outbox.
type fakeSession struct {
	id     string
	userID string
	out    *Outbox

	mu     sync.Mutex
	closes int
}

func newFakeSession(id, userID string, buffer int) *fakeSession {
	return &fakeSession{id: id, userID: userID, out: NewOutbox(buffer)}
}

func (s *fakeSession) ID() string              { return s.id }
func (s *fakeSession) UserID() string          { return s.userID }
func (s *fakeSession) Send(frame []byte) error { return s.out.Enqueue(frame) }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.out.Close()
	return nil
}

// next waits for the next frame and decodes it.
func (s *fakeSession) next(t *testing.T) Message {
	t.Helper()
	select {
	case frame, ok := <-s.out.C():
		if !ok {
			t.Fatalf("session %s closed while waiting for a frame", s.id)
		}
		var msg Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			t.Fatalf("decoding frame: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for frame on %s", s.id)
		return Message{}
	}
}

// expectNone asserts that no frame is queued.
func (s *fakeSession) expectNone(t *testing.T) {
	t.Helper()
	select {
	case frame := <-s.out.C():
		t.Fatalf("session %s got unexpected frame %s", s.id, frame)
	case <-time.After(20 * time.Millisecond):
	}
}

// fakeVerifier accepts tokens of the form "ok:<userID>".
type fakeVerifier struct{}

func (fakeVerifier) VerifyAccess(_ context.Context, token string) (auth.Payload, error) {
	switch {
	case token == "expired":
		return auth.Payload{}, auth.ErrTokenExpired
	case token == "revoked":
		return auth.Payload{}, auth.ErrTokenRevoked
	case len(token) > 3 && token[:3] == "ok:":
		return auth.Payload{UserID: token[3:]}, nil
	default:
		return auth.Payload{}, auth.ErrTokenInvalid
	}
}

// fakeLister serves fixed topics per user.
type fakeLister struct {
	topics map[string][]string
	err    error
}

func (l fakeLister) ListTopicsByUser(_ context.Context, userID string) ([]string, error) {
	return l.topics[userID], l.err
}

// connect accepts a fake session for userID through r.
func connect(t *testing.T, r *Registry, userID string) *fakeSession {
	t.Helper()
	var fs *fakeSession
	_, err := r.Accept(context.Background(), "ok:"+userID, func(id string, p auth.Payload) (Session, error) {
		fs = newFakeSession(id, p.UserID, 16)
		return fs, nil
	})
	if err != nil {
		t.Fatalf("Accept(%s) error = %v", userID, err)
	}
	return fs
}

func mustCode(t *testing.T, err error, want result.Code) {
	t.Helper()
	if got := result.CodeOf(err); err == nil || got != want {
		t.Errorf("error = %v (code %q), want code %q", err, got, want)
	}
}
