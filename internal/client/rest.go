package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 1 << 20

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	User         *User  `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type subscriptionRequest struct {
	ParkingSpaceID string `json:"parkingSpaceId"`
}

// tokens is the current credential pair plus the access token's expiry.
type tokens struct {
	access    string
	refresh   string
	accessExp time.Time
}

// newTokens reads the expiry from the access token. The signature is not
// checked; the server does that on every use.
func newTokens(access, refresh string) (tokens, error) {
	if access == "" || refresh == "" {
		return tokens{}, errors.New("server returned an empty token")
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return tokens{}, fmt.Errorf("parsing access token: %w", err)
	}
	t := tokens{access: access, refresh: refresh}
	if claims.ExpiresAt != nil {
		t.accessExp = claims.ExpiresAt.Time
	}
	return t, nil
}

// call sends an authenticated request. The access token is refreshed first
// when it is close to expiry, and the request is retried once after a
// refresh if the server reports token_expired.
func (m *Manager) call(ctx context.Context, method, path string, body, out any) error {
	access, err := m.freshAccess(ctx)
	if err != nil {
		return err
	}

	err = m.send(ctx, method, path, access, body, out)
	if result.CodeOf(err) != result.CodeTokenExpired {
		return err
	}

	if err := m.refreshTokens(ctx, access); err != nil {
		return err
	}
	if access, err = m.currentAccess(); err != nil {
		return err
	}
	return m.send(ctx, method, path, access, body, out)
}

// currentAccess returns the access token, or ErrNotAuthenticated.
func (m *Manager) currentAccess() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.authenticated {
		return "", ErrNotAuthenticated
	}
	return m.tok.access, nil
}

// freshAccess returns an access token that is not within RefreshMargin of
// its expiry, rotating the pair if needed.
func (m *Manager) freshAccess(ctx context.Context) (string, error) {
	m.mu.Lock()
	if !m.authenticated {
		m.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	tok := m.tok
	m.mu.Unlock()

	if tok.accessExp.IsZero() || m.cfg.Now().Add(m.cfg.RefreshMargin).Before(tok.accessExp) {
		return tok.access, nil
	}
	if err := m.refreshTokens(ctx, tok.access); err != nil {
		return "", err
	}
	return m.currentAccess()
}

// refreshTokens rotates the token pair. stale is the access token the
// caller saw; if another goroutine already rotated past it, nothing is sent.
//
// A failed refresh logs the manager out and returns ErrSessionExpired.
func (m *Manager) refreshTokens(ctx context.Context, stale string) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.Lock()
	if !m.authenticated {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	if m.tok.access != stale {
		m.mu.Unlock()
		return nil
	}
	refresh := m.tok.refresh
	m.mu.Unlock()

	var pair tokenPair
	err := m.send(ctx, http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{RefreshToken: refresh}, &pair)
	var tok tokens
	if err == nil {
		tok, err = newTokens(pair.AccessToken, pair.RefreshToken)
	}
	if err != nil {
		m.logger.Warn("token refresh failed, logging out", "error", err)
		m.teardown()
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	m.mu.Lock()
	if m.authenticated {
		m.tok = tok
	}
	m.mu.Unlock()
	m.logger.Debug("access token refreshed", "expires_at", tok.accessExp)
	return nil
}

// send performs one request and decodes the Result envelope. A failed
// envelope is returned as a *result.Error carrying the server's code.
func (m *Manager) send(ctx context.Context, method, path, token string, body, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.RequestTimeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only body

	return decodeEnvelope(resp, out)
}

// decodeEnvelope reads a Result envelope from resp into out.
func decodeEnvelope(resp *http.Response, out any) error {
	var env result.Result[json.RawMessage]
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&env); err != nil {
		return fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}
	if err := env.Err(); err != nil {
		return err
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}
