package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

// Token kinds.
const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Claims is the JWT body. Subject carries the user ID and ID a unique jti,
// so two tokens minted for the same user in the same second still differ.
type Claims struct {
	jwt.RegisteredClaims
	Email    string    `json:"email"`
	Username string    `json:"username"`
	Kind     TokenKind `json:"kind"`
}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string // defaults to AccessSecret
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// TokenService issues, verifies, rotates and revokes tokens.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	blacklist     Blacklist
	now           func() time.Time
}

// NewTokenService creates a token service backed by the given blacklist.
func NewTokenService(cfg TokenConfig, blacklist Blacklist) *TokenService {
	refreshSecret := cfg.RefreshSecret
	if refreshSecret == "" {
		refreshSecret = cfg.AccessSecret
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        cfg.Issuer,
		blacklist:     blacklist,
		now:           now,
	}
}

// IssueAccessToken signs a short-lived access token for p.
func (s *TokenService) IssueAccessToken(p Payload) (string, error) {
	return s.issue(p, KindAccess)
}

// IssueRefreshToken signs a long-lived refresh token for p.
func (s *TokenService) IssueRefreshToken(p Payload) (string, error) {
	return s.issue(p, KindRefresh)
}

// IssuePair signs a fresh access/refresh pair.
func (s *TokenService) IssuePair(p Payload) (TokenPair, error) {
	access, err := s.IssueAccessToken(p)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.IssueRefreshToken(p)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *TokenService) issue(p Payload, kind TokenKind) (string, error) {
	if p.UserID == "" {
		return "", result.New(result.CodeValidation, "token payload requires a user id")
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl(kind))),
			ID:        uuid.NewString(),
		},
		Email:    p.Email,
		Username: p.Username,
		Kind:     kind,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret(kind))
	if err != nil {
		return "", result.Wrap(result.CodeInternal, err, "signing token")
	}
	return signed, nil
}

// VerifyAccess validates an access token and returns its payload.
//
// Returns:
//   - ErrTokenExpired, ErrTokenInvalid or ErrTokenRevoked (wrapped) on failure
func (s *TokenService) VerifyAccess(ctx context.Context, raw string) (Payload, error) {
	claims, err := s.verify(ctx, raw, KindAccess)
	if err != nil {
		return Payload{}, err
	}
	return claims.payload(), nil
}

// VerifyRefresh validates a refresh token and returns its payload.
func (s *TokenService) VerifyRefresh(ctx context.Context, raw string) (Payload, error) {
	claims, err := s.verify(ctx, raw, KindRefresh)
	if err != nil {
		return Payload{}, err
	}
	return claims.payload(), nil
}

// verify checks signature, expiry and kind, and only then the blacklist.
func (s *TokenService) verify(ctx context.Context, raw string, kind TokenKind) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(_ *jwt.Token) (any, error) { return s.secret(kind), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, result.Wrap(result.CodeTokenExpired, err, ErrTokenExpired.Message)
		}
		return nil, result.Wrap(result.CodeTokenInvalid, err, ErrTokenInvalid.Message)
	}
	if claims.Kind != kind || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}

	revoked, err := s.blacklist.Has(ctx, HashToken(raw))
	if err != nil {
		return nil, result.Wrap(result.CodeInternal, err, "checking token blacklist")
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Rotate exchanges a refresh token for a new pair. The old token is claimed
// in the blacklist atomically, so of two concurrent rotations with the same
// token exactly one succeeds.
//
// Returns:
//   - TokenPair: New access and refresh tokens
//   - error: ErrInvalidRefreshToken for any verification or claim failure
func (s *TokenService) Rotate(ctx context.Context, oldRefresh string) (TokenPair, error) {
	claims, err := s.verify(ctx, oldRefresh, KindRefresh)
	if err != nil {
		if result.CodeOf(err) == result.CodeInternal {
			return TokenPair{}, err
		}
		return TokenPair{}, fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err)
	}

	claimed, err := s.blacklist.Claim(ctx, HashToken(strings.TrimSpace(oldRefresh)), claims.ExpiresAt.Time)
	if err != nil {
		return TokenPair{}, result.Wrap(result.CodeInternal, err, "claiming refresh token")
	}
	if !claimed {
		return TokenPair{}, ErrInvalidRefreshToken
	}

	return s.IssuePair(claims.payload())
}

// Revoke blacklists a token until its own expiry. The token is decoded
// without verification; undecodable tokens, tokens without exp and already
// expired tokens are ignored.
func (s *TokenService) Revoke(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil //nolint:nilerr // Undecodable tokens cannot be presented successfully anyway
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(s.now()) {
		return nil
	}

	if err := s.blacklist.Add(ctx, HashToken(raw), claims.ExpiresAt.Time); err != nil {
		return result.Wrap(result.CodeInternal, err, "revoking token")
	}
	return nil
}

// ExpiresAt decodes a token without verification and returns its expiry.
func ExpiresAt(raw string) (time.Time, bool) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func (s *TokenService) secret(kind TokenKind) []byte {
	if kind == KindRefresh {
		return s.refreshSecret
	}
	return s.accessSecret
}

func (s *TokenService) ttl(kind TokenKind) time.Duration {
	if kind == KindRefresh {
		return s.refreshTTL
	}
	return s.accessTTL
}

func (c *Claims) payload() Payload {
	return Payload{UserID: c.Subject, Email: c.Email, Username: c.Username}
}
