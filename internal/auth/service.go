package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// Service implements registration, login, refresh and logout.
type Service struct {
	users  UserRepository
	tokens *TokenService
	logger *slog.Logger

	// onFailure is told the code of every rejected credential or token.
	onFailure func(code result.Code)
}

// NewService creates an auth service.
func NewService(users UserRepository, tokens *TokenService, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, tokens: tokens, logger: logger}
}

// Tokens returns the underlying token service.
func (s *Service) Tokens() *TokenService {
	return s.tokens
}

// SetFailureHook registers a callback for rejected logins and tokens.
func (s *Service) SetFailureHook(fn func(code result.Code)) {
	s.onFailure = fn
}

// RegisterInput is the body of a sign-up request.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a new account.
//
// Returns:
//   - *User: The created user
//   - error: Validation for bad input, ErrEmailExists (conflict) for a taken email
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	username := strings.TrimSpace(in.Username)
	if !IsValidUsername(username) {
		return nil, result.New(result.CodeValidation, "username must be 1-64 characters: letters, digits, dot, dash, underscore")
	}
	email, ok := NormaliseEmail(in.Email)
	if !ok {
		return nil, result.New(result.CodeValidation, "a valid email is required")
	}
	if len(in.Password) < minPasswordLength {
		return nil, result.Newf(result.CodeValidation, "password must be at least %d characters", minPasswordLength)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, result.Wrap(result.CodeInternal, err, "hashing password")
	}

	user := &User{Username: username, Email: email, PasswordHash: hash}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailExists) {
			return nil, err
		}
		return nil, result.Wrap(result.CodeInternal, err, "creating user")
	}

	s.logger.Info("user registered", "user_id", user.ID)
	return user, nil
}

// Login verifies credentials and issues a token pair.
// Unknown emails and wrong passwords both return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email, _ = NormaliseEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, s.fail(result.New(result.CodeValidation, "email and password are required"))
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, result.Wrap(result.CodeInternal, err, "loading user")
		}
		VerifyPassword(password, dummyHash()) //nolint:errcheck // timing equalisation only
		return LoginResult{}, s.fail(ErrInvalidCredentials)
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return LoginResult{}, result.Wrap(result.CodeInternal, err, "verifying password")
	}
	if !ok {
		return LoginResult{}, s.fail(ErrInvalidCredentials)
	}

	pair, err := s.tokens.IssuePair(PayloadFor(user))
	if err != nil {
		return LoginResult{}, err
	}

	s.logger.Info("user logged in", "user_id", user.ID)
	return LoginResult{User: user, AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, nil
}

// Refresh rotates a refresh token into a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	pair, err := s.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, s.fail(err)
	}
	return pair, nil
}

// Logout revokes the access token and, when given, the refresh token.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if err := s.tokens.Revoke(ctx, accessToken); err != nil {
		return fmt.Errorf("revoking access token: %w", err)
	}
	if refreshToken != "" {
		if err := s.tokens.Revoke(ctx, refreshToken); err != nil {
			return fmt.Errorf("revoking refresh token: %w", err)
		}
	}
	return nil
}

// Me returns the user the access token belongs to.
func (s *Service) Me(ctx context.Context, userID string) (*User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, result.Wrap(result.CodeInternal, err, "loading user")
	}
	return user, err
}

func (s *Service) fail(err error) error {
	if code := result.CodeOf(err); s.onFailure != nil && code != result.CodeInternal {
		s.onFailure(code)
	}
	return err
}
