package auth

import (
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// minPasswordLength is the shortest accepted password.
const minPasswordLength = 8

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// NormaliseEmail lowercases and trims an email address. It returns false if
// the result is not a bare address.
func NormaliseEmail(email string) (string, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", false
	}
	return email, true
}

// User represents an account that can log in and subscribe to parking spaces.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Payload is the identity carried inside every token.
type Payload struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// PayloadFor returns the token payload for a user.
func PayloadFor(u *User) Payload {
	return Payload{UserID: u.ID, Email: u.Email, Username: u.Username}
}

// TokenPair is the result of a login or a refresh rotation.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// LoginResult is returned by Service.Login.
type LoginResult struct {
	User         *User  `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials  = result.New(result.CodeUnauthorized, "invalid credentials")
	ErrTokenExpired        = result.New(result.CodeTokenExpired, "token has expired")
	ErrTokenInvalid        = result.New(result.CodeTokenInvalid, "invalid token")
	ErrTokenRevoked        = result.New(result.CodeTokenRevoked, "token has been revoked")
	ErrInvalidRefreshToken = result.New(result.CodeTokenInvalid, "invalid or expired refresh token")
	ErrUserNotFound        = result.New(result.CodeNotFound, "user not found")
	ErrEmailExists         = result.New(result.CodeConflict, "email already registered")
)
