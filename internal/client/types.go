package client

import (
	"errors"
	"time"
)

// State is the connection state of a Manager.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Default values applied to zero Config fields.
const (
	DefaultMaxReconnectAttempts = 5
	DefaultInitialDelay         = time.Second
	DefaultMaxDelay             = 5 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultRefreshMargin        = 30 * time.Second
	DefaultUpdateBuffer         = 64
	DefaultRequestTimeout       = 10 * time.Second
)

var (
	// ErrNotAuthenticated is returned by operations that need a logged-in session.
	ErrNotAuthenticated = errors.New("client: not authenticated")

	// ErrSessionExpired is returned when a token refresh fails. The manager
	// is logged out when this is returned.
	ErrSessionExpired = errors.New("client: session expired")

	// ErrNotConnected is returned when a frame cannot be sent because no
	// websocket is open.
	ErrNotConnected = errors.New("client: not connected")
)

// Update is the payload of a parking_space.updated event.
type Update struct {
	ID           string    `json:"id"`
	SensorID     string    `json:"sensorId"`
	Address      string    `json:"address"`
	Latitude     *float64  `json:"latitude"`
	Longitude    *float64  `json:"longitude"`
	IsOccupied   bool      `json:"isOccupied"`
	CurrentPrice float64   `json:"currentPrice"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// User is the account returned by login.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Subscription is a durable subscription as listed by the server.
type Subscription struct {
	ID             string `json:"id"`
	ParkingSpaceID string `json:"parkingSpaceId"`
}

// Logger defines the logging interface for the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
