package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/auth"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/config"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/logging"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/metrics"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/ingest"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/parking"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/realtime"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by every backing service the health endpoint
// reports on (database, MQTT, InfluxDB).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Auth          *auth.Service
	Spaces        parking.Repository
	Subscriptions parking.SubscriptionRepository
	Realtime      *realtime.Registry
	Ingest        *ingest.Handler

	// Optional.
	Metrics *metrics.Metrics
	Checks  map[string]HealthChecker
	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware and the websocket
// endpoint. The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	auth     *auth.Service
	tokens   *auth.TokenService
	spaces   parking.Repository
	subs     parking.SubscriptionRepository
	realtime *realtime.Registry
	ingest   *ingest.Handler
	metrics  *metrics.Metrics
	checks   map[string]HealthChecker
	version  string

	authLimiters    *clientLimiters
	webhookLimiters *clientLimiters

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, auth service, repositories, registry, ingest handler)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	case deps.Auth == nil:
		return nil, errors.New("auth service is required")
	case deps.Spaces == nil || deps.Subscriptions == nil:
		return nil, errors.New("parking repositories are required")
	case deps.Realtime == nil:
		return nil, errors.New("realtime registry is required")
	case deps.Ingest == nil:
		return nil, errors.New("ingest handler is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		secCfg:   deps.Security,
		logger:   deps.Logger,
		auth:     deps.Auth,
		tokens:   deps.Auth.Tokens(),
		spaces:   deps.Spaces,
		subs:     deps.Subscriptions,
		realtime: deps.Realtime,
		ingest:   deps.Ingest,
		metrics:  deps.Metrics,
		checks:   deps.Checks,
		version:  deps.Version,
	}
	rl := deps.Security.RateLimit
	if rl.Enabled {
		s.authLimiters = newClientLimiters(rl.RequestsPerMinute, rl.Burst)
	}
	if rl.Webhook.Enabled {
		s.webhookLimiters = newClientLimiters(rl.Webhook.RequestsPerMinute, rl.Webhook.Burst)
	}
	return s, nil
}

// Handler returns the fully wired router. Used by Start and by tests.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// The listener is bound synchronously so a port conflict is reported here;
// serving continues in a background goroutine until Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the listener cannot be bound
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.mu.Lock()
	s.server, s.listener = srv, ln
	s.mu.Unlock()

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = srv.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// Realtime sessions are closed first (hijacked connections are not tracked
// by http.Server), then in-flight requests get up to 10 seconds.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.realtime.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}

func (s *Server) countAuthFailure(code result.Code) {
	if s.metrics != nil {
		s.metrics.AuthFailures.WithLabelValues(string(code)).Inc()
	}
}
