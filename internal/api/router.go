package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeFailure(w, result.CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeFailure(w, result.CodeBadRequest, "method not allowed")
	})

	// Prometheus scrape endpoint (no auth required)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Account endpoints share the per-IP auth bucket
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit(s.authLimiters, limiterAuth))

			r.Post("/auth/register", s.handleRegister)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)
		})

		// Sensor reports have their own bucket
		r.With(s.rateLimit(s.webhookLimiters, limiterWebhook)).
			Post("/webhook/sensor", s.handleSensorWebhook)

		// WebSocket authenticates its own handshake so failures carry the token code
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)

			r.Route("/parking-spaces", func(r chi.Router) {
				r.Get("/", s.handleListSpaces)
				r.Post("/", s.handleCreateSpace)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetSpace)
					r.Patch("/", s.handleUpdateSpace)
					r.Delete("/", s.handleDeleteSpace)
				})
			})

			r.Route("/users", func(r chi.Router) {
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
				r.Get("/me", s.handleMe)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetUser)
					r.Put("/", s.handleUpdateUser)
					r.Delete("/", s.handleDeleteUser)
				})
			})

			r.Route("/subscriptions", func(r chi.Router) {
				r.Get("/", s.handleListSubscriptions)
				r.Post("/", s.handleCreateSubscription)

				r.Route("/{parkingSpaceId}", func(r chi.Router) {
					r.Delete("/", s.handleDeleteSubscription)
					r.Get("/status", s.handleSubscriptionStatus)
				})
			})
		})
	})

	return r
}
