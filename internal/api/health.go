package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// healthCheckTimeout bounds each backing-service probe.
const healthCheckTimeout = 2 * time.Second

// HealthStatus is the body of GET /api/v1/health.
type HealthStatus struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Timestamp  string            `json:"timestamp"`
	Sessions   int               `json:"sessions"`
	Topics     int               `json:"topics"`
	Components map[string]string `json:"components,omitempty"`
}

// handleHealth reports liveness plus the state of every configured backing
// service. Any failing component turns the status to "degraded" and the
// response code to 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "ok",
		Version:   s.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Sessions:  s.realtime.SessionCount(),
		Topics:    s.realtime.TopicCount(),
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > 0 {
		status.Components = make(map[string]string, len(names))
	}
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			status.Components[name] = "unhealthy"
			status.Status = "degraded"
			s.logger.Warn("health check failed", "component", name, "error", err)
			continue
		}
		status.Components[name] = "ok"
	}

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeOK(w, code, status)
}
