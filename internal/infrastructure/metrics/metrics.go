// Package metrics holds the Prometheus collectors for the smart parking server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smartparking"

// Sensor report sources and outcomes.
const (
	SourceWebhook = "webhook"
	SourceMQTT    = "mqtt"

	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"

	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

// Metrics groups every collector. Each instance owns its registry so tests
// can create one without clashing with the process-wide default.
type Metrics struct {
	Registry *prometheus.Registry

	Sessions              prometheus.Gauge
	TopicMemberships      prometheus.Gauge
	Notifications         *prometheus.CounterVec
	SensorReports         *prometheus.CounterVec
	AuthFailures          *prometheus.CounterVec
	RateLimitAllowed      *prometheus.CounterVec
	RateLimitRejected     *prometheus.CounterVec
	EventFeedPublishFails prometheus.Counter
}

// New creates and registers all collectors, plus the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ws_sessions", Help: "Authenticated realtime sessions currently connected.",
		}),
		TopicMemberships: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ws_topic_memberships", Help: "Live session-to-topic memberships across all sessions.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total", Help: "Notification frames per session send, by outcome.",
		}, []string{"outcome"}),
		SensorReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sensor_reports_total", Help: "Sensor reports by source and outcome.",
		}, []string{"source", "outcome"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "auth_failures_total", Help: "Rejected credentials and tokens by error code.",
		}, []string{"code"}),
		RateLimitAllowed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type.",
		}, []string{"limiter"}),
		RateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type.",
		}, []string{"limiter"}),
		EventFeedPublishFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "event_feed_publish_failures_total", Help: "Parking events that could not be published to the queue.",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Sessions,
		m.TopicMemberships,
		m.Notifications,
		m.SensorReports,
		m.AuthFailures,
		m.RateLimitAllowed,
		m.RateLimitRejected,
		m.EventFeedPublishFails,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
