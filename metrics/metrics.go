// Package metrics exposes Prometheus instrumentation for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pump direction labels
const (
	DirClientToUpstream = "client_to_upstream"
	DirUpstreamToClient = "upstream_to_client"
)

// Metrics contains all Prometheus metrics for the relay service
type Metrics struct {
	ActiveSessions prometheus.Gauge
	SessionsTotal  prometheus.Counter

	HandshakeOutcomes *prometheus.CounterVec // label: outcome

	EventsRelayed   *prometheus.CounterVec // label: direction
	EventsDropped   *prometheus.CounterVec // label: direction
	AudioBytes      *prometheus.CounterVec // label: direction
	PumpFatalErrors *prometheus.CounterVec // label: direction
}

// New creates and registers all relay metrics on the default registry.
// Call once per process.
func New() *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Current number of live relay sessions",
		}),
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_total",
			Help: "Total number of accepted client sessions",
		}),
		HandshakeOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_handshake_outcomes_total",
			Help: "Session negotiation outcomes (created, error, timeout, unexpected)",
		}, []string{"outcome"}),
		EventsRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_relayed_total",
			Help: "Events forwarded per pump direction",
		}, []string{"direction"}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_dropped_total",
			Help: "Malformed or unprocessable events skipped per pump direction",
		}, []string{"direction"}),
		AudioBytes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_audio_bytes_total",
			Help: "Decoded audio bytes relayed per pump direction",
		}, []string{"direction"}),
		PumpFatalErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_pump_fatal_errors_total",
			Help: "Pump terminations due to unrecoverable errors",
		}, []string{"direction"}),
	}
}

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
