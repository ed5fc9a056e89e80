// Package metrics exposes Prometheus counters for the signing and session
// paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SignRequests counts signing attempts by resolved method and outcome.
	SignRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signer_sign_requests_total",
		Help: "Signing requests by signing method and outcome.",
	}, []string{"method", "outcome"})

	// SessionCreations counts session-create attempts by outcome.
	SessionCreations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_creations_total",
		Help: "Session creation requests by outcome.",
	}, []string{"outcome"})

	// RecoveryCommands counts recovery overlay commands by action and outcome.
	RecoveryCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recovery_commands_total",
		Help: "Recovery overlay commands by action and outcome.",
	}, []string{"action", "outcome"})

	// AuthFailures counts auth gate rejections by reason.
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_gate_failures_total",
		Help: "Bearer token verification failures.",
	})

	// EnvelopeDecryptFailures counts non-retryable envelope decrypt failures.
	EnvelopeDecryptFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "envelope_decrypt_failures_total",
		Help: "Envelope decrypt failures by kind (context_mismatch, corrupt).",
	}, []string{"kind"})

	// CustodyRequestDuration observes custody authority call latency.
	CustodyRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "custody_request_duration_seconds",
		Help:    "Custody authority request latency by activity.",
		Buckets: prometheus.DefBuckets,
	}, []string{"activity"})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
