// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voicebridge_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voicebridge_sessions_active",
		Help: "Number of relayed voice sessions currently open",
	}, []string{"variant"})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_sessions_total",
		Help: "Voice sessions by variant and setup outcome",
	}, []string{"variant", "outcome"})

	SessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voicebridge_session_duration_seconds",
		Help:    "Lifetime of relayed voice sessions",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"variant"})

	MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_messages_relayed_total",
		Help: "Messages forwarded between legs",
	}, []string{"direction"})

	MessagesSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_messages_suppressed_total",
		Help: "Messages withheld from default forwarding",
	}, []string{"direction"})

	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_tool_calls_total",
		Help: "Intercepted tool calls by outcome",
	}, []string{"tool", "status"})

	ToolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voicebridge_tool_call_duration_seconds",
		Help:    "Capability execution time for intercepted tool calls",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"tool"})

	SignedURLRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_signed_url_requests_total",
		Help: "Signed URL acquisitions by status",
	}, []string{"status"})

	NLQRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_nlq_requests_total",
		Help: "Natural language query executions by status",
	}, []string{"status"})

	HookFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_hook_failures_total",
		Help: "Hook handlers that returned an error or panicked",
	}, []string{"event", "handler"})

	NLQAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicebridge_nlq_attempts",
		Help:    "Attempts needed per natural language query",
		Buckets: []float64{1, 2, 3, 4, 5, 10},
	})
)
