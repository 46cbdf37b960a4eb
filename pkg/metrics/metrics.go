// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ChatTurnDuration tracks end-to-end duration of a chat turn.
	ChatTurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_turn_duration_seconds",
			Help:    "Chat turn duration from request to done event",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// TokensStreamedTotal tracks tokens streamed to clients.
	TokensStreamedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_tokens_streamed_total",
			Help: "Total tokens streamed to clients",
		},
		[]string{"model"},
	)

	// SpendingTokensTotal tracks tokens recorded in the spending ledger.
	SpendingTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_spending_tokens_total",
			Help: "Total tokens recorded in the spending ledger",
		},
		[]string{"service", "model"},
	)

	// QuotaChecksTotal tracks daily token limit decisions.
	QuotaChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_quota_checks_total",
			Help: "Daily token limit check decisions",
		},
		[]string{"result"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// SessionsTotal tracks sessions created.
	SessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_sessions_total",
			Help: "Total chat sessions created",
		},
	)

	// MessagesTotal tracks messages persisted.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total messages persisted",
		},
		[]string{"role"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTurn records metrics for a completed chat turn.
func RecordTurn(model, status string, duration float64, tokensStreamed int) {
	ChatTurnDuration.WithLabelValues(model, status).Observe(duration)
	TokensStreamedTotal.WithLabelValues(model).Add(float64(tokensStreamed))
}

// RecordSpending records a spending ledger entry.
func RecordSpending(service, model string, tokens int) {
	SpendingTokensTotal.WithLabelValues(service, model).Add(float64(tokens))
}

// RecordQuotaCheck records a quota decision.
func RecordQuotaCheck(allowed bool) {
	if allowed {
		QuotaChecksTotal.WithLabelValues("allowed").Inc()
	} else {
		QuotaChecksTotal.WithLabelValues("denied").Inc()
	}
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
