package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec
	solanaRPCRetries      *prometheus.CounterVec

	// Settlement metrics
	settlementsTotal   *prometheus.CounterVec
	settlementDuration *prometheus.HistogramVec

	// Distribution metrics
	distributionRunsTotal     *prometheus.CounterVec
	distributionTransfers     *prometheus.CounterVec
	distributionRunDuration   *prometheus.HistogramVec
	distributionTokensPaid    *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retries by method and reason",
			},
			[]string{"method", "reason"},
		),
		settlementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "purchase_settlements_total",
				Help: "Total number of purchase settlement calls by phase and outcome",
			},
			[]string{"phase", "outcome"},
		),
		settlementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "purchase_settlement_duration_seconds",
				Help:    "Duration of purchase settlement calls in seconds",
				Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"phase"},
		),
		distributionRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_distribution_runs_total",
				Help: "Total number of distribution runs by outcome (success, partial, failure)",
			},
			[]string{"outcome"},
		),
		distributionTransfers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_distribution_transfers_total",
				Help: "Total number of per-wallet treasury transfers by status",
			},
			[]string{"status"},
		),
		distributionRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "treasury_distribution_run_duration_seconds",
				Help:    "Duration of full distribution runs in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
			[]string{},
		),
		distributionTokensPaid: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_distribution_tokens_paid_total",
				Help: "Total UI-denominated tokens paid out by the treasury",
			},
			[]string{},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0, 60.0},
			},
			[]string{"handler", "method"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by handler, method, and status code",
			},
			[]string{"handler", "method", "status"},
		),
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published by subject and status",
			},
			[]string{"subject", "status"},
		),
	}
}

// RecordRPCCall records a Solana RPC call with its duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRPCRetry records a retry of a Solana RPC call.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// RecordSettlement records a purchase settlement call outcome.
// Phase is "create" or "finalize"; outcome is "success" or an error class.
func (m *Metrics) RecordSettlement(phase, outcome string, duration float64) {
	m.settlementsTotal.WithLabelValues(phase, outcome).Inc()
	m.settlementDuration.WithLabelValues(phase).Observe(duration)
}

// RecordDistributionRun records the outcome of a full distribution run.
func (m *Metrics) RecordDistributionRun(outcome string, duration float64) {
	m.distributionRunsTotal.WithLabelValues(outcome).Inc()
	m.distributionRunDuration.WithLabelValues().Observe(duration)
}

// RecordDistributionTransfer records one per-wallet transfer attempt.
func (m *Metrics) RecordDistributionTransfer(status string, tokens float64) {
	m.distributionTransfers.WithLabelValues(status).Inc()
	if status == "success" {
		m.distributionTokensPaid.WithLabelValues().Add(tokens)
	}
}

// RecordHTTPRequest records an HTTP request with duration and status code.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := strconv.Itoa(statusCode)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
	m.httpRequestDuration.WithLabelValues(handler, method).Observe(duration)
}

// RecordNATSPublish records a NATS message publication.
func (m *Metrics) RecordNATSPublish(subject, status string) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
}
