package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "paymebridge"

type rpcMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	auth     *prometheus.CounterVec
}

type transactionMetrics struct {
	transitions *prometheus.CounterVec
	replays     *prometheus.CounterVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	transactionMetricsOnce sync.Once
	transactionRegistry    *transactionMetrics
)

// RPCMetrics returns the lazily-initialised registry used to record merchant
// API calls.
func RPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total merchant API calls segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Merchant API error responses segmented by method and provider error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for merchant API methods.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			auth: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "auth_failures_total",
				Help:      "Webhook calls rejected for missing or wrong credentials.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.auth,
		)
	})
	return rpcRegistry
}

// Observe records one dispatched call. code is the provider error code, or 0
// on success.
func (m *rpcMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, strconv.Itoa(code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordAuthFailure counts rejected webhook credentials. Reasons should be
// stable strings such as "missing" or "mismatch".
func (m *rpcMetrics) RecordAuthFailure(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.auth.WithLabelValues(reason).Inc()
}

// TransactionMetrics returns the registry tracking lifecycle transitions.
func TransactionMetrics() *transactionMetrics {
	transactionMetricsOnce.Do(func() {
		transactionRegistry = &transactionMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transactions",
				Name:      "transitions_total",
				Help:      "Transaction state transitions segmented by source and target state.",
			}, []string{"from", "to"}),
			replays: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transactions",
				Name:      "idempotent_replays_total",
				Help:      "Repeated provider calls answered from the stored record.",
			}, []string{"method"}),
		}
		prometheus.MustRegister(transactionRegistry.transitions, transactionRegistry.replays)
	})
	return transactionRegistry
}

// RecordTransition counts a state change. from is "none" for creations.
func (m *transactionMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *transactionMetrics) RecordReplay(method string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(method).Inc()
}
