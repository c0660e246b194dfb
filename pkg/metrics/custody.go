package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the custody collectors.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeReplay   = "replay"
)

// LedgerMetrics records ledger operation outcomes and wallet lock waits.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	lockWait   *prometheus.HistogramVec
}

// NewLedgerMetrics registers ledger collectors on reg. A nil registerer yields no-op metrics.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_ledger_operations_total",
		Help: "Ledger operations by kind and outcome.",
	}, []string{"operation", "outcome"})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "custody_ledger_lock_wait_seconds",
		Help:    "Time spent waiting for the in-process wallet lock.",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"operation"})
	reg.MustRegister(operations, lockWait)
	return &LedgerMetrics{operations: operations, lockWait: lockWait}
}

// Observe counts one operation outcome.
func (m *LedgerMetrics) Observe(operation, outcome string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// ObserveLockWait records how long an operation waited for its wallet lock.
func (m *LedgerMetrics) ObserveLockWait(operation string, wait time.Duration) {
	if m == nil || m.lockWait == nil {
		return
	}
	m.lockWait.WithLabelValues(normalizeLabel(operation)).Observe(wait.Seconds())
}

// IngestMetrics counts webhook ingestion results per provider.
type IngestMetrics struct {
	results *prometheus.CounterVec
}

func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	if reg == nil {
		return &IngestMetrics{}
	}
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_webhook_results_total",
		Help: "Inbound webhook results by provider.",
	}, []string{"provider", "result", "accepted"})
	reg.MustRegister(results)
	return &IngestMetrics{results: results}
}

func (m *IngestMetrics) Observe(provider, result string, accepted bool) {
	if m == nil || m.results == nil {
		return
	}
	acc := "false"
	if accepted {
		acc = "true"
	}
	m.results.WithLabelValues(normalizeLabel(provider), normalizeLabel(result), acc).Inc()
}

// PolicyMetrics counts abuse policy decisions.
type PolicyMetrics struct {
	decisions *prometheus.CounterVec
}

func NewPolicyMetrics(reg prometheus.Registerer) *PolicyMetrics {
	if reg == nil {
		return &PolicyMetrics{}
	}
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_policy_decisions_total",
		Help: "Abuse policy decisions returned by Evaluate.",
	}, []string{"decision"})
	reg.MustRegister(decisions)
	return &PolicyMetrics{decisions: decisions}
}

func (m *PolicyMetrics) Observe(decision string) {
	if m == nil || m.decisions == nil {
		return
	}
	m.decisions.WithLabelValues(normalizeLabel(decision)).Inc()
}

// HTTPMetrics records API request counts and latency by route pattern.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		return &HTTPMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_http_requests_total",
		Help: "HTTP requests by method, route pattern and status.",
	}, []string{"method", "route", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "custody_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
	reg.MustRegister(requests, duration)
	return &HTTPMetrics{requests: requests, duration: duration}
}

// Observe records one completed request. Route should be the matched pattern,
// never the raw path, to keep label cardinality bounded.
func (m *HTTPMetrics) Observe(method, route string, status int, elapsed time.Duration) {
	if m == nil || m.requests == nil {
		return
	}
	route = normalizeLabel(route)
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
