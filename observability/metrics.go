package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type apiMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics

	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics
)

// API returns the lazily-initialised registry recording HTTP API activity.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mvault",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mvault",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "mvault",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mvault",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by the per-caller rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
			apiRegistry.throttles,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *apiMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle counts a rejected request. Reasons should be stable strings
// such as "rate_limit".
func (m *apiMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// VaultMetrics tracks vault operations and request lifecycles.
type VaultMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	requests   *prometheus.CounterVec
	pending    *prometheus.GaugeVec
	flows      *prometheus.CounterVec
	fees       *prometheus.CounterVec
	paused     *prometheus.GaugeVec
}

// Vault exposes the metrics registry for vault engines.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mvault",
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Count of vault operations segmented by vault, operation and outcome.",
			}, []string{"vault", "operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "mvault",
				Subsystem: "vault",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for vault operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"vault", "operation"}),
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mvault",
				Subsystem: "vault",
				Name:      "requests_total",
				Help:      "Request lifecycle transitions segmented by vault and stage.",
			}, []string{"vault", "stage"}),
			pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "mvault",
				Subsystem: "vault",
				Name:      "pending_requests",
				Help:      "Requests created but neither fulfilled nor cancelled.",
			}, []string{"vault"}),
			flows: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mvault",
				Subsystem: "vault",
				Name:      "flow_amount_total",
				Help:      "Base-18 amounts accepted by vaults, segmented by vault and direction.",
			}, []string{"vault", "direction"}),
			fees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mvault",
				Subsystem: "vault",
				Name:      "fees_total",
				Help:      "Fees retained by vaults in base-18 units.",
			}, []string{"vault"}),
			paused: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "mvault",
				Subsystem: "vault",
				Name:      "paused",
				Help:      "Whether the vault is paused (1) or live (0).",
			}, []string{"vault"}),
		}
		prometheus.MustRegister(
			vaultRegistry.operations,
			vaultRegistry.latency,
			vaultRegistry.requests,
			vaultRegistry.pending,
			vaultRegistry.flows,
			vaultRegistry.fees,
			vaultRegistry.paused,
		)
	})
	return vaultRegistry
}

// Observe records the execution of one vault operation.
func (m *VaultMetrics) Observe(vault, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	vault = labelOrUnknown(vault)
	operation = labelOrUnknown(operation)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(vault, operation, outcome).Inc()
	m.latency.WithLabelValues(vault, operation).Observe(duration.Seconds())
}

// RecordRequest counts a lifecycle stage ("created", "fulfilled",
// "cancelled") and keeps the pending gauge in step.
func (m *VaultMetrics) RecordRequest(vault, stage string) {
	if m == nil {
		return
	}
	vault = labelOrUnknown(vault)
	m.requests.WithLabelValues(vault, stage).Inc()
	switch stage {
	case "created":
		m.pending.WithLabelValues(vault).Inc()
	case "fulfilled", "cancelled":
		m.pending.WithLabelValues(vault).Dec()
	}
}

// RecordFlow adds a base-18 amount moving in direction ("in" or "out").
func (m *VaultMetrics) RecordFlow(vault, direction string, amount *big.Int) {
	if m == nil {
		return
	}
	m.flows.WithLabelValues(labelOrUnknown(vault), direction).Add(base18ToFloat(amount))
}

// RecordFee adds a retained base-18 fee.
func (m *VaultMetrics) RecordFee(vault string, fee *big.Int) {
	if m == nil {
		return
	}
	m.fees.WithLabelValues(labelOrUnknown(vault)).Add(base18ToFloat(fee))
}

// SetPaused mirrors the pause flag of a vault.
func (m *VaultMetrics) SetPaused(vault string, paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.paused.WithLabelValues(labelOrUnknown(vault)).Set(1)
		return
	}
	m.paused.WithLabelValues(labelOrUnknown(vault)).Set(0)
}

func labelOrUnknown(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

// base18ToFloat renders a base-18 amount as whole units. Counters cannot take
// negative values so negative amounts collapse to zero.
func base18ToFloat(value *big.Int) float64 {
	if value == nil || value.Sign() <= 0 {
		return 0
	}
	scaled := new(big.Float).Quo(new(big.Float).SetInt(value), big.NewFloat(1e18))
	floatVal, _ := scaled.Float64()
	if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
		return 0
	}
	return floatVal
}
