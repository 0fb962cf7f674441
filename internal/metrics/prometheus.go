// Package metrics exposes Prometheus instrumentation for provider checks
// and snapshot store operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/modelwatch/modelwatch/pkg/models"
)

// Metrics holds all Prometheus metrics for modelwatch
type Metrics struct {
	// Counters
	ChecksTotal        *prometheus.CounterVec
	StoreFailuresTotal *prometheus.CounterVec

	// Gauges
	ProviderUp          *prometheus.GaugeVec
	ProvidersConfigured prometheus.Gauge
	ProvidersEnabled    prometheus.Gauge

	// Histograms
	CheckLatency *prometheus.HistogramVec
	PingLatency  *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChecksTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "modelwatch_checks_total",
				Help: "Total number of provider checks performed",
			},
			[]string{"provider", "protocol", "group", "status"},
		),

		StoreFailuresTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "modelwatch_store_failures_total",
				Help: "Total number of snapshot store operation failures",
			},
			[]string{"operation"},
		),

		ProviderUp: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "modelwatch_provider_up",
				Help: "Whether a provider is operational (1), degraded (0.5) or down (0)",
			},
			[]string{"provider", "protocol", "group"},
		),

		ProvidersConfigured: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "modelwatch_providers_configured",
				Help: "Number of configured providers",
			},
		),

		ProvidersEnabled: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "modelwatch_providers_enabled",
				Help: "Number of enabled providers",
			},
		),

		CheckLatency: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "modelwatch_check_latency_seconds",
				Help:    "End-to-end latency of provider checks in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 6, 10, 15, 30, 45},
			},
			[]string{"provider", "protocol", "group"},
		),

		PingLatency: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "modelwatch_ping_latency_seconds",
				Help:    "Network round-trip latency to provider endpoints in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"provider", "group"},
		),
	}

	return m
}

// RecordCheck records the outcome of one provider check
func (m *Metrics) RecordCheck(result *models.CheckResult) {
	m.ChecksTotal.With(prometheus.Labels{
		"provider": result.ID,
		"protocol": string(result.Type),
		"group":    result.GroupName,
		"status":   string(result.Status),
	}).Inc()

	statusLabels := prometheus.Labels{
		"provider": result.ID,
		"protocol": string(result.Type),
		"group":    result.GroupName,
	}
	m.ProviderUp.With(statusLabels).Set(statusValue(result.Status))

	if result.LatencyMs != nil {
		m.CheckLatency.With(statusLabels).Observe(float64(*result.LatencyMs) / 1000)
	}

	if result.PingLatencyMs != nil {
		m.PingLatency.With(prometheus.Labels{
			"provider": result.ID,
			"group":    result.GroupName,
		}).Observe(float64(*result.PingLatencyMs) / 1000)
	}
}

// RecordStoreFailure records a failed snapshot store operation
func (m *Metrics) RecordStoreFailure(operation string) {
	m.StoreFailuresTotal.With(prometheus.Labels{"operation": operation}).Inc()
}

// UpdateProviderCounts updates the configured and enabled provider gauges
func (m *Metrics) UpdateProviderCounts(configured, enabled int) {
	m.ProvidersConfigured.Set(float64(configured))
	m.ProvidersEnabled.Set(float64(enabled))
}

func statusValue(status models.HealthStatus) float64 {
	switch status {
	case models.StatusOperational:
		return 1.0
	case models.StatusDegraded:
		return 0.5
	default:
		return 0.0
	}
}
