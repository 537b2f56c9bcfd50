package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector defines the interface for collecting sync engine metrics
type MetricsCollector interface {
	RecordRequest(endpoint string, success bool, duration time.Duration)
	RecordHealth(sample Sample)
	RecordPollInterval(path string, interval time.Duration)
	RecordRecoveryEntered(coldStart bool)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordRequest(endpoint string, success bool, duration time.Duration) {}
func (n *NoOpMetricsCollector) RecordHealth(sample Sample)                                          {}
func (n *NoOpMetricsCollector) RecordPollInterval(path string, interval time.Duration)              {}
func (n *NoOpMetricsCollector) RecordRecoveryEntered(coldStart bool)                                {}

// PrometheusMetrics implements MetricsCollector using Prometheus
type PrometheusMetrics struct {
	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	successRate       prometheus.Gauge
	avgLatency        prometheus.Gauge
	consecutiveErrors prometheus.Gauge
	pollInterval      *prometheus.GaugeVec
	recoveries        *prometheus.CounterVec
}

// NewPrometheusMetrics registers the collectors on reg. Pass prometheus.NewRegistry()
// in tests to avoid clashing with the default registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "numguess",
			Subsystem: "sync",
			Name:      "requests_total",
			Help:      "Total HTTP requests issued by the sync engine",
		}, []string{"endpoint", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "numguess",
			Subsystem: "sync",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.025, 0.05, 0.1, 0.2, 0.3, 0.5, 1, 2, 5, 10, 20},
		}, []string{"endpoint"}),
		successRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "numguess",
			Subsystem: "sync",
			Name:      "success_rate",
			Help:      "Rolling request success rate",
		}),
		avgLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "numguess",
			Subsystem: "sync",
			Name:      "avg_latency_ms",
			Help:      "Exponentially weighted request latency in milliseconds",
		}),
		consecutiveErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "numguess",
			Subsystem: "sync",
			Name:      "consecutive_errors",
			Help:      "Failed requests since the last success",
		}),
		pollInterval: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "numguess",
			Subsystem: "sync",
			Name:      "poll_interval_seconds",
			Help:      "Current polling interval per path",
		}, []string{"path"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "numguess",
			Subsystem: "sync",
			Name:      "recoveries_total",
			Help:      "Times the engine entered recovery mode",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.requests,
		m.requestDuration,
		m.successRate,
		m.avgLatency,
		m.consecutiveErrors,
		m.pollInterval,
		m.recoveries,
	)
	return m
}

func (m *PrometheusMetrics) RecordRequest(endpoint string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.requests.WithLabelValues(endpoint, status).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordHealth(sample Sample) {
	m.successRate.Set(sample.SuccessRate)
	m.avgLatency.Set(sample.AvgLatencyMs)
	m.consecutiveErrors.Set(float64(sample.ConsecutiveErrors))
}

func (m *PrometheusMetrics) RecordPollInterval(path string, interval time.Duration) {
	m.pollInterval.WithLabelValues(path).Set(interval.Seconds())
}

func (m *PrometheusMetrics) RecordRecoveryEntered(coldStart bool) {
	reason := "failures"
	if coldStart {
		reason = "cold_start"
	}
	m.recoveries.WithLabelValues(reason).Inc()
}
