package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Bounded operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	TimeoutsTotal     *prometheus.CounterVec
	RetriesTotal      *prometheus.CounterVec

	// Circuit breaker metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	BreakerRejections  *prometheus.CounterVec

	// Supervised service metrics
	ServiceState        *prometheus.GaugeVec
	ServiceRestarts     *prometheus.CounterVec
	ServiceHealthChecks *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "devharness",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "operations_total",
				Help:      "Total number of bounded operations",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "operation_duration_seconds",
				Help:      "Bounded operation duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"operation", "status"},
		),
		TimeoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "timeouts_total",
				Help:      "Total number of deadline overruns",
			},
			[]string{"operation"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "retries_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"operation"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"operation"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"operation", "to"},
		),
		BreakerRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_rejections_total",
				Help:      "Total number of calls rejected by an open breaker",
			},
			[]string{"operation"},
		),
		ServiceState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "service_state",
				Help:      "Supervised service state (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed, 5=timeout)",
			},
			[]string{"service"},
		),
		ServiceRestarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "service_restarts_total",
				Help:      "Total number of supervised service restarts",
			},
			[]string{"service"},
		),
		ServiceHealthChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "service_health_checks_total",
				Help:      "Total number of supervised service health checks",
			},
			[]string{"service", "status"},
		),
	}

	prometheus.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.TimeoutsTotal,
		m.RetriesTotal,
		m.BreakerState,
		m.BreakerTransitions,
		m.BreakerRejections,
		m.ServiceState,
		m.ServiceRestarts,
		m.ServiceHealthChecks,
	)

	return m
}

// RecordOperation records the outcome of a bounded operation
func (m *Metrics) RecordOperation(operation, status string, duration time.Duration) {
	if m.OperationsTotal == nil {
		return
	}

	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// RecordTimeout records a deadline overrun
func (m *Metrics) RecordTimeout(operation string) {
	if m.TimeoutsTotal == nil {
		return
	}

	m.TimeoutsTotal.WithLabelValues(operation).Inc()
}

// RecordRetry records a retry attempt
func (m *Metrics) RecordRetry(operation string) {
	if m.RetriesTotal == nil {
		return
	}

	m.RetriesTotal.WithLabelValues(operation).Inc()
}

// UpdateBreakerState updates the breaker state gauge and transition counter
func (m *Metrics) UpdateBreakerState(operation, to string, state int) {
	if m.BreakerState == nil {
		return
	}

	m.BreakerState.WithLabelValues(operation).Set(float64(state))
	m.BreakerTransitions.WithLabelValues(operation, to).Inc()
}

// RecordBreakerRejection records a call denied by the breaker
func (m *Metrics) RecordBreakerRejection(operation string) {
	if m.BreakerRejections == nil {
		return
	}

	m.BreakerRejections.WithLabelValues(operation).Inc()
}

// UpdateServiceState updates the supervised service state gauge
func (m *Metrics) UpdateServiceState(service string, state int) {
	if m.ServiceState == nil {
		return
	}

	m.ServiceState.WithLabelValues(service).Set(float64(state))
}

// RecordServiceRestart records a supervised service restart
func (m *Metrics) RecordServiceRestart(service string) {
	if m.ServiceRestarts == nil {
		return
	}

	m.ServiceRestarts.WithLabelValues(service).Inc()
}

// RecordServiceHealthCheck records the outcome of a service health check
func (m *Metrics) RecordServiceHealthCheck(service, status string) {
	if m.ServiceHealthChecks == nil {
		return
	}

	m.ServiceHealthChecks.WithLabelValues(service, status).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
