package perf

import (
	"fmt"
	"time"
)

// AlertSeverity represents the severity level of a performance alert
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertThresholds define when an operation's telemetry raises an alert
type AlertThresholds struct {
	WarningTime    time.Duration `json:"warning_time"`
	CriticalTime   time.Duration `json:"critical_time"`
	MinSuccessRate float64       `json:"min_success_rate"`
}

// DefaultAlertThresholds returns the thresholds applied to operations
// without a specific override.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		WarningTime:    30 * time.Second,
		CriticalTime:   60 * time.Second,
		MinSuccessRate: 0.80,
	}
}

func defaultOperationThresholds() map[string]AlertThresholds {
	return map[string]AlertThresholds{
		"fast_hooks": {
			WarningTime:    30 * time.Second,
			CriticalTime:   60 * time.Second,
			MinSuccessRate: 0.95,
		},
		"file_operations": {
			WarningTime:    3 * time.Second,
			CriticalTime:   10 * time.Second,
			MinSuccessRate: 0.80,
		},
	}
}

// Alert represents a threshold violation for one operation
type Alert struct {
	Operation string        `json:"operation"`
	Kind      string        `json:"kind"`
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message"`
	Value     float64       `json:"value"`
	Threshold float64       `json:"threshold"`
	Timestamp time.Time     `json:"timestamp"`
}

// GetPerformanceAlerts evaluates every recorded operation against its
// thresholds and returns the current set of violations.
func (m *Monitor) GetPerformanceAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	alerts := make([]Alert, 0)

	for name, om := range m.operations {
		thresholds, ok := m.thresholds[name]
		if !ok {
			thresholds = DefaultAlertThresholds()
		}

		if om.TotalCalls > 0 {
			rate := om.SuccessRate()
			if rate < thresholds.MinSuccessRate {
				severity := SeverityWarning
				if rate < 0.50 {
					severity = SeverityCritical
				}
				alerts = append(alerts, Alert{
					Operation: name,
					Kind:      "success_rate",
					Severity:  severity,
					Message: fmt.Sprintf("operation '%s' success rate %.1f%% below minimum %.1f%%",
						name, rate*100, thresholds.MinSuccessRate*100),
					Value:     rate,
					Threshold: thresholds.MinSuccessRate,
					Timestamp: now,
				})
			}
		}

		if recent := om.RecentAverageTime(); recent > 0 {
			if recent > thresholds.CriticalTime {
				alerts = append(alerts, responseTimeAlert(name, SeverityCritical, recent, thresholds.CriticalTime, now))
			} else if recent > thresholds.WarningTime {
				alerts = append(alerts, responseTimeAlert(name, SeverityWarning, recent, thresholds.WarningTime, now))
			}
		}
	}

	return alerts
}

func responseTimeAlert(operation string, severity AlertSeverity, value, threshold time.Duration, now time.Time) Alert {
	return Alert{
		Operation: operation,
		Kind:      "response_time",
		Severity:  severity,
		Message: fmt.Sprintf("operation '%s' recent average time %s exceeds %s threshold %s",
			operation, value.Round(time.Millisecond), severity, threshold),
		Value:     value.Seconds(),
		Threshold: threshold.Seconds(),
		Timestamp: now,
	}
}

// SummaryStats aggregates telemetry across all operations
type SummaryStats struct {
	TotalCalls          int64   `json:"total_calls"`
	TotalSuccesses      int64   `json:"total_successes"`
	TotalFailures       int64   `json:"total_failures"`
	TotalTimeouts       int64   `json:"total_timeouts"`
	SuccessRatePct      float64 `json:"success_rate_pct"`
	TimeoutRatePct      float64 `json:"timeout_rate_pct"`
	ThroughputPerMinute float64 `json:"throughput_per_minute"`
	UniqueOperations    int     `json:"unique_operations"`
	TrippedOperations   int     `json:"tripped_operations"`
}

// GetSummaryStats returns totals across all recorded operations
func (m *Monitor) GetSummaryStats() SummaryStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := SummaryStats{
		UniqueOperations:  len(m.operations),
		TrippedOperations: len(m.breakerOpens),
	}

	for _, om := range m.operations {
		stats.TotalCalls += om.TotalCalls
		stats.TotalSuccesses += om.SuccessfulCalls
		stats.TotalFailures += om.FailedCalls
		stats.TotalTimeouts += om.TimeoutCalls
	}

	if stats.TotalCalls > 0 {
		stats.SuccessRatePct = float64(stats.TotalSuccesses) / float64(stats.TotalCalls) * 100
		stats.TimeoutRatePct = float64(stats.TotalTimeouts) / float64(stats.TotalCalls) * 100
	}

	elapsedMinutes := time.Since(m.startTime).Minutes()
	if elapsedMinutes > 0 {
		stats.ThroughputPerMinute = float64(stats.TotalCalls) / elapsedMinutes
	}

	return stats
}
