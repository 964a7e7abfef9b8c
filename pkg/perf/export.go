package perf

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// OperationSnapshot is the JSON-exported view of one operation's metrics
type OperationSnapshot struct {
	TotalCalls        int64         `json:"total_calls"`
	SuccessfulCalls   int64         `json:"successful_calls"`
	FailedCalls       int64         `json:"failed_calls"`
	TimeoutCalls      int64         `json:"timeout_calls"`
	SuccessRate       float64       `json:"success_rate"`
	AverageTime       time.Duration `json:"average_time"`
	RecentAverageTime time.Duration `json:"recent_average_time"`
	MinTime           time.Duration `json:"min_time"`
	MaxTime           time.Duration `json:"max_time"`
}

// ExportDocument is the exported metrics snapshot
type ExportDocument struct {
	Summary             SummaryStats                 `json:"summary"`
	Operations          map[string]OperationSnapshot `json:"operations"`
	RecentTimeoutEvents []TimeoutEvent               `json:"recent_timeout_events"`
	PerformanceAlerts   []Alert                      `json:"performance_alerts"`
}

// Snapshot builds the full export document
func (m *Monitor) Snapshot() ExportDocument {
	summary := m.GetSummaryStats()
	alerts := m.GetPerformanceAlerts()
	events := m.RecentTimeoutEvents(50)

	m.mu.Lock()
	operations := make(map[string]OperationSnapshot, len(m.operations))
	for name, om := range m.operations {
		operations[name] = OperationSnapshot{
			TotalCalls:        om.TotalCalls,
			SuccessfulCalls:   om.SuccessfulCalls,
			FailedCalls:       om.FailedCalls,
			TimeoutCalls:      om.TimeoutCalls,
			SuccessRate:       om.SuccessRate(),
			AverageTime:       om.AverageTime(),
			RecentAverageTime: om.RecentAverageTime(),
			MinTime:           om.MinTime,
			MaxTime:           om.MaxTime,
		}
	}
	m.mu.Unlock()

	return ExportDocument{
		Summary:             summary,
		Operations:          operations,
		RecentTimeoutEvents: events,
		PerformanceAlerts:   alerts,
	}
}

// ExportJSON writes the metrics snapshot to a file as indented JSON
func (m *Monitor) ExportJSON(path string) error {
	doc := m.Snapshot()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	m.logger.Info("Exported performance metrics",
		"path", path,
		"operations", len(doc.Operations),
	)

	return nil
}

// WriteReport renders a human-readable performance report to the sink
func (m *Monitor) WriteReport(w io.Writer) error {
	doc := m.Snapshot()

	fmt.Fprintln(w, "Performance Report")
	fmt.Fprintln(w, "==================")
	fmt.Fprintf(w, "Total calls:       %d\n", doc.Summary.TotalCalls)
	fmt.Fprintf(w, "Successes:         %d\n", doc.Summary.TotalSuccesses)
	fmt.Fprintf(w, "Failures:          %d\n", doc.Summary.TotalFailures)
	fmt.Fprintf(w, "Timeouts:          %d\n", doc.Summary.TotalTimeouts)
	fmt.Fprintf(w, "Success rate:      %.1f%%\n", doc.Summary.SuccessRatePct)
	fmt.Fprintf(w, "Timeout rate:      %.1f%%\n", doc.Summary.TimeoutRatePct)
	fmt.Fprintf(w, "Throughput:        %.1f calls/min\n", doc.Summary.ThroughputPerMinute)
	fmt.Fprintf(w, "Operations:        %d\n", doc.Summary.UniqueOperations)
	fmt.Fprintf(w, "Tripped breakers:  %d\n", doc.Summary.TrippedOperations)
	fmt.Fprintln(w)

	names := make([]string, 0, len(doc.Operations))
	for name := range doc.Operations {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > 0 {
		fmt.Fprintf(w, "%-28s %8s %8s %8s %8s %12s\n",
			"OPERATION", "CALLS", "OK", "FAIL", "TIMEOUT", "AVG")
		for _, name := range names {
			op := doc.Operations[name]
			fmt.Fprintf(w, "%-28s %8d %8d %8d %8d %12s\n",
				name, op.TotalCalls, op.SuccessfulCalls, op.FailedCalls,
				op.TimeoutCalls, op.AverageTime.Round(time.Millisecond))
		}
		fmt.Fprintln(w)
	}

	if len(doc.PerformanceAlerts) > 0 {
		fmt.Fprintln(w, "Alerts:")
		for _, alert := range doc.PerformanceAlerts {
			fmt.Fprintf(w, "  [%s] %s\n", alert.Severity, alert.Message)
		}
	}

	return nil
}
