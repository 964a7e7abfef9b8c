package perf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSuccessWithDuration records a success whose elapsed time is
// approximately the given duration.
func recordSuccessWithDuration(m *Monitor, operation string, d time.Duration) {
	m.RecordOperationSuccess(operation, time.Now().Add(-d))
}

func TestMonitor_RecordsOutcomes(t *testing.T) {
	m := NewMonitor()

	recordSuccessWithDuration(m, "test_op", 10*time.Millisecond)
	recordSuccessWithDuration(m, "test_op", 20*time.Millisecond)
	m.RecordOperationFailure("test_op", time.Now().Add(-30*time.Millisecond))
	m.RecordOperationTimeout("test_op", time.Now().Add(-50*time.Millisecond), 40*time.Millisecond, "deadline exceeded")

	om, ok := m.GetOperationMetrics("test_op")
	require.True(t, ok)

	assert.Equal(t, int64(3), om.TotalCalls)
	assert.Equal(t, int64(2), om.SuccessfulCalls)
	assert.Equal(t, int64(1), om.FailedCalls)
	assert.Equal(t, int64(1), om.TimeoutCalls)
	assert.InDelta(t, 2.0/3.0, om.SuccessRate(), 0.001)
	assert.GreaterOrEqual(t, om.MaxTime, om.MinTime)
}

func TestMonitor_UnknownOperation(t *testing.T) {
	m := NewMonitor()

	_, ok := m.GetOperationMetrics("never_seen")
	assert.False(t, ok)
	assert.Empty(t, m.OperationNames())
}

func TestMonitor_RecentTimesWindow(t *testing.T) {
	m := NewMonitor()

	// Record 150 calls with increasing durations
	for i := 1; i <= 150; i++ {
		recordSuccessWithDuration(m, "test_op", time.Duration(i)*time.Millisecond)
	}

	om, ok := m.GetOperationMetrics("test_op")
	require.True(t, ok)

	window := om.RecentTimes()
	require.Len(t, window, 100)

	// The oldest retained sample is the 51st recording
	assert.InDelta(t, float64(51*time.Millisecond), float64(window[0]), float64(5*time.Millisecond))
	assert.InDelta(t, float64(150*time.Millisecond), float64(window[99]), float64(5*time.Millisecond))

	// Totals still cover every call
	assert.Equal(t, int64(150), om.TotalCalls)
}

func TestMonitor_TimeoutEventRingBuffer(t *testing.T) {
	m := NewMonitor(WithEventCapacity(10))

	for i := 0; i < 15; i++ {
		m.RecordOperationTimeout("test_op", time.Now(), time.Second, fmt.Sprintf("overrun %d", i))
	}

	events := m.RecentTimeoutEvents(0)
	require.Len(t, events, 10)

	// Oldest five events were evicted
	assert.Equal(t, "overrun 5", events[0].ErrorMessage)
	assert.Equal(t, "overrun 14", events[9].ErrorMessage)
}

func TestMonitor_RecentTimeoutEventsLimit(t *testing.T) {
	m := NewMonitor()

	for i := 0; i < 8; i++ {
		m.RecordOperationTimeout("test_op", time.Now(), time.Second, fmt.Sprintf("overrun %d", i))
	}

	events := m.RecentTimeoutEvents(3)
	require.Len(t, events, 3)
	assert.Equal(t, "overrun 5", events[0].ErrorMessage)
	assert.Equal(t, "overrun 7", events[2].ErrorMessage)
}

func TestAlerts_LowSuccessRate(t *testing.T) {
	m := NewMonitor()

	recordSuccessWithDuration(m, "test_op", time.Millisecond)
	for i := 0; i < 4; i++ {
		m.RecordOperationFailure("test_op", time.Now())
	}

	alerts := m.GetPerformanceAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "success_rate", alerts[0].Kind)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
	assert.InDelta(t, 0.20, alerts[0].Value, 0.001)
}

func TestAlerts_SuccessRateWarningAboveHalf(t *testing.T) {
	m := NewMonitor()

	// 60% success rate: below the 80% minimum but above the critical cutoff
	for i := 0; i < 6; i++ {
		recordSuccessWithDuration(m, "test_op", time.Millisecond)
	}
	for i := 0; i < 4; i++ {
		m.RecordOperationFailure("test_op", time.Now())
	}

	alerts := m.GetPerformanceAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, SeverityWarning, alerts[0].Severity)
}

func TestAlerts_FastHooksStricterThreshold(t *testing.T) {
	m := NewMonitor()

	// 90% would pass the default threshold but not the fast_hooks one
	for i := 0; i < 9; i++ {
		recordSuccessWithDuration(m, "fast_hooks", time.Millisecond)
	}
	m.RecordOperationFailure("fast_hooks", time.Now())

	alerts := m.GetPerformanceAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "success_rate", alerts[0].Kind)
	assert.InDelta(t, 0.95, alerts[0].Threshold, 0.001)
}

func TestAlerts_ResponseTime(t *testing.T) {
	m := NewMonitor()

	// file_operations warns above 3s and goes critical above 10s
	recordSuccessWithDuration(m, "file_operations", 5*time.Second)

	alerts := m.GetPerformanceAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "response_time", alerts[0].Kind)
	assert.Equal(t, SeverityWarning, alerts[0].Severity)

	recordSuccessWithDuration(m, "file_operations", 30*time.Second)

	alerts = m.GetPerformanceAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
}

func TestAlerts_HealthySystemIsQuiet(t *testing.T) {
	m := NewMonitor()

	for i := 0; i < 20; i++ {
		recordSuccessWithDuration(m, "test_op", 10*time.Millisecond)
	}

	assert.Empty(t, m.GetPerformanceAlerts())
}

func TestSummaryStats(t *testing.T) {
	m := NewMonitor()

	recordSuccessWithDuration(m, "op_a", time.Millisecond)
	recordSuccessWithDuration(m, "op_a", time.Millisecond)
	m.RecordOperationFailure("op_b", time.Now())
	m.RecordOperationTimeout("op_b", time.Now(), time.Second, "overrun")
	m.RecordCircuitBreakerEvent("op_b", true)
	m.RecordCircuitBreakerEvent("op_a", false)

	stats := m.GetSummaryStats()
	assert.Equal(t, int64(3), stats.TotalCalls)
	assert.Equal(t, int64(2), stats.TotalSuccesses)
	assert.Equal(t, int64(1), stats.TotalFailures)
	assert.Equal(t, int64(1), stats.TotalTimeouts)
	assert.Equal(t, 2, stats.UniqueOperations)
	assert.Equal(t, 1, stats.TrippedOperations)
	assert.InDelta(t, 100.0*2/3, stats.SuccessRatePct, 0.1)
	assert.Greater(t, stats.ThroughputPerMinute, 0.0)
}

func TestExportJSON(t *testing.T) {
	m := NewMonitor()

	recordSuccessWithDuration(m, "test_op", 10*time.Millisecond)
	m.RecordOperationTimeout("test_op", time.Now(), time.Second, "overrun")

	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, m.ExportJSON(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc ExportDocument
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, int64(1), doc.Summary.TotalCalls)
	assert.Equal(t, int64(1), doc.Summary.TotalTimeouts)
	require.Contains(t, doc.Operations, "test_op")
	assert.Equal(t, int64(1), doc.Operations["test_op"].SuccessfulCalls)
	require.Len(t, doc.RecentTimeoutEvents, 1)
	assert.Equal(t, "overrun", doc.RecentTimeoutEvents[0].ErrorMessage)
}

func TestWriteReport(t *testing.T) {
	m := NewMonitor()
	recordSuccessWithDuration(m, "test_op", 10*time.Millisecond)

	var buf bytes.Buffer
	require.NoError(t, m.WriteReport(&buf))

	out := buf.String()
	assert.Contains(t, out, "Performance Report")
	assert.Contains(t, out, "test_op")
}
