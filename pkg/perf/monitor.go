package perf

import (
	"sync"
	"time"

	"github.com/devharness/devharness/pkg/logging"
)

const recentTimesWindow = 100

// OperationMetrics aggregates call outcomes for a single operation
type OperationMetrics struct {
	TotalCalls      int64
	SuccessfulCalls int64
	FailedCalls     int64
	TimeoutCalls    int64
	TotalTime       time.Duration
	MinTime         time.Duration
	MaxTime         time.Duration

	minSet      bool
	recentTimes []time.Duration
}

// SuccessRate returns the fraction of calls that succeeded
func (m *OperationMetrics) SuccessRate() float64 {
	if m.TotalCalls == 0 {
		return 0
	}
	return float64(m.SuccessfulCalls) / float64(m.TotalCalls)
}

// AverageTime returns the mean duration across all recorded calls
func (m *OperationMetrics) AverageTime() time.Duration {
	if m.TotalCalls == 0 {
		return 0
	}
	return m.TotalTime / time.Duration(m.TotalCalls)
}

// RecentAverageTime returns the mean duration of the rolling window
func (m *OperationMetrics) RecentAverageTime() time.Duration {
	if len(m.recentTimes) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range m.recentTimes {
		total += d
	}
	return total / time.Duration(len(m.recentTimes))
}

// RecentTimes returns a copy of the rolling duration window
func (m *OperationMetrics) RecentTimes() []time.Duration {
	out := make([]time.Duration, len(m.recentTimes))
	copy(out, m.recentTimes)
	return out
}

// TimeoutEvent records a single deadline overrun
type TimeoutEvent struct {
	Operation       string        `json:"operation"`
	ExpectedTimeout time.Duration `json:"expected_timeout"`
	ActualDuration  time.Duration `json:"actual_duration"`
	Timestamp       time.Time     `json:"timestamp"`
	ErrorMessage    string        `json:"error_message"`
}

// Monitor aggregates per-operation call outcomes, timeout events, and
// circuit breaker trips. It is safe for concurrent use from goroutines and
// subprocess-adjacent synchronous code.
type Monitor struct {
	mu            sync.Mutex
	operations    map[string]*OperationMetrics
	timeoutEvents []TimeoutEvent
	eventCapacity int
	breakerOpens  map[string][]time.Time
	thresholds    map[string]AlertThresholds
	startTime     time.Time
	logger        *logging.Logger
}

// Option configures a Monitor
type Option func(*Monitor)

// WithEventCapacity sets the timeout event ring buffer capacity
func WithEventCapacity(capacity int) Option {
	return func(m *Monitor) {
		if capacity > 0 {
			m.eventCapacity = capacity
		}
	}
}

// WithThresholds overrides the alert thresholds for an operation
func WithThresholds(operation string, thresholds AlertThresholds) Option {
	return func(m *Monitor) {
		m.thresholds[operation] = thresholds
	}
}

// NewMonitor creates a new performance monitor
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		operations:    make(map[string]*OperationMetrics),
		eventCapacity: 1000,
		breakerOpens:  make(map[string][]time.Time),
		thresholds:    defaultOperationThresholds(),
		startTime:     time.Now(),
		logger:        logging.GetLogger(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// RecordOperationStart marks the start of an operation and returns the
// start time to pass to the matching success/failure/timeout recorder.
func (m *Monitor) RecordOperationStart(operation string) time.Time {
	return time.Now()
}

// RecordOperationSuccess records a successful completion
func (m *Monitor) RecordOperationSuccess(operation string, start time.Time) {
	elapsed := time.Since(start)

	m.mu.Lock()
	defer m.mu.Unlock()

	om := m.metricsLocked(operation)
	om.TotalCalls++
	om.SuccessfulCalls++
	m.recordTimeLocked(om, elapsed)
}

// RecordOperationFailure records a failed completion
func (m *Monitor) RecordOperationFailure(operation string, start time.Time) {
	elapsed := time.Since(start)

	m.mu.Lock()
	defer m.mu.Unlock()

	om := m.metricsLocked(operation)
	om.TotalCalls++
	om.FailedCalls++
	m.recordTimeLocked(om, elapsed)
}

// RecordOperationTimeout records a deadline overrun and appends a timeout
// event. Oldest events are evicted beyond the configured capacity.
func (m *Monitor) RecordOperationTimeout(operation string, start time.Time, expectedTimeout time.Duration, message string) {
	elapsed := time.Since(start)

	m.mu.Lock()
	defer m.mu.Unlock()

	om := m.metricsLocked(operation)
	om.TimeoutCalls++

	m.timeoutEvents = append(m.timeoutEvents, TimeoutEvent{
		Operation:       operation,
		ExpectedTimeout: expectedTimeout,
		ActualDuration:  elapsed,
		Timestamp:       time.Now(),
		ErrorMessage:    message,
	})
	if len(m.timeoutEvents) > m.eventCapacity {
		m.timeoutEvents = m.timeoutEvents[len(m.timeoutEvents)-m.eventCapacity:]
	}
}

// RecordCircuitBreakerEvent records a breaker state change. Only openings
// are retained; closures are accepted for symmetry but not stored.
func (m *Monitor) RecordCircuitBreakerEvent(operation string, opened bool) {
	if !opened {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.breakerOpens[operation] = append(m.breakerOpens[operation], time.Now())
}

// GetOperationMetrics returns a snapshot of the metrics for one operation
func (m *Monitor) GetOperationMetrics(operation string) (OperationMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	om, ok := m.operations[operation]
	if !ok {
		return OperationMetrics{}, false
	}
	return m.snapshotLocked(om), true
}

// OperationNames returns the names of all recorded operations
func (m *Monitor) OperationNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.operations))
	for name := range m.operations {
		names = append(names, name)
	}
	return names
}

// RecentTimeoutEvents returns up to limit of the newest timeout events
func (m *Monitor) RecentTimeoutEvents(limit int) []TimeoutEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := m.timeoutEvents
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]TimeoutEvent, len(events))
	copy(out, events)
	return out
}

func (m *Monitor) metricsLocked(operation string) *OperationMetrics {
	om, ok := m.operations[operation]
	if !ok {
		om = &OperationMetrics{}
		m.operations[operation] = om
	}
	return om
}

func (m *Monitor) recordTimeLocked(om *OperationMetrics, elapsed time.Duration) {
	om.TotalTime += elapsed
	if !om.minSet || elapsed < om.MinTime {
		om.MinTime = elapsed
		om.minSet = true
	}
	if elapsed > om.MaxTime {
		om.MaxTime = elapsed
	}

	om.recentTimes = append(om.recentTimes, elapsed)
	if len(om.recentTimes) > recentTimesWindow {
		om.recentTimes = om.recentTimes[len(om.recentTimes)-recentTimesWindow:]
	}
}

func (m *Monitor) snapshotLocked(om *OperationMetrics) OperationMetrics {
	snap := *om
	snap.recentTimes = make([]time.Duration, len(om.recentTimes))
	copy(snap.recentTimes, om.recentTimes)
	return snap
}
