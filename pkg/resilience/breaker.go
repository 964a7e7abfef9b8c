package resilience

import (
	"time"
)

// BreakerState represents the state of a per-operation circuit breaker
type BreakerState int

const (
	// StateClosed - calls are allowed
	StateClosed BreakerState = iota
	// StateOpen - calls are rejected until the recovery timeout elapses
	StateOpen
	// StateHalfOpen - a limited number of probe calls are allowed
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// breakerData is the mutable per-operation breaker state. It is owned by the
// Manager and only touched under the Manager's mutex.
type breakerData struct {
	state           BreakerState
	failureCount    int
	lastFailureTime time.Time
	halfOpenCalls   int
}

// BreakerSnapshot is a read-only view of one operation's breaker
type BreakerSnapshot struct {
	Operation       string       `json:"operation"`
	State           BreakerState `json:"-"`
	StateName       string       `json:"state"`
	FailureCount    int          `json:"failure_count"`
	LastFailureTime time.Time    `json:"last_failure_time"`
	HalfOpenCalls   int          `json:"half_open_calls"`
}

// breakerLocked lazily creates the breaker for an operation in Closed state
func (m *Manager) breakerLocked(operation string) *breakerData {
	b, ok := m.breakers[operation]
	if !ok {
		b = &breakerData{state: StateClosed}
		m.breakers[operation] = b
	}
	return b
}

// allowCallLocked implements the breaker admission check. An Open breaker
// whose recovery timeout has elapsed transitions to HalfOpen and admits the
// triggering call; HalfOpen admits calls until the probe budget is spent.
func (m *Manager) allowCallLocked(operation string, now time.Time) (bool, BreakerState) {
	b := m.breakerLocked(operation)

	switch b.state {
	case StateOpen:
		if now.Sub(b.lastFailureTime) > m.config.RecoveryTimeout {
			m.transitionLocked(operation, b, StateHalfOpen)
			b.halfOpenCalls = 0
		} else {
			return false, StateOpen
		}
	case StateClosed:
		return true, StateClosed
	}

	if b.halfOpenCalls < m.config.HalfOpenMaxCalls {
		b.halfOpenCalls++
		return true, StateHalfOpen
	}
	return false, StateHalfOpen
}

// breakerSuccessLocked applies a success update. A HalfOpen success closes
// the breaker and hard-resets the failure count; a Closed success decays it.
func (m *Manager) breakerSuccessLocked(operation string) {
	b := m.breakerLocked(operation)

	if b.state == StateHalfOpen {
		b.failureCount = 0
		m.transitionLocked(operation, b, StateClosed)
		return
	}

	if b.failureCount > 0 {
		b.failureCount--
	}
}

// breakerFailureLocked applies a failure update regardless of current state
// and forces the breaker open once the failure threshold is reached.
func (m *Manager) breakerFailureLocked(operation string, now time.Time) {
	b := m.breakerLocked(operation)

	b.failureCount++
	b.lastFailureTime = now

	if b.state != StateOpen && b.failureCount >= m.config.FailureThreshold {
		m.transitionLocked(operation, b, StateOpen)
	}
}

func (m *Manager) transitionLocked(operation string, b *breakerData, to BreakerState) {
	if b.state == to {
		return
	}

	from := b.state
	b.state = to

	m.logger.Info("Circuit breaker state changed",
		"operation", operation,
		"from", from.String(),
		"to", to.String(),
		"failure_count", b.failureCount,
	)

	if m.monitor != nil {
		m.monitor.RecordCircuitBreakerEvent(operation, to == StateOpen)
	}
	if m.metrics != nil {
		m.metrics.UpdateBreakerState(operation, to.String(), int(to))
	}
}

// BreakerSnapshot returns a read-only view of one operation's breaker state.
// Operations without history report a Closed breaker.
func (m *Manager) BreakerSnapshot(operation string) BreakerSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.breakers[operation]
	if !ok {
		return BreakerSnapshot{Operation: operation, State: StateClosed, StateName: StateClosed.String()}
	}
	return BreakerSnapshot{
		Operation:       operation,
		State:           b.state,
		StateName:       b.state.String(),
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
		HalfOpenCalls:   b.halfOpenCalls,
	}
}

// BreakerSnapshots returns the breaker state for every tracked operation
func (m *Manager) BreakerSnapshots() []BreakerSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshots := make([]BreakerSnapshot, 0, len(m.breakers))
	for operation, b := range m.breakers {
		snapshots = append(snapshots, BreakerSnapshot{
			Operation:       operation,
			State:           b.state,
			StateName:       b.state.String(),
			FailureCount:    b.failureCount,
			LastFailureTime: b.lastFailureTime,
			HalfOpenCalls:   b.halfOpenCalls,
		})
	}
	return snapshots
}
