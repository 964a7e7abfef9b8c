package resilience

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devharness/devharness/pkg/errors"
)

func tripBreaker(t *testing.T, m *Manager, operation string) {
	t.Helper()
	for i := 0; i < m.config.FailureThreshold; i++ {
		_, err := m.WithTimeout(context.Background(), operation, func(ctx context.Context) (interface{}, error) {
			return nil, stderrors.New("test error")
		}, &CallOptions{Timeout: time.Second, Strategy: CircuitBreaker})
		require.Error(t, err)
	}
}

func TestBreaker_StartsClosed(t *testing.T) {
	m := newTestManager(t)

	snap := m.BreakerSnapshot("fresh_op")
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
}

func TestBreaker_TripsAtThreshold(t *testing.T) {
	m := newTestManager(t)

	tripBreaker(t, m, "test_op")

	snap := m.BreakerSnapshot("test_op")
	assert.Equal(t, StateOpen, snap.State)
	assert.Equal(t, m.config.FailureThreshold, snap.FailureCount)
	assert.False(t, snap.LastFailureTime.IsZero())
}

func TestBreaker_RejectsWithoutInvoking(t *testing.T) {
	m := newTestManager(t)
	tripBreaker(t, m, "test_op")

	invoked := false
	result, err := m.WithTimeout(context.Background(), "test_op", func(ctx context.Context) (interface{}, error) {
		invoked = true
		return "should not execute", nil
	}, &CallOptions{Timeout: time.Second, Strategy: CircuitBreaker})

	require.Error(t, err)
	assert.Nil(t, result)
	assert.False(t, invoked)
	assert.True(t, errors.IsCircuitOpen(err))
	assert.Contains(t, err.Error(), "circuit breaker")
}

func TestBreaker_RecoversThroughHalfOpen(t *testing.T) {
	m := newTestManager(t)
	tripBreaker(t, m, "test_op")

	// Wait out the recovery timeout
	time.Sleep(m.config.RecoveryTimeout + 10*time.Millisecond)

	// The first probe is admitted and its success closes the breaker
	result, err := m.WithTimeout(context.Background(), "test_op", func(ctx context.Context) (interface{}, error) {
		return "recovered", nil
	}, &CallOptions{Timeout: time.Second, Strategy: CircuitBreaker})

	require.NoError(t, err)
	assert.Equal(t, "recovered", result)

	snap := m.BreakerSnapshot("test_op")
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	m := newTestManager(t)
	tripBreaker(t, m, "test_op")

	time.Sleep(m.config.RecoveryTimeout + 10*time.Millisecond)

	_, err := m.WithTimeout(context.Background(), "test_op", func(ctx context.Context) (interface{}, error) {
		return nil, stderrors.New("still broken")
	}, &CallOptions{Timeout: time.Second, Strategy: CircuitBreaker})
	require.Error(t, err)

	snap := m.BreakerSnapshot("test_op")
	assert.Equal(t, StateOpen, snap.State)
}

func TestBreaker_HalfOpenProbeBudget(t *testing.T) {
	m := newTestManager(t)
	tripBreaker(t, m, "test_op")

	time.Sleep(m.config.RecoveryTimeout + 10*time.Millisecond)

	// Drain the half-open probe budget without completing any call
	m.mu.Lock()
	now := time.Now()
	for i := 0; i < m.config.HalfOpenMaxCalls; i++ {
		allowed, _ := m.allowCallLocked("test_op", now)
		assert.True(t, allowed)
	}
	allowed, state := m.allowCallLocked("test_op", now)
	m.mu.Unlock()

	assert.False(t, allowed)
	assert.Equal(t, StateHalfOpen, state)
}

func TestBreaker_ClosedSuccessDecaysFailureCount(t *testing.T) {
	m := newTestManager(t)

	// One failure below the threshold, then a success
	_, err := m.WithTimeout(context.Background(), "test_op", func(ctx context.Context) (interface{}, error) {
		return nil, stderrors.New("test error")
	}, &CallOptions{Timeout: time.Second, Strategy: CircuitBreaker})
	require.Error(t, err)
	assert.Equal(t, 1, m.BreakerSnapshot("test_op").FailureCount)

	_, err = m.WithTimeout(context.Background(), "test_op", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, &CallOptions{Timeout: time.Second, Strategy: CircuitBreaker})
	require.NoError(t, err)

	snap := m.BreakerSnapshot("test_op")
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
}

func TestBreaker_TimeoutCountsAsFailure(t *testing.T) {
	m := newTestManager(t)

	for i := 0; i < m.config.FailureThreshold; i++ {
		_, err := m.WithTimeout(context.Background(), "test_op", func(ctx context.Context) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}, &CallOptions{Timeout: 5 * time.Millisecond, Strategy: CircuitBreaker})
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, m.BreakerSnapshot("test_op").State)
}

func TestBreaker_Snapshots(t *testing.T) {
	m := newTestManager(t)
	tripBreaker(t, m, "op_a")

	_, err := m.WithTimeout(context.Background(), "op_b", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, &CallOptions{Strategy: CircuitBreaker})
	require.NoError(t, err)

	snapshots := m.BreakerSnapshots()
	assert.Len(t, snapshots, 2)

	states := make(map[string]BreakerState, len(snapshots))
	for _, s := range snapshots {
		states[s.Operation] = s.State
	}
	assert.Equal(t, StateOpen, states["op_a"])
	assert.Equal(t, StateClosed, states["op_b"])
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
}
