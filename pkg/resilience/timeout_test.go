package resilience

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devharness/devharness/pkg/config"
	"github.com/devharness/devharness/pkg/errors"
	"github.com/devharness/devharness/pkg/perf"
)

func testTimeoutConfig() config.TimeoutConfig {
	cfg := config.DefaultTimeoutConfig()
	cfg.MaxRetries = 2
	cfg.BaseRetryDelay = time.Millisecond
	cfg.MaxRetryDelay = 10 * time.Millisecond
	cfg.FailureThreshold = 2
	cfg.RecoveryTimeout = 50 * time.Millisecond
	cfg.HalfOpenMaxCalls = 2
	return cfg
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(testTimeoutConfig(), perf.NewMonitor())
}

func TestManager_GetTimeout(t *testing.T) {
	m := NewManager(config.DefaultTimeoutConfig(), perf.NewMonitor())

	// Unknown operations fall back to the default
	assert.Equal(t, 30*time.Second, m.GetTimeout("unknown_operation"))

	// Known operations use their configured overrides
	assert.Equal(t, 60*time.Second, m.GetTimeout("fast_hooks"))
	assert.Equal(t, 600*time.Second, m.GetTimeout("test_execution"))
	assert.Equal(t, 10*time.Second, m.GetTimeout("file_operations"))
	assert.Equal(t, 3600*time.Second, m.GetTimeout("complete_workflow"))
}

func TestManager_GetTimeout_NeverNegative(t *testing.T) {
	cfg := testTimeoutConfig()
	cfg.OperationTimeouts = map[string]time.Duration{"broken": -5 * time.Second}
	m := NewManager(cfg, perf.NewMonitor())

	assert.Equal(t, time.Duration(0), m.GetTimeout("broken"))
}

func TestManager_EffectiveTimeout_Clamped(t *testing.T) {
	m := newTestManager(t)

	timeout := m.effectiveTimeout("test_op", &CallOptions{Timeout: 5 * time.Hour})
	assert.Equal(t, MaxTimeout, timeout)
}

func TestWithTimeout_Success(t *testing.T) {
	m := newTestManager(t)

	result, err := m.WithTimeout(context.Background(), "test_op", func(ctx context.Context) (interface{}, error) {
		return "done", nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestWithTimeout_FailFastTimeout(t *testing.T) {
	m := newTestManager(t)

	start := time.Now()
	result, err := m.WithTimeout(context.Background(), "test_op", func(ctx context.Context) (interface{}, error) {
		select {
		case <-time.After(time.Second):
			return "too late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, &CallOptions{Timeout: 20 * time.Millisecond})

	require.Error(t, err)
	assert.Nil(t, result)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	var te *errors.TimeoutExceededError
	require.True(t, stderrors.As(err, &te))
	assert.Equal(t, "test_op", te.Operation)
	assert.Equal(t, 20*time.Millisecond, te.Timeout)
	assert.GreaterOrEqual(t, te.Elapsed, 20*time.Millisecond)
}

func TestWithTimeout_GracefulDegradation(t *testing.T) {
	m := newTestManager(t)

	result, err := m.WithTimeout(context.Background(), "test_op", func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, &CallOptions{Timeout: 10 * time.Millisecond, Strategy: GracefulDegradation})

	// The only condition graceful degradation suppresses is the timeout
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestWithTimeout_GracefulDegradationPassesErrorsThrough(t *testing.T) {
	m := newTestManager(t)
	boom := stderrors.New("boom")

	_, err := m.WithTimeout(context.Background(), "test_op", func(ctx context.Context) (interface{}, error) {
		return nil, boom
	}, &CallOptions{Timeout: time.Second, Strategy: GracefulDegradation})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestWithTimeout_ErrorPassthrough(t *testing.T) {
	m := newTestManager(t)
	boom := stderrors.New("boom")

	result, err := m.WithTimeout(context.Background(), "test_op", func(ctx context.Context) (interface{}, error) {
		return nil, boom
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, result)
}

func TestWithTimeout_RetrySucceedsAfterFailures(t *testing.T) {
	m := newTestManager(t)

	var attempts atomic.Int32
	result, err := m.WithTimeout(context.Background(), "test_op", func(ctx context.Context) (interface{}, error) {
		if attempts.Add(1) < 3 {
			return nil, stderrors.New("transient")
		}
		return "recovered", nil
	}, &CallOptions{Timeout: time.Second, Strategy: RetryWithBackoff})

	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestWithTimeout_RetryExhaustsAttempts(t *testing.T) {
	m := newTestManager(t)

	var attempts atomic.Int32
	boom := stderrors.New("persistent")
	_, err := m.WithTimeout(context.Background(), "test_op", func(ctx context.Context) (interface{}, error) {
		attempts.Add(1)
		return nil, boom
	}, &CallOptions{Timeout: time.Second, Strategy: RetryWithBackoff})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	// 1 initial attempt + MaxRetries retries
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRetryDelay_ExponentialWithCap(t *testing.T) {
	cfg := testTimeoutConfig()
	cfg.BaseRetryDelay = time.Second
	cfg.MaxRetryDelay = 60 * time.Second
	cfg.BackoffMultiplier = 2.0
	m := NewManager(cfg, perf.NewMonitor())

	assert.Equal(t, time.Second, m.retryDelay(0))
	assert.Equal(t, 2*time.Second, m.retryDelay(1))
	assert.Equal(t, 4*time.Second, m.retryDelay(2))
	assert.Equal(t, 60*time.Second, m.retryDelay(10))
}

func TestBounded_Success(t *testing.T) {
	m := newTestManager(t)

	err := m.Bounded(context.Background(), "test_op", func(ctx context.Context) error {
		return nil
	}, nil)

	require.NoError(t, err)
}

func TestBounded_Timeout(t *testing.T) {
	m := newTestManager(t)

	err := m.Bounded(context.Background(), "test_op", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, &CallOptions{Timeout: 10 * time.Millisecond})

	require.Error(t, err)
	assert.True(t, errors.IsTimeoutExceeded(err))
}

func TestBounded_OverrunWithoutErrorIsTimeout(t *testing.T) {
	m := newTestManager(t)

	// The block ignores its context and returns nil after the deadline
	err := m.Bounded(context.Background(), "test_op", func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	}, &CallOptions{Timeout: 5 * time.Millisecond})

	require.Error(t, err)
	assert.True(t, errors.IsTimeoutExceeded(err))
}

func TestBounded_GracefulDegradationSuppressesTimeout(t *testing.T) {
	m := newTestManager(t)

	err := m.Bounded(context.Background(), "test_op", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, &CallOptions{Timeout: 10 * time.Millisecond, Strategy: GracefulDegradation})

	require.NoError(t, err)
}

func TestGetStats_UnrecordedOperation(t *testing.T) {
	m := newTestManager(t)

	stats := m.GetStats("never_seen")
	assert.Equal(t, int64(0), stats.Count)
	assert.Equal(t, time.Duration(0), stats.AvgTime)
	assert.Equal(t, float64(0), stats.SuccessRate)
}

func TestGetStats_AfterSuccesses(t *testing.T) {
	m := newTestManager(t)

	for i := 0; i < 5; i++ {
		_, err := m.WithTimeout(context.Background(), "test_op", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)
		require.NoError(t, err)
	}

	stats := m.GetStats("test_op")
	assert.Equal(t, int64(5), stats.Count)
	assert.Equal(t, float64(1), stats.SuccessRate)
	assert.GreaterOrEqual(t, stats.MaxTime, stats.MinTime)
}

func TestStrategy_String(t *testing.T) {
	assert.Equal(t, "fail_fast", FailFast.String())
	assert.Equal(t, "retry_with_backoff", RetryWithBackoff.String())
	assert.Equal(t, "circuit_breaker", CircuitBreaker.String())
	assert.Equal(t, "graceful_degradation", GracefulDegradation.String())
}
