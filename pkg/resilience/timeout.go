package resilience

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/devharness/devharness/pkg/config"
	"github.com/devharness/devharness/pkg/errors"
	"github.com/devharness/devharness/pkg/logging"
	"github.com/devharness/devharness/pkg/metrics"
	"github.com/devharness/devharness/pkg/perf"
	"github.com/devharness/devharness/pkg/tracing"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// MaxTimeout is the hard ceiling on any deadline. Longer deadlines are
// clamped with a warning rather than rejected.
const MaxTimeout = 2 * time.Hour

// Strategy selects how a bounded operation reacts to failure
type Strategy int

const (
	// FailFast - surface a timeout error immediately
	FailFast Strategy = iota
	// RetryWithBackoff - retry transient failures with exponential backoff
	RetryWithBackoff
	// CircuitBreaker - consult and update the per-operation breaker
	CircuitBreaker
	// GracefulDegradation - a deadline overrun yields an absent result
	GracefulDegradation
)

func (s Strategy) String() string {
	switch s {
	case FailFast:
		return "fail_fast"
	case RetryWithBackoff:
		return "retry_with_backoff"
	case CircuitBreaker:
		return "circuit_breaker"
	case GracefulDegradation:
		return "graceful_degradation"
	default:
		return "unknown"
	}
}

// Operation is an awaitable unit of work producing a result
type Operation func(ctx context.Context) (interface{}, error)

// CallOptions adjust a single bounded call. The zero value means the
// configured timeout for the operation and the FailFast strategy.
type CallOptions struct {
	// Timeout overrides the configured deadline when positive
	Timeout time.Duration
	// Strategy selects the failure handling behavior
	Strategy Strategy
}

// Manager enforces deadlines on operations, owns the per-operation circuit
// breakers, dispatches retry and degradation strategies, and reports every
// outcome to the performance monitor.
type Manager struct {
	config  config.TimeoutConfig
	monitor *perf.Monitor
	metrics *metrics.Metrics
	tracer  *tracing.TracingService
	logger  *logging.Logger

	mu           sync.Mutex
	breakers     map[string]*breakerData
	successTimes map[string][]time.Duration
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithMetrics attaches Prometheus metrics to the manager
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithTracing attaches a tracing service to the manager
func WithTracing(t *tracing.TracingService) ManagerOption {
	return func(mgr *Manager) { mgr.tracer = t }
}

// WithLogger attaches a logger to the manager
func WithLogger(l *logging.Logger) ManagerOption {
	return func(mgr *Manager) { mgr.logger = l }
}

// NewManager creates a new timeout manager reporting to the given monitor
func NewManager(cfg config.TimeoutConfig, monitor *perf.Monitor, opts ...ManagerOption) *Manager {
	m := &Manager{
		config:       cfg,
		monitor:      monitor,
		logger:       logging.GetLogger(),
		breakers:     make(map[string]*breakerData),
		successTimes: make(map[string][]time.Duration),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// GetTimeout returns the configured deadline for an operation: the
// per-operation override if present, else the default. Never negative.
func (m *Manager) GetTimeout(operation string) time.Duration {
	timeout := m.config.DefaultTimeout
	if override, ok := m.config.OperationTimeouts[operation]; ok {
		timeout = override
	}
	if timeout < 0 {
		return 0
	}
	return timeout
}

// effectiveTimeout resolves and clamps the deadline for a call
func (m *Manager) effectiveTimeout(operation string, opts *CallOptions) time.Duration {
	timeout := m.GetTimeout(operation)
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if timeout > MaxTimeout {
		m.logger.Warn("Timeout exceeds maximum, clamping",
			"operation", operation,
			"requested", timeout.String(),
			"clamped", MaxTimeout.String(),
		)
		timeout = MaxTimeout
	}
	return timeout
}

// WithTimeout runs one operation under a deadline according to the selected
// strategy. Under CircuitBreaker an open breaker rejects the call without
// invoking the operation. Under GracefulDegradation a deadline overrun
// returns an absent result instead of an error. Errors unrelated to timing
// are passed through unchanged.
func (m *Manager) WithTimeout(ctx context.Context, operation string, fn Operation, opts *CallOptions) (interface{}, error) {
	if opts == nil {
		opts = &CallOptions{}
	}
	timeout := m.effectiveTimeout(operation, opts)

	switch opts.Strategy {
	case RetryWithBackoff:
		return m.withRetry(ctx, operation, fn, timeout)
	case CircuitBreaker:
		m.mu.Lock()
		allowed, state := m.allowCallLocked(operation, time.Now())
		m.mu.Unlock()
		if !allowed {
			if m.metrics != nil {
				m.metrics.RecordBreakerRejection(operation)
			}
			m.monitor.RecordOperationFailure(operation, time.Now())
			m.logger.Warn("Call rejected by circuit breaker",
				"operation", operation,
				"state", state.String(),
			)
			return nil, errors.NewCircuitOpen(operation, state.String())
		}
	}

	return m.executeOnce(ctx, operation, fn, timeout, opts.Strategy)
}

// executeOnce runs a single deadline-bounded attempt. The operation is
// abandoned, not forcibly stopped, when the deadline passes; cancellation is
// best-effort through the derived context.
func (m *Manager) executeOnce(ctx context.Context, parentOp string, fn Operation, timeout time.Duration, strategy Strategy) (interface{}, error) {
	operation := parentOp
	start := m.monitor.RecordOperationStart(operation)

	var span oteltrace.Span
	if m.tracer != nil {
		ctx, span = m.tracer.StartOperationSpan(ctx, operation, strategy.String())
		defer span.End()
	}

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := fn(opCtx)
		done <- outcome{result: result, err: err}
	}()

	var result interface{}
	var err error

	select {
	case o := <-done:
		result, err = o.result, o.err
	case <-opCtx.Done():
		err = opCtx.Err()
	}

	elapsed := time.Since(start)

	if span != nil && err != nil {
		m.tracer.RecordError(span, err)
	}

	switch {
	case err == nil:
		m.recordSuccess(operation, start, elapsed)
		return result, nil

	case isTimeoutCondition(err):
		m.recordTimeout(operation, start, timeout, elapsed, err)
		if strategy == GracefulDegradation {
			m.logger.Warn("Operation timed out, degrading gracefully",
				"operation", operation,
				"timeout", timeout.String(),
				"elapsed", elapsed.String(),
			)
			return nil, nil
		}
		return nil, errors.NewTimeoutExceeded(operation, timeout, elapsed)

	default:
		m.monitor.RecordOperationFailure(operation, start)
		if strategy == CircuitBreaker {
			m.mu.Lock()
			m.breakerFailureLocked(operation, time.Now())
			m.mu.Unlock()
		}
		if m.metrics != nil {
			m.metrics.RecordOperation(operation, "failure", elapsed)
		}
		return nil, err
	}
}

// Bounded runs a scoped block under a deadline, the call-site equivalent of
// wrapping a region of work. The block observes the deadline through its
// context; on overrun, cancellation, or an explicit timeout error from
// inside the block, a timeout is recorded and surfaced unless the strategy
// is GracefulDegradation, which suppresses only that condition.
func (m *Manager) Bounded(ctx context.Context, operation string, fn func(ctx context.Context) error, opts *CallOptions) error {
	if opts == nil {
		opts = &CallOptions{}
	}
	timeout := m.effectiveTimeout(operation, opts)
	start := m.monitor.RecordOperationStart(operation)

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(opCtx)
	if err == nil && opCtx.Err() != nil {
		err = opCtx.Err()
	}
	elapsed := time.Since(start)

	switch {
	case err == nil:
		m.recordSuccess(operation, start, elapsed)
		return nil

	case isTimeoutCondition(err):
		m.monitor.RecordOperationTimeout(operation, start, timeout, err.Error())
		m.monitor.RecordOperationFailure(operation, start)
		if opts.Strategy == CircuitBreaker {
			m.mu.Lock()
			m.breakerFailureLocked(operation, time.Now())
			m.mu.Unlock()
		}
		if m.metrics != nil {
			m.metrics.RecordTimeout(operation)
			m.metrics.RecordOperation(operation, "timeout", elapsed)
		}
		if opts.Strategy == GracefulDegradation {
			m.logger.Warn("Bounded block timed out, degrading gracefully",
				"operation", operation,
				"timeout", timeout.String(),
			)
			return nil
		}
		return errors.NewTimeoutExceeded(operation, timeout, elapsed)

	default:
		m.monitor.RecordOperationFailure(operation, start)
		if m.metrics != nil {
			m.metrics.RecordOperation(operation, "failure", elapsed)
		}
		return err
	}
}

// recordSuccess updates the monitor, the rolling success window, the
// breaker, and the Prometheus metrics for one successful call.
func (m *Manager) recordSuccess(operation string, start time.Time, elapsed time.Duration) {
	m.monitor.RecordOperationSuccess(operation, start)

	m.mu.Lock()
	window := append(m.successTimes[operation], elapsed)
	if len(window) > statsWindow {
		window = window[len(window)-statsWindow:]
	}
	m.successTimes[operation] = window
	m.breakerSuccessLocked(operation)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordOperation(operation, "success", elapsed)
	}
}

// recordTimeout updates the monitor, the breaker, and the Prometheus
// metrics for one deadline overrun.
func (m *Manager) recordTimeout(operation string, start time.Time, timeout, elapsed time.Duration, cause error) {
	m.monitor.RecordOperationTimeout(operation, start, timeout, cause.Error())
	m.monitor.RecordOperationFailure(operation, start)

	m.mu.Lock()
	m.breakerFailureLocked(operation, time.Now())
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordTimeout(operation)
		m.metrics.RecordOperation(operation, "timeout", elapsed)
	}
}

// isTimeoutCondition reports whether an error is a deadline overrun, a
// cancellation, or an explicit timeout raised inside the bounded block.
func isTimeoutCondition(err error) bool {
	return stderrors.Is(err, context.DeadlineExceeded) ||
		stderrors.Is(err, context.Canceled) ||
		errors.IsTimeoutExceeded(err)
}

const statsWindow = 100

// Stats summarizes the rolling success-duration window for one operation
type Stats struct {
	Count       int64         `json:"count"`
	AvgTime     time.Duration `json:"avg_time"`
	MinTime     time.Duration `json:"min_time"`
	MaxTime     time.Duration `json:"max_time"`
	SuccessRate float64       `json:"success_rate"`
}

// GetStats returns timing statistics for an operation derived from its
// rolling success window. An unrecorded operation yields zero values.
func (m *Manager) GetStats(operation string) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := m.successTimes[operation]
	stats := Stats{Count: int64(len(window))}
	if len(window) == 0 {
		return stats
	}

	var total time.Duration
	stats.MinTime = window[0]
	for _, d := range window {
		total += d
		if d < stats.MinTime {
			stats.MinTime = d
		}
		if d > stats.MaxTime {
			stats.MaxTime = d
		}
	}
	stats.AvgTime = total / time.Duration(len(window))

	failures := 0
	if b, ok := m.breakers[operation]; ok {
		failures = b.failureCount
	}
	stats.SuccessRate = float64(len(window)) / float64(len(window)+failures)

	return stats
}
