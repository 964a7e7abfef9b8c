// Package resilience bounds every awaited operation with a deadline,
// isolates persistently failing operations behind per-operation circuit
// breakers, and retries transient failures with exponential backoff.
//
// # Bounded Calls
//
// The Manager enforces a deadline on a single operation and reports the
// outcome to the performance monitor:
//
//	mgr := resilience.NewManager(cfg.Timeouts, monitor)
//	result, err := mgr.WithTimeout(ctx, "test_execution", func(ctx context.Context) (interface{}, error) {
//		return runner.Run(ctx)
//	}, nil)
//
// The deadline is the configured per-operation override, else the default.
// A nil CallOptions means FailFast: a deadline overrun surfaces a
// *errors.TimeoutExceededError carrying the operation, the deadline, and
// the elapsed time.
//
// # Strategies
//
// The closed strategy set {FailFast, RetryWithBackoff, CircuitBreaker,
// GracefulDegradation} is dispatched in a single switch:
//
//	result, err := mgr.WithTimeout(ctx, "network_operations", fetch, &resilience.CallOptions{
//		Strategy: resilience.CircuitBreaker,
//	})
//
// Under CircuitBreaker an open breaker rejects the call with a
// *errors.CircuitOpenError before the operation runs. Under
// GracefulDegradation a deadline overrun yields (nil, nil) - the only
// condition that strategy suppresses. RetryWithBackoff repeats bounded
// attempts with exponential backoff before surfacing the final error.
//
// # Scoped Blocks
//
// Bounded wraps a region of work instead of a single call:
//
//	err := mgr.Bounded(ctx, "workflow_iteration", func(ctx context.Context) error {
//		return step.Execute(ctx)
//	}, nil)
//
// The block observes its deadline through the derived context. Deadlines
// beyond two hours are clamped with a warning.
//
// Every success, failure, and timeout is reported to the performance
// monitor before it is suppressed or surfaced; telemetry is never skipped.
package resilience
