package resilience

import (
	"context"
	"math"
	"time"
)

// withRetry repeats deadline-bounded attempts of an operation with
// exponential backoff. The first attempt runs immediately; up to MaxRetries
// further attempts follow, each preceded by a delay of
// min(base * multiplier^k, max) for retry index k. Every attempt is
// individually recorded; the final error is surfaced once attempts are
// exhausted.
func (m *Manager) withRetry(ctx context.Context, operation string, fn Operation, timeout time.Duration) (interface{}, error) {
	var lastErr error

	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := m.retryDelay(attempt - 1)

			m.logger.Warn("Operation failed, retrying",
				"operation", operation,
				"attempt", attempt,
				"max_retries", m.config.MaxRetries,
				"delay", delay.String(),
				"error", lastErr.Error(),
			)
			if m.metrics != nil {
				m.metrics.RecordRetry(operation)
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := m.executeOnce(ctx, operation, fn, timeout, RetryWithBackoff)
		if err == nil {
			if attempt > 0 {
				m.logger.WithOperation(operation).
					WithField("attempt", attempt).
					Info("Operation succeeded after retry")
			}
			return result, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, lastErr
		}
	}

	m.logger.Error("Operation failed after all retry attempts",
		"operation", operation,
		"attempts", m.config.MaxRetries+1,
		"error", lastErr.Error(),
	)

	return nil, lastErr
}

// retryDelay computes the backoff delay for the given retry index
func (m *Manager) retryDelay(retryIndex int) time.Duration {
	delay := float64(m.config.BaseRetryDelay) * math.Pow(m.config.BackoffMultiplier, float64(retryIndex))
	if delay > float64(m.config.MaxRetryDelay) {
		delay = float64(m.config.MaxRetryDelay)
	}
	return time.Duration(delay)
}
