package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()

	logger, err := NewLogger(&Config{
		Level:       "info",
		Format:      "json",
		Output:      "stderr",
		ServiceName: "test-service",
		Version:     "0.0.1",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	return logger, &buf
}

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	return entry
}

func TestNewLogger_Validation(t *testing.T) {
	_, err := NewLogger(&Config{Level: "nope", Format: "json", Output: "stderr"})
	assert.Error(t, err)

	_, err = NewLogger(&Config{Level: "info", Format: "xml", Output: "stderr"})
	assert.Error(t, err)
}

func TestLogger_KeyValuePairs(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	logger.Info("Operation completed", "operation", "fast_hooks", "attempt", 2)

	entry := decodeLogLine(t, buf)
	assert.Equal(t, "Operation completed", entry["message"])
	assert.Equal(t, "test-service", entry["service"])
	assert.Equal(t, "0.0.1", entry["version"])
	assert.Equal(t, "fast_hooks", entry["operation"])
	assert.Equal(t, float64(2), entry["attempt"])
}

func TestLogger_DanglingKeyIsDropped(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	logger.Info("odd pairs", "key", "value", "dangling")

	entry := decodeLogLine(t, buf)
	assert.Equal(t, "value", entry["key"])
	assert.NotContains(t, entry, "dangling")
}

func TestWithComponent(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	logger.WithComponent("http").Info("listening")

	entry := decodeLogLine(t, buf)
	assert.Equal(t, "http", entry["component"])
	assert.Equal(t, "test-service", entry["service"])
}

func TestWithOperation(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	logger.WithOperation("test_execution").Info("succeeded")

	entry := decodeLogLine(t, buf)
	assert.Equal(t, "test_execution", entry["operation"])
}

func TestWithDuration(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	logger.WithDuration(1500 * time.Millisecond).Info("request")

	entry := decodeLogLine(t, buf)
	assert.Equal(t, float64(1500), entry["duration_ms"])
	assert.Equal(t, "1.5s", entry["duration"])
}

func TestLogServiceEvent(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	logger.LogServiceEvent(context.Background(), "started", "semantic_search", logrus.Fields{"pid": 4242})

	entry := decodeLogLine(t, buf)
	assert.Equal(t, "Service event", entry["message"])
	assert.Equal(t, "started", entry["event"])
	assert.Equal(t, "semantic_search", entry["service_name"])
	assert.Equal(t, float64(4242), entry["pid"])
}

func TestLogError(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	logger.LogError(context.Background(), fmt.Errorf("boom"), "scan failed", logrus.Fields{"backoff": "30s"})

	entry := decodeLogLine(t, buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "scan failed", entry["message"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "30s", entry["backoff"])
}

func TestWithContext_CorrelationID(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	id := NewCorrelationID()
	ctx := WithCorrelationID(context.Background(), id)
	require.Equal(t, id, GetCorrelationID(ctx))

	logger.WithContext(ctx).Info("correlated")

	entry := decodeLogLine(t, buf)
	assert.Equal(t, id, entry["correlation_id"])
}
