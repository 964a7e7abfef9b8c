package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/devharness/devharness/pkg/logging"
)

// EventType represents the type of audit event
type EventType string

const (
	// Process lifecycle events
	EventTypeProcessSpawn EventType = "process.spawn"
	EventTypeProcessStop  EventType = "process.stop"
	EventTypeProcessKill  EventType = "process.kill"

	// Watchdog lifecycle events
	EventTypeWatchdogStarted EventType = "watchdog.started"
	EventTypeWatchdogStopped EventType = "watchdog.stopped"
)

// Event represents a single audit log entry
type Event struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	EventType   EventType         `json:"event_type"`
	ServiceName string            `json:"service_name,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Purpose     string            `json:"purpose,omitempty"`
	Result      string            `json:"result"`
	Message     string            `json:"message,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

// Logger emits structured audit records for process supervision actions
type Logger struct {
	logger      *logging.Logger
	serviceName string
}

// NewLogger creates a new audit logger
func NewLogger(logger *logging.Logger, serviceName string) *Logger {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Logger{
		logger:      logger,
		serviceName: serviceName,
	}
}

// Log emits a single audit event
func (l *Logger) Log(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Result == "" {
		event.Result = "success"
	}

	entry := l.logger.WithContext(ctx).WithFields(logrus.Fields{
		"audit":        true,
		"audit_id":     event.ID,
		"event_type":   string(event.EventType),
		"result":       event.Result,
		"audit_source": l.serviceName,
	})

	if event.ServiceName != "" {
		entry = entry.WithField("service_name", event.ServiceName)
	}
	if len(event.Command) > 0 {
		entry = entry.WithField("command", event.Command)
	}
	if event.Purpose != "" {
		entry = entry.WithField("purpose", event.Purpose)
	}
	if len(event.Details) > 0 {
		entry = entry.WithField("details", event.Details)
	}

	if event.Message != "" {
		entry.Info(event.Message)
	} else {
		entry.Info("Audit event")
	}
}

// LogProcessSpawn records the command and purpose of a process about to be
// spawned. Emitted before the spawn so the record exists even if the spawn
// itself fails.
func (l *Logger) LogProcessSpawn(ctx context.Context, serviceName string, command []string, purpose string) {
	l.Log(ctx, Event{
		EventType:   EventTypeProcessSpawn,
		ServiceName: serviceName,
		Command:     command,
		Purpose:     purpose,
		Message:     "Spawning supervised process",
	})
}

// LogProcessStop records an orderly termination request
func (l *Logger) LogProcessStop(ctx context.Context, serviceName string, pid int) {
	l.Log(ctx, Event{
		EventType:   EventTypeProcessStop,
		ServiceName: serviceName,
		Details:     map[string]string{"pid": strconv.Itoa(pid)},
		Message:     "Stopping supervised process",
	})
}

// LogProcessKill records an escalation to SIGKILL
func (l *Logger) LogProcessKill(ctx context.Context, serviceName string, pid int) {
	l.Log(ctx, Event{
		EventType:   EventTypeProcessKill,
		ServiceName: serviceName,
		Details:     map[string]string{"pid": strconv.Itoa(pid)},
		Result:      "escalated",
		Message:     "Killing supervised process after shutdown timeout",
	})
}
