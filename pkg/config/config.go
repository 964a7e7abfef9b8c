package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Timeouts TimeoutConfig  `json:"timeouts"`
	Watchdog WatchdogConfig `json:"watchdog"`
	Perf     PerfConfig     `json:"perf"`
	Logging  LoggingConfig  `json:"logging"`
	Tracing  TracingConfig  `json:"tracing"`
}

// ServerConfig contains the ops HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// TimeoutConfig contains deadline, retry, and circuit breaker parameters
// for bounded operations. It is created once at startup and never mutated.
type TimeoutConfig struct {
	DefaultTimeout    time.Duration            `json:"default_timeout"`
	OperationTimeouts map[string]time.Duration `json:"operation_timeouts"`

	MaxRetries        int           `json:"max_retries"`
	BaseRetryDelay    time.Duration `json:"base_retry_delay"`
	MaxRetryDelay     time.Duration `json:"max_retry_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`

	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	HalfOpenMaxCalls int           `json:"half_open_max_calls"`
}

// WatchdogConfig contains process supervision configuration
type WatchdogConfig struct {
	MonitorInterval time.Duration `json:"monitor_interval"`
	MonitorTimeout  time.Duration `json:"monitor_timeout"`
	ErrorBackoff    time.Duration `json:"error_backoff"`
}

// PerfConfig contains performance monitor configuration
type PerfConfig struct {
	TimeoutEventCapacity int    `json:"timeout_event_capacity"`
	ExportPath           string `json:"export_path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
}

// DefaultTimeoutConfig returns the timeout configuration used when no
// overrides are present in the environment.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		DefaultTimeout: 30 * time.Second,
		OperationTimeouts: map[string]time.Duration{
			"fast_hooks":          60 * time.Second,
			"comprehensive_hooks": 300 * time.Second,
			"test_execution":      600 * time.Second,
			"ai_agent_processing": 180 * time.Second,
			"file_operations":     10 * time.Second,
			"network_operations":  15 * time.Second,
			"workflow_iteration":  900 * time.Second,
			"complete_workflow":   3600 * time.Second,
		},
		MaxRetries:        3,
		BaseRetryDelay:    1 * time.Second,
		MaxRetryDelay:     60 * time.Second,
		BackoffMultiplier: 2.0,
		FailureThreshold:  5,
		RecoveryTimeout:   60 * time.Second,
		HalfOpenMaxCalls:  3,
	}
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	timeouts := DefaultTimeoutConfig()
	timeouts.DefaultTimeout = getEnvDuration("TIMEOUT_DEFAULT", timeouts.DefaultTimeout)
	timeouts.MaxRetries = getEnvInt("RETRY_MAX_ATTEMPTS", timeouts.MaxRetries)
	timeouts.BaseRetryDelay = getEnvDuration("RETRY_BASE_DELAY", timeouts.BaseRetryDelay)
	timeouts.MaxRetryDelay = getEnvDuration("RETRY_MAX_DELAY", timeouts.MaxRetryDelay)
	timeouts.BackoffMultiplier = getEnvFloat("RETRY_BACKOFF_MULTIPLIER", timeouts.BackoffMultiplier)
	timeouts.FailureThreshold = getEnvInt("BREAKER_FAILURE_THRESHOLD", timeouts.FailureThreshold)
	timeouts.RecoveryTimeout = getEnvDuration("BREAKER_RECOVERY_TIMEOUT", timeouts.RecoveryTimeout)
	timeouts.HalfOpenMaxCalls = getEnvInt("BREAKER_HALF_OPEN_MAX_CALLS", timeouts.HalfOpenMaxCalls)

	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "127.0.0.1"),
			Port:         getEnvInt("SERVER_PORT", 8730),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Timeouts: timeouts,
		Watchdog: WatchdogConfig{
			MonitorInterval: getEnvDuration("WATCHDOG_MONITOR_INTERVAL", 10*time.Second),
			MonitorTimeout:  getEnvDuration("WATCHDOG_MONITOR_TIMEOUT", 30*time.Second),
			ErrorBackoff:    getEnvDuration("WATCHDOG_ERROR_BACKOFF", 30*time.Second),
		},
		Perf: PerfConfig{
			TimeoutEventCapacity: getEnvInt("PERF_TIMEOUT_EVENT_CAPACITY", 1000),
			ExportPath:           getEnvString("PERF_EXPORT_PATH", "performance_metrics.json"),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stderr"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("TRACING_JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Timeouts.DefaultTimeout <= 0 {
		return fmt.Errorf("default timeout must be positive")
	}

	if c.Timeouts.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}

	if c.Timeouts.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive")
	}

	if c.Timeouts.HalfOpenMaxCalls <= 0 {
		return fmt.Errorf("breaker half-open max calls must be positive")
	}

	if c.Watchdog.MonitorInterval <= 0 {
		return fmt.Errorf("watchdog monitor interval must be positive")
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
