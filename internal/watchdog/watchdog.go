package watchdog

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devharness/devharness/pkg/audit"
	"github.com/devharness/devharness/pkg/config"
	"github.com/devharness/devharness/pkg/errors"
	"github.com/devharness/devharness/pkg/health"
	"github.com/devharness/devharness/pkg/logging"
	"github.com/devharness/devharness/pkg/metrics"
	"github.com/devharness/devharness/pkg/resilience"
)

const (
	// startupGracePeriod is how long a freshly spawned process must survive
	// before it is considered started at all
	startupGracePeriod = 1 * time.Second

	// termWait is how long an orderly SIGTERM is given before escalation
	termWait = 5 * time.Second

	// killWait is how long SIGKILL is given to take effect
	killWait = 2 * time.Second
)

// Watchdog supervises long-running development services: it spawns them
// detached, verifies they come up, polls their liveness on an interval, and
// restarts crashed services with exponential backoff. Every lifecycle call
// is bounded through the resilience manager.
type Watchdog struct {
	cfg     config.WatchdogConfig
	manager *resilience.Manager
	metrics *metrics.Metrics
	audit   *audit.Logger
	logger  *logging.Logger

	mu       sync.Mutex
	services map[string]ServiceConfig
	statuses map[string]*ServiceStatus
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Option configures a Watchdog
type Option func(*Watchdog)

// WithMetrics attaches Prometheus metrics to the watchdog
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watchdog) { w.metrics = m }
}

// WithLogger attaches a logger to the watchdog
func WithLogger(l *logging.Logger) Option {
	return func(w *Watchdog) { w.logger = l }
}

// NewWatchdog creates a watchdog whose lifecycle calls are bounded by the
// given resilience manager and whose process actions are audit-logged.
func NewWatchdog(cfg config.WatchdogConfig, manager *resilience.Manager, auditLogger *audit.Logger, opts ...Option) *Watchdog {
	w := &Watchdog{
		cfg:      cfg,
		manager:  manager,
		audit:    auditLogger,
		logger:   logging.GetLogger(),
		services: make(map[string]ServiceConfig),
		statuses: make(map[string]*ServiceStatus),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// DefaultServices returns the built-in set of supervised development
// services registered when the watchdog starts.
func DefaultServices() []ServiceConfig {
	return []ServiceConfig{
		{
			Name:           "semantic_search",
			Command:        []string{"devharness-search", "serve"},
			HealthCheckURL: "http://127.0.0.1:8765/health",
			StartupTimeout: 30 * time.Second,
			MaxRestarts:    5,
		},
		{
			Name:           "plugin_host",
			Command:        []string{"devharness-plugins", "serve"},
			HealthCheckURL: "http://127.0.0.1:8766/health",
			StartupTimeout: 30 * time.Second,
			MaxRestarts:    5,
		},
	}
}

// AddService registers a service for supervision in the Stopped state.
// Re-registering an existing name is rejected.
func (w *Watchdog) AddService(cfg ServiceConfig) error {
	if cfg.Name == "" {
		return errors.NewValidationError("service name is required")
	}
	if len(cfg.Command) == 0 {
		return errors.NewValidationError("service command is required")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.services[cfg.Name]; exists {
		return errors.NewConflictError(fmt.Sprintf("service %s is already registered", cfg.Name))
	}

	w.services[cfg.Name] = cfg.withDefaults()
	w.statuses[cfg.Name] = &ServiceStatus{
		Name:  cfg.Name,
		State: StateStopped,
	}

	w.logger.Info("Service registered",
		"service", cfg.Name,
		"command", cfg.Command[0],
	)

	return nil
}

// RemoveService stops a service if it is running and deregisters it
func (w *Watchdog) RemoveService(ctx context.Context, name string) error {
	w.mu.Lock()
	status, exists := w.statuses[name]
	w.mu.Unlock()
	if !exists {
		return errors.NewNotFoundError(fmt.Sprintf("service %s", name))
	}

	if status.State == StateRunning || status.State == StateStarting {
		if err := w.StopService(ctx, name); err != nil {
			w.logger.Warn("Failed to stop service before removal",
				"service", name,
				"error", err.Error(),
			)
		}
	}

	w.mu.Lock()
	delete(w.services, name)
	delete(w.statuses, name)
	w.mu.Unlock()

	w.logger.Info("Service removed", "service", name)
	return nil
}

// StartService spawns a registered service, waits out a short grace period,
// and verifies the process survived it. When a health check URL is
// configured the endpoint must answer 200 before the service counts as
// Running. The whole sequence is bounded by the service's startup timeout.
func (w *Watchdog) StartService(ctx context.Context, name string) error {
	w.mu.Lock()
	cfg, exists := w.services[name]
	w.mu.Unlock()
	if !exists {
		return errors.NewNotFoundError(fmt.Sprintf("service %s", name))
	}

	_, err := w.manager.WithTimeout(ctx, "service_start", func(ctx context.Context) (interface{}, error) {
		return nil, w.startOnce(ctx, cfg)
	}, &resilience.CallOptions{Timeout: cfg.StartupTimeout})

	if err != nil {
		if errors.IsTimeoutExceeded(err) {
			w.setState(name, StateTimeout, fmt.Sprintf("Startup timed out after %s", cfg.StartupTimeout))
		}
		return err
	}

	return nil
}

// startOnce performs one startup attempt. Called under the startup deadline.
func (w *Watchdog) startOnce(ctx context.Context, cfg ServiceConfig) error {
	w.mu.Lock()
	status := w.statuses[cfg.Name]
	if status == nil {
		w.mu.Unlock()
		return errors.NewNotFoundError(fmt.Sprintf("service %s", cfg.Name))
	}
	if status.State == StateRunning || status.State == StateStarting {
		w.mu.Unlock()
		return errors.NewConflictError(fmt.Sprintf("service %s is already %s", cfg.Name, status.State))
	}
	status.State = StateStarting
	status.LastStartTime = time.Now()
	status.LastError = ""
	w.mu.Unlock()
	w.updateStateMetric(cfg.Name, StateStarting)

	w.logger.Info("Starting service",
		"service", cfg.Name,
		"command", cfg.Command,
	)

	// Audit record first so the spawn attempt is traceable even if it fails
	w.audit.LogProcessSpawn(ctx, cfg.Name, cfg.Command, "supervised development service")

	proc, err := spawn(cfg.Command)
	if err != nil {
		w.failService(cfg.Name, fmt.Sprintf("Failed to spawn process: %v", err))
		return errors.NewServiceError(cfg.Name, "failed to spawn process").WithCause(err)
	}

	w.mu.Lock()
	status.proc = proc
	w.mu.Unlock()

	select {
	case <-time.After(startupGracePeriod):
	case <-ctx.Done():
		proc.kill()
		w.failService(cfg.Name, "Startup cancelled")
		return ctx.Err()
	}

	if proc.exited() {
		w.failService(cfg.Name, "Process exited immediately")
		w.logger.Error("Service process exited immediately",
			"service", cfg.Name,
			"exit", proc.exitMessage(),
			"stderr", proc.stderr.String(),
		)
		return errors.NewServiceError(cfg.Name, "Process exited immediately")
	}

	if cfg.HealthCheckURL != "" {
		checker := health.NewHTTPChecker(cfg.HealthCheckURL, cfg.Name, cfg.HealthCheckTimeout)
		check := checker.Check(ctx)

		if w.metrics != nil {
			w.metrics.RecordServiceHealthCheck(cfg.Name, string(check.Status))
		}

		if check.Status != health.StatusHealthy {
			w.mu.Lock()
			status.HealthCheckFailures++
			w.mu.Unlock()

			proc.terminate()
			proc.waitExit(termWait)
			proc.kill()

			w.failService(cfg.Name, "Health check failed")
			w.logger.Error("Service failed startup health check",
				"service", cfg.Name,
				"url", cfg.HealthCheckURL,
				"error", check.Error,
			)
			return errors.NewServiceError(cfg.Name, "Health check failed")
		}
	}

	w.mu.Lock()
	status.State = StateRunning
	status.ConsecutiveFailures = 0
	status.HealthCheckFailures = 0
	w.mu.Unlock()
	w.updateStateMetric(cfg.Name, StateRunning)

	w.logger.LogServiceEvent(ctx, "started", cfg.Name, logrus.Fields{"pid": proc.pid()})

	return nil
}

// StopService performs an orderly shutdown: SIGTERM to the process group,
// a bounded wait, then SIGKILL if the process lingers. The service ends in
// Stopped regardless of how cooperative the process was.
func (w *Watchdog) StopService(ctx context.Context, name string) error {
	w.mu.Lock()
	cfg, exists := w.services[name]
	if !exists {
		w.mu.Unlock()
		return errors.NewNotFoundError(fmt.Sprintf("service %s", name))
	}
	status := w.statuses[name]
	proc := status.proc
	if proc == nil || proc.exited() {
		status.State = StateStopped
		status.proc = nil
		w.mu.Unlock()
		w.updateStateMetric(name, StateStopped)
		return nil
	}
	status.State = StateStopping
	w.mu.Unlock()
	w.updateStateMetric(name, StateStopping)

	_, err := w.manager.WithTimeout(ctx, "service_stop", func(ctx context.Context) (interface{}, error) {
		w.audit.LogProcessStop(ctx, name, proc.pid())

		if err := proc.terminate(); err != nil {
			w.logger.Warn("Failed to signal service",
				"service", name,
				"error", err.Error(),
			)
		}

		if !proc.waitExit(termWait) {
			w.audit.LogProcessKill(ctx, name, proc.pid())
			proc.kill()
			if !proc.waitExit(killWait) {
				w.logger.Error("Service process survived SIGKILL",
					"service", name,
					"pid", proc.pid(),
				)
			}
		}
		return nil, nil
	}, &resilience.CallOptions{Timeout: cfg.ShutdownTimeout})

	w.mu.Lock()
	status.State = StateStopped
	status.proc = nil
	w.mu.Unlock()
	w.updateStateMetric(name, StateStopped)

	w.logger.LogServiceEvent(ctx, "stopped", name, nil)
	return err
}

// StartWatchdog registers the default services, installs signal handlers for
// orderly shutdown, and launches the background monitor loop.
func (w *Watchdog) StartWatchdog(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.NewConflictError("watchdog is already running")
	}
	w.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	for _, cfg := range DefaultServices() {
		if err := w.AddService(cfg); err != nil {
			if !errors.IsType(err, errors.ErrorTypeConflict) {
				w.logger.Warn("Failed to register default service",
					"service", cfg.Name,
					"error", err.Error(),
				)
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case sig := <-sigCh:
			w.logger.Info("Received shutdown signal", "signal", sig.String())
			w.StopWatchdog(context.Background())
		case <-loopCtx.Done():
		}
		signal.Stop(sigCh)
	}()

	w.wg.Add(1)
	go w.monitorLoop(loopCtx)

	w.audit.Log(ctx, audit.Event{
		EventType: audit.EventTypeWatchdogStarted,
		Message:   "Watchdog started",
	})
	w.logger.Info("Watchdog started",
		"monitor_interval", w.cfg.MonitorInterval.String(),
	)

	return nil
}

// StopWatchdog stops the monitor loop and then stops every supervised
// service concurrently, best-effort. Safe to call more than once.
func (w *Watchdog) StopWatchdog(ctx context.Context) {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	names := make([]string, 0, len(w.services))
	for name := range w.services {
		names = append(names, name)
	}
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var stopWG sync.WaitGroup
	for _, name := range names {
		stopWG.Add(1)
		go func(name string) {
			defer stopWG.Done()
			if err := w.StopService(ctx, name); err != nil {
				w.logger.Warn("Failed to stop service during shutdown",
					"service", name,
					"error", err.Error(),
				)
			}
		}(name)
	}
	stopWG.Wait()

	w.wg.Wait()

	w.audit.Log(ctx, audit.Event{
		EventType: audit.EventTypeWatchdogStopped,
		Message:   "Watchdog stopped",
	})
	w.logger.Info("Watchdog stopped")
}

// monitorLoop periodically scans supervised services for dead processes.
// Each scan is bounded through the resilience manager with graceful
// degradation so a slow scan is logged and dropped rather than wedging the
// loop. Scan errors back the loop off before the next tick.
func (w *Watchdog) monitorLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := w.manager.Bounded(ctx, "watchdog_scan", func(ctx context.Context) error {
			return w.scanOnce(ctx)
		}, &resilience.CallOptions{
			Timeout:  w.cfg.MonitorTimeout,
			Strategy: resilience.GracefulDegradation,
		})

		if err != nil {
			w.logger.LogError(ctx, err, "Watchdog scan failed, backing off", logrus.Fields{
				"backoff": w.cfg.ErrorBackoff.String(),
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.ErrorBackoff):
			}
		}
	}
}

// scanOnce checks every Running service for an exited process and applies
// the restart policy to the ones that died.
func (w *Watchdog) scanOnce(ctx context.Context) error {
	w.mu.Lock()
	type dead struct {
		cfg    ServiceConfig
		status *ServiceStatus
		msg    string
	}
	var crashed []dead
	for name, status := range w.statuses {
		if status.State != StateRunning {
			continue
		}
		if status.proc.exited() {
			crashed = append(crashed, dead{
				cfg:    w.services[name],
				status: status,
				msg:    status.proc.exitMessage(),
			})
		}
	}
	w.mu.Unlock()

	for _, d := range crashed {
		w.failService(d.cfg.Name, d.msg)
		w.logger.Error("Supervised service died",
			"service", d.cfg.Name,
			"exit", d.msg,
			"restart_count", d.status.RestartCount,
		)
		w.scheduleRestart(ctx, d.cfg)
	}

	return nil
}

// scheduleRestart restarts a crashed service after a backoff delay of
// min(restart_delay * multiplier^restarts, max_restart_delay), as long as
// the restart budget is not exhausted and the watchdog is still running.
func (w *Watchdog) scheduleRestart(ctx context.Context, cfg ServiceConfig) {
	w.mu.Lock()
	status := w.statuses[cfg.Name]
	if status == nil || !w.running {
		w.mu.Unlock()
		return
	}
	if status.RestartCount >= cfg.MaxRestarts {
		w.mu.Unlock()
		w.logger.Error("Service exhausted restart budget",
			"service", cfg.Name,
			"max_restarts", cfg.MaxRestarts,
		)
		return
	}
	attempt := status.RestartCount
	status.RestartCount++
	w.mu.Unlock()

	delay := time.Duration(float64(cfg.RestartDelay) * math.Pow(cfg.RestartBackoffMultiplier, float64(attempt)))
	if delay > cfg.MaxRestartDelay {
		delay = cfg.MaxRestartDelay
	}

	w.logger.Info("Scheduling service restart",
		"service", cfg.Name,
		"attempt", attempt+1,
		"delay", delay.String(),
	)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if w.metrics != nil {
			w.metrics.RecordServiceRestart(cfg.Name)
		}

		if err := w.StartService(ctx, cfg.Name); err != nil {
			w.logger.Error("Service restart failed",
				"service", cfg.Name,
				"error", err.Error(),
			)
		}
	}()
}

// failService marks a service Failed, recording the reason
func (w *Watchdog) failService(name, reason string) {
	w.mu.Lock()
	if status := w.statuses[name]; status != nil {
		status.State = StateFailed
		status.LastError = reason
		status.ConsecutiveFailures++
		status.proc = nil
	}
	w.mu.Unlock()
	w.updateStateMetric(name, StateFailed)
}

// setState updates a service's state and last error
func (w *Watchdog) setState(name string, state ServiceState, reason string) {
	w.mu.Lock()
	if status := w.statuses[name]; status != nil {
		status.State = state
		if reason != "" {
			status.LastError = reason
		}
	}
	w.mu.Unlock()
	w.updateStateMetric(name, state)
}

func (w *Watchdog) updateStateMetric(name string, state ServiceState) {
	if w.metrics != nil {
		w.metrics.UpdateServiceState(name, int(state))
	}
}

// GetServiceStatus returns a snapshot of one service's status
func (w *Watchdog) GetServiceStatus(name string) (StatusSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	status, exists := w.statuses[name]
	if !exists {
		return StatusSnapshot{}, errors.NewNotFoundError(fmt.Sprintf("service %s", name))
	}
	return status.snapshot(), nil
}

// GetAllServicesStatus returns snapshots of every registered service
func (w *Watchdog) GetAllServicesStatus() map[string]StatusSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snapshots := make(map[string]StatusSnapshot, len(w.statuses))
	for name, status := range w.statuses {
		snapshots[name] = status.snapshot()
	}
	return snapshots
}

// WriteStatusReport writes a human-readable status table of every service
func (w *Watchdog) WriteStatusReport(out io.Writer) error {
	snapshots := w.GetAllServicesStatus()

	names := make([]string, 0, len(snapshots))
	for name := range snapshots {
		names = append(names, name)
	}
	sort.Strings(names)

	if _, err := fmt.Fprintf(out, "%-24s %-10s %-12s %-8s %s\n",
		"SERVICE", "STATE", "UPTIME", "RESTARTS", "LAST ERROR"); err != nil {
		return err
	}

	for _, name := range names {
		s := snapshots[name]
		uptime := "-"
		if s.Uptime > 0 {
			uptime = s.Uptime.Round(time.Second).String()
		}
		if _, err := fmt.Fprintf(out, "%-24s %-10s %-12s %-8d %s\n",
			s.Name, s.StateName, uptime, s.RestartCount, s.LastError); err != nil {
			return err
		}
	}

	return nil
}
