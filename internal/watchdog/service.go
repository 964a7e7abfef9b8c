package watchdog

import (
	"bytes"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// ServiceState represents the lifecycle state of a supervised service
type ServiceState int

const (
	// StateStopped - the service is not running
	StateStopped ServiceState = iota
	// StateStarting - the service process is being spawned and verified
	StateStarting
	// StateRunning - the service is up and considered live
	StateRunning
	// StateStopping - an orderly shutdown is in progress
	StateStopping
	// StateFailed - startup, health check, or the process itself failed
	StateFailed
	// StateTimeout - a lifecycle call exceeded its deadline
	StateTimeout
)

func (s ServiceState) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateFailed:
		return "FAILED"
	case StateTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// ServiceConfig is the immutable descriptor of a supervised service
type ServiceConfig struct {
	Name                     string        `json:"name"`
	Command                  []string      `json:"command"`
	HealthCheckURL           string        `json:"health_check_url,omitempty"`
	HealthCheckTimeout       time.Duration `json:"health_check_timeout"`
	StartupTimeout           time.Duration `json:"startup_timeout"`
	ShutdownTimeout          time.Duration `json:"shutdown_timeout"`
	MaxRestarts              int           `json:"max_restarts"`
	RestartDelay             time.Duration `json:"restart_delay"`
	RestartBackoffMultiplier float64       `json:"restart_backoff_multiplier"`
	MaxRestartDelay          time.Duration `json:"max_restart_delay"`
}

// withDefaults fills unset fields with sensible defaults
func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.HealthCheckTimeout <= 0 {
		c.HealthCheckTimeout = 5 * time.Second
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = 2 * time.Second
	}
	if c.RestartBackoffMultiplier <= 0 {
		c.RestartBackoffMultiplier = 2.0
	}
	if c.MaxRestartDelay <= 0 {
		c.MaxRestartDelay = 60 * time.Second
	}
	return c
}

// process wraps a spawned child. The watchdog holds it only to poll
// liveness and send signals; it is never duplicated.
type process struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
	done   chan struct{}

	waitErr error
}

// spawn starts the service command detached in its own session so parent
// signals do not auto-propagate. Stdout and stderr are captured, not
// streamed live.
func spawn(command []string) (*process, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	p := &process{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

// pid returns the process ID, or 0 if the process never started
func (p *process) pid() int {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// exited reports whether the child has terminated
func (p *process) exited() bool {
	if p == nil {
		return true
	}
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// waitExit blocks until the child terminates or the timeout elapses
func (p *process) waitExit(timeout time.Duration) bool {
	select {
	case <-p.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// exitMessage derives a human-readable message from the exit status
func (p *process) exitMessage() string {
	if p == nil || p.cmd == nil || p.cmd.ProcessState == nil {
		return "Process exited"
	}
	if code := p.cmd.ProcessState.ExitCode(); code >= 0 {
		return fmt.Sprintf("Process exited with code %d", code)
	}
	return fmt.Sprintf("Process terminated: %v", p.cmd.ProcessState)
}

// terminate sends SIGTERM to the process group
func (p *process) terminate() error {
	if pid := p.pid(); pid > 0 {
		return syscall.Kill(-pid, syscall.SIGTERM)
	}
	return nil
}

// kill sends SIGKILL to the process group
func (p *process) kill() error {
	if pid := p.pid(); pid > 0 {
		return syscall.Kill(-pid, syscall.SIGKILL)
	}
	return nil
}

// ServiceStatus is the mutable per-service record, exclusively owned and
// mutated by the Watchdog.
type ServiceStatus struct {
	Name                string
	State               ServiceState
	LastStartTime       time.Time
	RestartCount        int
	ConsecutiveFailures int
	HealthCheckFailures int
	LastError           string

	proc *process
}

// IsHealthy reports whether the service is running, its process is alive,
// and health checks have not repeatedly failed.
func (s *ServiceStatus) IsHealthy() bool {
	return s.State == StateRunning && s.proc != nil && !s.proc.exited() && s.HealthCheckFailures < 3
}

// Uptime returns the time since the last start while Running, else zero
func (s *ServiceStatus) Uptime() time.Duration {
	if s.State != StateRunning || s.LastStartTime.IsZero() {
		return 0
	}
	return time.Since(s.LastStartTime)
}

// StatusSnapshot is a read-only copy of a service's status
type StatusSnapshot struct {
	Name                string        `json:"name"`
	State               ServiceState  `json:"-"`
	StateName           string        `json:"state"`
	Healthy             bool          `json:"healthy"`
	Uptime              time.Duration `json:"uptime"`
	PID                 int           `json:"pid,omitempty"`
	LastStartTime       time.Time     `json:"last_start_time,omitempty"`
	RestartCount        int           `json:"restart_count"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	HealthCheckFailures int           `json:"health_check_failures"`
	LastError           string        `json:"last_error,omitempty"`
}

func (s *ServiceStatus) snapshot() StatusSnapshot {
	return StatusSnapshot{
		Name:                s.Name,
		State:               s.State,
		StateName:           s.State.String(),
		Healthy:             s.IsHealthy(),
		Uptime:              s.Uptime(),
		PID:                 s.proc.pid(),
		LastStartTime:       s.LastStartTime,
		RestartCount:        s.RestartCount,
		ConsecutiveFailures: s.ConsecutiveFailures,
		HealthCheckFailures: s.HealthCheckFailures,
		LastError:           s.LastError,
	}
}
