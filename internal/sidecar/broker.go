package sidecar

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/brokerlink/internal/infrastructure/config"
)

// Status represents the current state of the sidecar broker.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

const (
	// maxHealthFailures is the number of consecutive failed probes before
	// the watchdog kills the broker.
	maxHealthFailures = 3

	probeTimeout    = 2 * time.Second
	readyPollPeriod = 100 * time.Millisecond
	gracefulTimeout = 10 * time.Second
	killWaitTimeout = 5 * time.Second
)

// Config holds the settings for a supervised broker process.
type Config struct {
	Binary  string
	Args    []string
	WorkDir string

	// Env are additional environment variables (key=value format).
	Env []string

	// Host and Port are where the broker accepts MQTT connections.
	Host string
	Port int

	ReadyTimeout   time.Duration
	RestartDelay   time.Duration
	MaxRestarts    int
	HealthInterval time.Duration
	StopTimeout    time.Duration
}

// FromConfig converts the YAML sidecar section.
func FromConfig(c config.SidecarConfig) Config {
	return Config{
		Binary:         c.Binary,
		Args:           c.Args,
		WorkDir:        c.WorkDir,
		Host:           c.Host,
		Port:           c.Port,
		ReadyTimeout:   time.Duration(c.ReadyTimeout) * time.Second,
		RestartDelay:   time.Duration(c.RestartDelay) * time.Second,
		MaxRestarts:    c.MaxRestarts,
		HealthInterval: time.Duration(c.HealthInterval) * time.Second,
	}
}

// Logger defines the logging interface for the sidecar.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Broker supervises a local MQTT broker process. The broker is started in
// its own process group, restarted when it exits unexpectedly and killed
// when its listening port stops answering.
type Broker struct {
	cfg    Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restarts      int
	lastErr       error
	startedAt     time.Time
	stopRequested bool
	stopCh        chan struct{}
	done          chan struct{}
}

// New creates a broker supervisor. Zero durations fall back to defaults.
func New(cfg Config) *Broker {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = gracefulTimeout
	}
	return &Broker{
		cfg:    cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the broker supervisor.
func (b *Broker) SetLogger(logger Logger) {
	b.logger = logger
}

// Address returns the host:port the broker listens on.
func (b *Broker) Address() string {
	return net.JoinHostPort(b.cfg.Host, strconv.Itoa(b.cfg.Port))
}

// Overrides returns the endpoint entry for the local broker, ready to be
// appended to the cluster endpoint list.
func (b *Broker) Overrides() config.EndpointOverrides {
	return config.WithEndpoint(b.cfg.Host, b.cfg.Port)
}

// Start launches the broker and blocks until its port accepts connections
// or ReadyTimeout elapses. A broker that never becomes ready is stopped and
// ErrNotReady is returned.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.status == StatusRunning || b.status == StatusStarting || b.monitoring() {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	b.status = StatusStarting
	b.stopRequested = false
	b.restarts = 0
	stop := make(chan struct{})
	done := make(chan struct{})
	b.stopCh = stop
	b.done = done
	b.mu.Unlock()

	if err := b.spawn(ctx); err != nil {
		b.mu.Lock()
		b.status = StatusFailed
		b.lastErr = err
		close(done)
		b.mu.Unlock()
		return err
	}

	go b.monitor(ctx, stop, done)

	if err := b.waitReady(ctx); err != nil {
		b.Stop() //nolint:errcheck // Best effort cleanup, readiness error wins
		b.mu.Lock()
		b.status = StatusFailed
		b.lastErr = err
		b.mu.Unlock()
		return err
	}

	b.logger.Info("sidecar broker ready", "address", b.Address())
	return nil
}

// monitoring reports whether a monitor goroutine is still alive, including
// while it waits to restart. Callers hold b.mu.
func (b *Broker) monitoring() bool {
	if b.done == nil {
		return false
	}
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

// spawn starts one broker process.
func (b *Broker) spawn(ctx context.Context) error {
	b.logger.Info("starting sidecar broker", "binary", b.cfg.Binary, "args", b.cfg.Args)

	cmd := exec.CommandContext(ctx, b.cfg.Binary, b.cfg.Args...) //nolint:gosec // Binary comes from operator config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = b.cfg.StopTimeout
	if b.cfg.Env != nil {
		cmd.Env = append(os.Environ(), b.cfg.Env...)
	}
	if b.cfg.WorkDir != "" {
		cmd.Dir = b.cfg.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", b.cfg.Binary, err)
	}

	b.mu.Lock()
	b.cmd = cmd
	b.status = StatusRunning
	b.startedAt = time.Now()
	b.mu.Unlock()

	go b.captureOutput("stdout", stdout)
	go b.captureOutput("stderr", stderr)

	b.logger.Info("sidecar broker started", "pid", cmd.Process.Pid)
	return nil
}

// captureOutput logs the broker's output one line at a time.
func (b *Broker) captureOutput(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		b.logger.Debug("sidecar output", "stream", stream, "line", sc.Text())
	}
}

// waitReady polls the broker port until it accepts a connection.
func (b *Broker) waitReady(ctx context.Context) error {
	deadline := time.NewTimer(b.cfg.ReadyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(readyPollPeriod)
	defer ticker.Stop()

	for {
		if b.HealthCheck(ctx) == nil {
			return nil
		}
		b.mu.RLock()
		status := b.status
		b.mu.RUnlock()
		if status != StatusRunning {
			return fmt.Errorf("%w: process exited during startup", ErrNotReady)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s not accepting connections after %s", ErrNotReady, b.Address(), b.cfg.ReadyTimeout)
		case <-ticker.C:
		}
	}
}

// HealthCheck dials the broker port.
func (b *Broker) HealthCheck(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", b.Address())
	if err != nil {
		return fmt.Errorf("sidecar broker unreachable: %w", err)
	}
	return conn.Close()
}

// waitForExitOrUnhealthy waits for the process to exit or for the watchdog
// to give up on it. An unhealthy broker is killed.
func (b *Broker) waitForExitOrUnhealthy(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() {
		exitCh <- cmd.Wait()
	}()

	ticker := time.NewTicker(b.cfg.HealthInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exitCh:
			return err

		case <-ctx.Done():
			return <-exitCh

		case <-ticker.C:
			if err := b.HealthCheck(ctx); err != nil {
				failures++
				b.logger.Warn("sidecar health check failed", "error", err, "consecutive_failures", failures)
				if failures < maxHealthFailures {
					continue
				}

				b.logger.Error("sidecar unhealthy, killing process", "failures", failures)
				if cmd.Process != nil {
					cmd.Process.Kill() //nolint:errcheck // Exit is observed via Wait
				}
				select {
				case <-exitCh:
					return fmt.Errorf("%w after %d failed probes", ErrUnhealthy, failures)
				case <-time.After(killWaitTimeout):
					return fmt.Errorf("%w: process did not exit after kill", ErrUnhealthy)
				}
			}
			if failures > 0 {
				b.logger.Info("sidecar health recovered", "previous_failures", failures)
			}
			failures = 0
		}
	}
}

// monitor watches the broker and restarts it after unexpected exits.
func (b *Broker) monitor(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		b.mu.RLock()
		cmd := b.cmd
		b.mu.RUnlock()

		err := b.waitForExitOrUnhealthy(ctx, cmd)

		b.mu.Lock()
		stopRequested := b.stopRequested
		if stopRequested || ctx.Err() != nil {
			b.status = StatusStopped
			b.mu.Unlock()
			b.logger.Info("sidecar broker stopped")
			return
		}
		b.lastErr = err
		b.status = StatusFailed
		b.restarts++
		attempt := b.restarts
		b.mu.Unlock()

		b.logger.Warn("sidecar broker exited unexpectedly", "error", err)

		if b.cfg.MaxRestarts > 0 && attempt > b.cfg.MaxRestarts {
			b.logger.Error("sidecar restart limit reached", "attempts", attempt-1)
			return
		}

		b.logger.Info("restarting sidecar broker", "attempt", attempt, "delay", b.cfg.RestartDelay)
		for {
			select {
			case <-ctx.Done():
				b.setStatus(StatusStopped)
				return
			case <-stop:
				b.setStatus(StatusStopped)
				return
			case <-time.After(b.cfg.RestartDelay):
			}

			spawnErr := b.spawn(ctx)
			if spawnErr == nil {
				break
			}
			b.logger.Error("failed to restart sidecar broker", "error", spawnErr)

			b.mu.Lock()
			b.lastErr = spawnErr
			b.restarts++
			attempt = b.restarts
			b.mu.Unlock()
			if b.cfg.MaxRestarts > 0 && attempt > b.cfg.MaxRestarts {
				b.logger.Error("sidecar restart limit reached", "attempts", attempt-1)
				return
			}
		}
	}
}

func (b *Broker) setStatus(s Status) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

// Stop sends SIGTERM to the broker's process group, then SIGKILL after
// StopTimeout. It returns once the monitor has exited.
func (b *Broker) Stop() error {
	b.mu.Lock()
	if !b.stopRequested && b.stopCh != nil {
		close(b.stopCh)
	}
	b.stopRequested = true
	cmd := b.cmd
	done := b.done
	b.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}
	if cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	b.logger.Info("stopping sidecar broker", "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		b.logger.Warn("failed to send SIGTERM to sidecar", "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(b.cfg.StopTimeout):
		b.logger.Warn("sidecar did not stop in time, sending SIGKILL", "timeout", b.cfg.StopTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing sidecar process group: %w", err)
	}
	<-done
	return nil
}

// Stats is a point-in-time view of the sidecar.
type Stats struct {
	Address  string        `json:"address"`
	Status   Status        `json:"status"`
	PID      int           `json:"pid,omitempty"`
	Uptime   time.Duration `json:"uptime,omitempty"`
	Restarts int           `json:"restarts"`
	LastErr  string        `json:"last_error,omitempty"`
}

// Status returns the current state of the broker process.
func (b *Broker) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Stats returns current statistics for the broker process.
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{
		Address:  b.Address(),
		Status:   b.status,
		Restarts: b.restarts,
	}
	if b.cmd != nil && b.cmd.Process != nil {
		st.PID = b.cmd.Process.Pid
	}
	if b.status == StatusRunning {
		st.Uptime = time.Since(b.startedAt)
	}
	if b.lastErr != nil {
		st.LastErr = b.lastErr.Error()
	}
	return st
}
