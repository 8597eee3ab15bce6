package sidecar

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/nerrad567/brokerlink/internal/infrastructure/config"
)

// TestHelperBroker is not a real test. It is re-executed by the tests below
// as a stand-in broker that listens on SIDECAR_ADDR.
func TestHelperBroker(t *testing.T) {
	if os.Getenv("SIDECAR_HELPER") != "1" {
		return
	}

	ln, err := net.Listen("tcp", os.Getenv("SIDECAR_ADDR"))
	if err != nil {
		os.Exit(2)
	}
	go func() {
		for {
			c, acceptErr := ln.Accept()
			if acceptErr != nil {
				return
			}
			c.Close()
		}
	}()

	if d, parseErr := time.ParseDuration(os.Getenv("SIDECAR_CLOSE_AFTER")); parseErr == nil {
		time.AfterFunc(d, func() { ln.Close() })
	}
	if d, parseErr := time.ParseDuration(os.Getenv("SIDECAR_EXIT_AFTER")); parseErr == nil {
		time.AfterFunc(d, func() { os.Exit(1) })
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM)
	<-sig
	os.Exit(0)
}

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// helperConfig runs the test binary as the broker.
func helperConfig(t *testing.T, env ...string) Config {
	t.Helper()
	port := freePort(t)
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	return Config{
		Binary:         os.Args[0],
		Args:           []string{"-test.run=^TestHelperBroker$"},
		Env:            append([]string{"SIDECAR_HELPER=1", "SIDECAR_ADDR=" + addr}, env...),
		Host:           "127.0.0.1",
		Port:           port,
		ReadyTimeout:   5 * time.Second,
		RestartDelay:   50 * time.Millisecond,
		HealthInterval: time.Hour,
		StopTimeout:    2 * time.Second,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{Binary: "mosquitto", Port: 1884})

	if b.cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", b.cfg.Host)
	}
	if b.cfg.ReadyTimeout != 10*time.Second {
		t.Errorf("ReadyTimeout = %v, want 10s", b.cfg.ReadyTimeout)
	}
	if b.cfg.RestartDelay != 5*time.Second {
		t.Errorf("RestartDelay = %v, want 5s", b.cfg.RestartDelay)
	}
	if b.cfg.HealthInterval != 30*time.Second {
		t.Errorf("HealthInterval = %v, want 30s", b.cfg.HealthInterval)
	}
	if b.cfg.StopTimeout != gracefulTimeout {
		t.Errorf("StopTimeout = %v, want %v", b.cfg.StopTimeout, gracefulTimeout)
	}
	if b.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", b.Status(), StatusStopped)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.SidecarConfig{
		Binary:         "/usr/sbin/mosquitto",
		Args:           []string{"-c", "/etc/mosquitto/local.conf"},
		Host:           "127.0.0.1",
		Port:           1884,
		ReadyTimeout:   3,
		RestartDelay:   2,
		MaxRestarts:    4,
		HealthInterval: 15,
	})

	if cfg.ReadyTimeout != 3*time.Second {
		t.Errorf("ReadyTimeout = %v, want 3s", cfg.ReadyTimeout)
	}
	if cfg.RestartDelay != 2*time.Second {
		t.Errorf("RestartDelay = %v, want 2s", cfg.RestartDelay)
	}
	if cfg.HealthInterval != 15*time.Second {
		t.Errorf("HealthInterval = %v, want 15s", cfg.HealthInterval)
	}
	if cfg.MaxRestarts != 4 {
		t.Errorf("MaxRestarts = %d, want 4", cfg.MaxRestarts)
	}
	if len(cfg.Args) != 2 || cfg.Args[1] != "/etc/mosquitto/local.conf" {
		t.Errorf("Args = %v", cfg.Args)
	}
}

func TestBroker_Overrides(t *testing.T) {
	b := New(Config{Binary: "mosquitto", Host: "localhost", Port: 1884})

	ep := b.Overrides().Apply(config.DefaultEndpoint("unused"))
	if ep.Host != "localhost" || ep.Port != 1884 {
		t.Errorf("endpoint = %s:%d, want localhost:1884", ep.Host, ep.Port)
	}
	if b.Address() != "localhost:1884" {
		t.Errorf("Address() = %q, want localhost:1884", b.Address())
	}
}

func TestBroker_StopWhenNotStarted(t *testing.T) {
	b := New(Config{Binary: "mosquitto", Port: 1884})
	if err := b.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestBroker_StartWithInvalidBinary(t *testing.T) {
	b := New(Config{Binary: "/nonexistent/broker", Port: freePort(t)})

	err := b.Start(context.Background())
	if err == nil {
		t.Fatal("Start() should fail for a missing binary")
	}
	if b.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", b.Status(), StatusFailed)
	}
	if b.Stats().LastErr == "" {
		t.Error("Stats().LastErr should be set")
	}
	if err := b.Stop(); err != nil {
		t.Errorf("Stop() after failed start error = %v", err)
	}
}

func TestBroker_StartAndStop(t *testing.T) {
	b := New(helperConfig(t))

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if b.Status() != StatusRunning {
		t.Errorf("Status() = %q, want %q", b.Status(), StatusRunning)
	}
	if err := b.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	st := b.Stats()
	if st.PID == 0 {
		t.Error("Stats().PID should be set while running")
	}
	if st.Restarts != 0 {
		t.Errorf("Stats().Restarts = %d, want 0", st.Restarts)
	}

	if err := b.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if b.Status() != StatusStopped {
		t.Errorf("Status() after Stop = %q, want %q", b.Status(), StatusStopped)
	}
	if err := b.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() should fail after Stop")
	}
	if err := b.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestBroker_NotReady(t *testing.T) {
	b := New(Config{
		Binary:       "/bin/sh",
		Args:         []string{"-c", "sleep 30"},
		Port:         freePort(t),
		ReadyTimeout: 300 * time.Millisecond,
		StopTimeout:  2 * time.Second,
	})

	start := time.Now()
	err := b.Start(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Start() error = %v, want ErrNotReady", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("Start() took %v, process group was not stopped promptly", time.Since(start))
	}
	if b.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", b.Status(), StatusFailed)
	}
}

func TestBroker_ExitDuringStartup(t *testing.T) {
	b := New(Config{
		Binary:       "/bin/sh",
		Args:         []string{"-c", "exit 3"},
		Port:         freePort(t),
		ReadyTimeout: 5 * time.Second,
		RestartDelay: time.Minute,
	})

	err := b.Start(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Start() error = %v, want ErrNotReady", err)
	}
}

func TestBroker_RestartsAfterCrash(t *testing.T) {
	b := New(helperConfig(t, "SIDECAR_EXIT_AFTER=1s"))

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	waitFor(t, 5*time.Second, func() bool { return b.Stats().Restarts >= 1 }, "broker restart")
	waitFor(t, 5*time.Second, func() bool {
		return b.HealthCheck(context.Background()) == nil
	}, "restarted broker to listen")
}

func TestBroker_MaxRestarts(t *testing.T) {
	cfg := helperConfig(t, "SIDECAR_EXIT_AFTER=1s")
	cfg.MaxRestarts = 1
	b := New(cfg)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-b.done:
	case <-time.After(10 * time.Second):
		t.Fatal("monitor did not give up after MaxRestarts")
	}
	if b.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", b.Status(), StatusFailed)
	}
	if err := b.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestBroker_WatchdogKillsUnresponsive(t *testing.T) {
	cfg := helperConfig(t, "SIDECAR_CLOSE_AFTER=1s")
	cfg.HealthInterval = 50 * time.Millisecond
	cfg.MaxRestarts = 1
	b := New(cfg)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	waitFor(t, 10*time.Second, func() bool {
		return strings.Contains(b.Stats().LastErr, ErrUnhealthy.Error())
	}, "watchdog kill")
}

func TestBroker_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := New(helperConfig(t))

	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	select {
	case <-b.done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not exit after context cancel")
	}
	if b.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", b.Status(), StatusStopped)
	}
}

func TestBroker_SetLogger(t *testing.T) {
	b := New(Config{Binary: "mosquitto", Port: 1884})
	b.SetLogger(noopLogger{})
	if b.logger == nil {
		t.Error("logger should not be nil after SetLogger")
	}
}
