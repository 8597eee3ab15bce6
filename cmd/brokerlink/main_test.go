package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/brokerlink/internal/auth"
	"github.com/nerrad567/brokerlink/internal/infrastructure/config"
	"github.com/nerrad567/brokerlink/internal/infrastructure/logging"
	"github.com/nerrad567/brokerlink/internal/session"
	"github.com/nerrad567/brokerlink/internal/sidecar"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("BROKERLINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_StartupAndShutdown starts against an unreachable broker with the
// journal enabled and verifies a clean shutdown that leaves lifecycle rows
// behind.
func TestRun_StartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	t.Setenv("BROKERLINK_CONFIG", writeConfig(t, `
cluster:
  max_fallback_retries: 5
  fallback_delay_ms: 50
  template:
    max_connection_retries: 1
    retry_delay_ms: 50
    connect_timeout_seconds: 1
  endpoints:
    - host: "127.0.0.1"
      port: 19997
subscriptions:
  - "site/#"
journal:
  enabled: true
  path: "`+dbPath+`"
logging:
  level: error
  format: text
`))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("journal database not created: %v", err)
	}
}

// TestRun_ExhaustedEndpointsShutsDown verifies the process stops on its
// own once every fallover has been used.
func TestRun_ExhaustedEndpointsShutsDown(t *testing.T) {
	t.Setenv("BROKERLINK_CONFIG", writeConfig(t, `
cluster:
  max_fallback_retries: 0
  template:
    max_connection_retries: 1
    retry_delay_ms: 10
    connect_timeout_seconds: 1
  endpoints:
    - host: "127.0.0.1"
      port: 19996
logging:
  level: error
`))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if ctx.Err() != nil {
		t.Error("run() should return before the test deadline")
	}
}

const testJWTSecret = "integration-secret-key-at-least-32-chars"

// TestRun_WithAdminAPI verifies the admin API comes up alongside the
// supervisor and reports the unreachable broker as degraded.
func TestRun_WithAdminAPI(t *testing.T) {
	t.Setenv("BROKERLINK_CONFIG", writeConfig(t, `
cluster:
  max_fallback_retries: 0
  template:
    max_connection_retries: 1
    retry_delay_ms: 10
    connect_timeout_seconds: 1
  endpoints:
    - host: "127.0.0.1"
      port: 19995
api:
  enabled: true
  host: "127.0.0.1"
  port: 19094
security:
  jwt:
    secret: "`+testJWTSecret+`"
logging:
  level: error
`))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	var status int
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://127.0.0.1:19094/api/v1/health")
		if err == nil {
			status = resp.StatusCode
			resp.Body.Close()
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if status != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want %d", status, http.StatusServiceUnavailable)
	}

	// With the API enabled, exhausting every endpoint leaves the process
	// running for an operator to reconnect.
	select {
	case err := <-errCh:
		t.Fatalf("run() returned early: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestIssueToken(t *testing.T) {
	path := writeConfig(t, `
cluster:
  endpoints:
    - host: "127.0.0.1"
security:
  jwt:
    secret: "`+testJWTSecret+`"
    token_ttl: 5
`)

	var buf bytes.Buffer
	if err := issueToken(&buf, path, []string{"ops-laptop", "operator"}); err != nil {
		t.Fatalf("issueToken() error = %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(buf.String()), testJWTSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "ops-laptop" || claims.Role != auth.RoleOperator {
		t.Errorf("claims = %+v", claims)
	}
	if ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time); ttl != 5*time.Minute {
		t.Errorf("ttl = %v, want 5m", ttl)
	}
}

func TestIssueToken_Errors(t *testing.T) {
	path := writeConfig(t, `
cluster:
  endpoints:
    - host: "127.0.0.1"
`)

	var buf bytes.Buffer
	if err := issueToken(&buf, path, []string{"only-subject"}); err == nil {
		t.Error("issueToken() should reject missing role")
	}
	if err := issueToken(&buf, path, []string{"a", "operator"}); !errors.Is(err, auth.ErrSecretRequired) {
		t.Errorf("issueToken() error = %v, want ErrSecretRequired", err)
	}
	if err := issueToken(&buf, "/nonexistent/config.yaml", []string{"a", "viewer"}); err == nil {
		t.Error("issueToken() should fail without a config file")
	}
	if buf.Len() != 0 {
		t.Errorf("nothing should be printed on error, got %q", buf.String())
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("BROKERLINK_CONFIG", "")

	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	t.Setenv("BROKERLINK_CONFIG", "/custom/config.yaml")

	if got := getConfigPath(); got != "/custom/config.yaml" {
		t.Errorf("getConfigPath() = %q, want /custom/config.yaml", got)
	}
}

// TestStartSidecar_NotReady verifies a broker that never listens fails
// startup and leaves the endpoint list untouched.
func TestStartSidecar_NotReady(t *testing.T) {
	cfg := &config.Config{
		Sidecar: config.SidecarConfig{
			Enabled:      true,
			Binary:       "/bin/sh",
			Args:         []string{"-c", "sleep 30"},
			Host:         "127.0.0.1",
			Port:         19993,
			ReadyTimeout: 1,
		},
	}

	_, err := startSidecar(context.Background(), cfg, logging.Discard())
	if !errors.Is(err, sidecar.ErrNotReady) {
		t.Fatalf("startSidecar() error = %v, want ErrNotReady", err)
	}
	if len(cfg.Cluster.Endpoints) != 0 {
		t.Errorf("Endpoints = %d, want 0", len(cfg.Cluster.Endpoints))
	}
}

// TestStartSidecar_AppendsEndpoint uses a listener already on the port as
// the ready broker.
func TestStartSidecar_AppendsEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	host := "broker.local"
	cfg := &config.Config{
		Cluster: config.ClusterConfig{
			Endpoints: []config.EndpointOverrides{{Host: &host}},
		},
		Sidecar: config.SidecarConfig{
			Enabled:      true,
			Binary:       "/bin/sh",
			Args:         []string{"-c", "sleep 30"},
			Host:         "127.0.0.1",
			Port:         port,
			ReadyTimeout: 5,
		},
	}

	broker, err := startSidecar(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("startSidecar() error = %v", err)
	}
	defer broker.Stop()

	endpoints := cfg.Cluster.BuildEndpoints()
	if len(endpoints) != 2 {
		t.Fatalf("BuildEndpoints() = %d endpoints, want 2", len(endpoints))
	}
	if endpoints[1].Host != "127.0.0.1" || endpoints[1].Port != port {
		t.Errorf("last endpoint = %s, want the sidecar", endpoints[1])
	}
}

func TestHealthCheck_NothingEnabled(t *testing.T) {
	if err := healthCheck(context.Background(), nil, nil); err != nil {
		t.Errorf("healthCheck() with nothing enabled error = %v", err)
	}
}

func TestDialer_ReturnsUnconnectedClient(t *testing.T) {
	d := newDialer(logging.Discard())
	c := d.Dial(config.DefaultEndpoint("127.0.0.1"), session.Handlers{})
	if c == nil {
		t.Fatal("Dial() returned nil")
	}

	done := make(chan error, 1)
	c.Publish("a/b", []byte("x"), func(err error) { done <- err })
	select {
	case err := <-done:
		if err == nil {
			t.Error("Publish() on an unconnected client should fail")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Publish() completion never called")
	}
}

func TestEventLogger_WarnsOnFailures(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithWriter(config.LoggingConfig{Level: "warn", Format: "text"}, "test", &buf)
	l := eventLogger(log)

	l.HandleEvent(session.Event{Type: session.EventConnected, Endpoint: "a:1883"})
	if buf.Len() != 0 {
		t.Errorf("connected event should log at debug, got %q", buf.String())
	}

	l.HandleEvent(session.Event{Type: session.EventFailedToConnect, Endpoint: "a:1883", Attempt: 2, Err: errors.New("refused")})
	out := buf.String()
	if !strings.Contains(out, "failed-to-connect") || !strings.Contains(out, "refused") {
		t.Errorf("eventLogger output = %q, want event name and error", out)
	}
}

func TestSwitchWriter(t *testing.T) {
	var a, b bytes.Buffer
	w := &switchWriter{w: &a}

	if _, err := w.Write([]byte("one")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	w.Set(&b)
	if _, err := w.Write([]byte("two")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if a.String() != "one" || b.String() != "two" {
		t.Errorf("switchWriter wrote a=%q b=%q", a.String(), b.String())
	}
}
