// brokerlink - resilient MQTT session across a cluster of brokers
//
// This is the main entry point. It keeps one MQTT session alive across the
// configured (or discovered) broker endpoints, retrying each endpoint and
// falling over to the next when retries run out. A local sidecar broker can
// be supervised as the last-resort endpoint. Lifecycle events can be
// journalled to SQLite, exported to InfluxDB, inspected from an
// interactive console and driven through an admin HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/brokerlink/internal/api"
	"github.com/nerrad567/brokerlink/internal/auth"
	"github.com/nerrad567/brokerlink/internal/cluster"
	"github.com/nerrad567/brokerlink/internal/console"
	"github.com/nerrad567/brokerlink/internal/discovery"
	"github.com/nerrad567/brokerlink/internal/eventloop"
	"github.com/nerrad567/brokerlink/internal/infrastructure/config"
	"github.com/nerrad567/brokerlink/internal/infrastructure/database"
	"github.com/nerrad567/brokerlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/brokerlink/internal/infrastructure/logging"
	"github.com/nerrad567/brokerlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/brokerlink/internal/journal"
	"github.com/nerrad567/brokerlink/internal/notify"
	"github.com/nerrad567/brokerlink/internal/session"
	"github.com/nerrad567/brokerlink/internal/sidecar"
	"github.com/nerrad567/brokerlink/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	shutdownTimeout   = 5 * time.Second
)

var _ session.Client = (*mqtt.Client)(nil)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(os.Stdout, getConfigPath(), os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := logging.Default()
	log.Info("starting brokerlink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Log output is switched to the console's writer once it exists so
	// log lines do not clobber the prompt.
	out := &switchWriter{w: os.Stdout}
	if cfg.Logging.Output == "stderr" {
		out.w = os.Stderr
	}
	log = logging.NewWithWriter(cfg.Logging, version, out)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	if cfg.Discovery.Enabled {
		if discoverErr := discoverEndpoints(ctx, cfg, log); discoverErr != nil {
			return discoverErr
		}
	}
	var broker *sidecar.Broker
	if cfg.Sidecar.Enabled {
		broker, err = startSidecar(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			if stopErr := broker.Stop(); stopErr != nil {
				log.Error("error stopping sidecar broker", "error", stopErr)
			}
		}()
	}
	endpoints := cfg.Cluster.BuildEndpoints()
	if len(endpoints) == 0 {
		return fmt.Errorf("no broker endpoints configured or discovered")
	}

	dispatch, err := session.ParseDispatchMode(cfg.Cluster.Dispatch)
	if err != nil {
		return fmt.Errorf("parsing dispatch mode: %w", err)
	}

	loop := eventloop.New()
	loop.SetLogger(log.Component("eventloop"))
	loop.Start()
	defer loop.Stop()

	bus := notify.New(notify.DefaultCapacity, log.Component("notify"))
	defer bus.Close()

	var (
		workers sync.WaitGroup
		db      *database.DB
		history *journal.Journal
	)

	if cfg.Journal.Enabled {
		db, history, err = openJournal(ctx, cfg.Journal, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing journal")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing journal", "error", closeErr)
			}
		}()
		sub := bus.Subscribe()
		workers.Add(1)
		go func() {
			defer workers.Done()
			history.Run(ctx, sub.C())
		}()
	} else {
		log.Info("journal disabled")
	}

	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		sub := bus.Subscribe()
		workers.Add(1)
		go func() {
			defer workers.Done()
			influxClient.Run(ctx, sub.C())
		}()
	}

	// Runs before the journal and InfluxDB are closed.
	defer func() {
		cancel()
		bus.Close()
		workers.Wait()
	}()

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	supervisor, err := cluster.New(cluster.Options{
		Endpoints:          endpoints,
		RandomOrder:        cfg.Cluster.RandomOrder,
		MaxFallbackRetries: cfg.Cluster.MaxFallbackRetries,
		FallbackDelay:      cfg.Cluster.FallbackDelay(),
		Dispatch:           dispatch,
		Dialer:             newDialer(log.Component("mqtt")),
		Executor:           loop,
		Logger:             log.Component("cluster"),
	})
	if err != nil {
		return fmt.Errorf("creating cluster supervisor: %w", err)
	}
	supervisor.AddListener(eventLogger(log.Component("lifecycle")))
	supervisor.AddListener(bus)
	supervisor.AddListener(session.ListenerFunc(func(ev session.Event) {
		if ev.Type == session.EventMaxFallbackRetriesReached && !cfg.Console.Enabled && !cfg.API.Enabled {
			log.Error("all broker endpoints exhausted, shutting down")
			cancel()
		}
	}))

	for _, topic := range cfg.Subscriptions {
		supervisor.SubscribeToTopic(topic, messageLogger(log.Component("messages")))
	}

	supervisor.Connect()
	log.Info("cluster supervisor started",
		"endpoints", len(endpoints),
		"random_order", cfg.Cluster.RandomOrder,
		"max_fallback_retries", cfg.Cluster.MaxFallbackRetries,
	)

	if cfg.Console.Enabled {
		var historyView console.History
		if history != nil {
			historyView = history
		}
		con, conErr := console.New(supervisor, historyView, cfg.Console.Prompt)
		if conErr != nil {
			return fmt.Errorf("starting console: %w", conErr)
		}
		out.Set(con.Stdout())
		defer out.Set(os.Stdout)
		go con.Run(ctx, cancel)
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = startAPI(ctx, cfg, log, supervisor, history, bus, db, influxClient, broker)
		if err != nil {
			return err
		}
	} else {
		log.Info("admin API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if apiServer != nil {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing admin API", "error", closeErr)
		}
	}

	supervisor.Disconnect()
	flushCtx, flushCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer flushCancel()
	if flushErr := loop.Flush(flushCtx); flushErr != nil {
		log.Warn("event loop did not drain before shutdown", "error", flushErr)
	}

	if history != nil && cfg.Journal.Retention() > 0 {
		if n, pruneErr := history.Prune(flushCtx, cfg.Journal.Retention()); pruneErr != nil {
			log.Warn("pruning journal failed", "error", pruneErr)
		} else if n > 0 {
			log.Info("journal pruned", "removed", n)
		}
	}

	// Deferred calls run in reverse order: the event workers stop, then
	// InfluxDB, the journal database and finally the event loop.
	log.Info("brokerlink stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BROKERLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BROKERLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// discoverEndpoints appends brokers found via mDNS to the configured
// endpoint list. Discovery failing is only fatal when nothing else is
// configured.
func discoverEndpoints(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	services, err := discovery.Browse(ctx, cfg.Discovery)
	if err != nil {
		if len(cfg.Cluster.Endpoints) > 0 {
			log.Warn("broker discovery failed, using static endpoints", "error", err)
			return nil
		}
		return fmt.Errorf("discovering brokers: %w", err)
	}
	for _, svc := range services {
		cfg.Cluster.Endpoints = append(cfg.Cluster.Endpoints, svc.Overrides())
		log.Info("discovered broker",
			"instance", svc.Instance,
			"address", svc.Address(),
			"port", svc.Port,
		)
	}
	log.Info("broker discovery complete", "found", len(services))
	return nil
}

// startSidecar launches the local broker and appends it to the endpoint
// list after every configured and discovered endpoint.
func startSidecar(ctx context.Context, cfg *config.Config, log *logging.Logger) (*sidecar.Broker, error) {
	broker := sidecar.New(sidecar.FromConfig(cfg.Sidecar))
	broker.SetLogger(log.Component("sidecar"))
	// Outlives ctx; the caller's deferred Stop ends it after the session
	// disconnects.
	if err := broker.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, fmt.Errorf("starting sidecar broker: %w", err)
	}
	cfg.Cluster.Endpoints = append(cfg.Cluster.Endpoints, broker.Overrides())
	log.Info("sidecar broker added as last-resort endpoint", "address", broker.Address())
	return broker, nil
}

// openJournal opens the SQLite journal, applies migrations and prunes
// entries past retention.
func openJournal(ctx context.Context, cfg config.JournalConfig, log *logging.Logger) (*database.DB, *journal.Journal, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening journal database: %w", err)
	}
	log.Info("journal database connected", "path", cfg.Path)

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("journal migrations complete")

	j := journal.New(db.DB, log.Component("journal"))
	if n, err := j.Prune(ctx, cfg.Retention()); err != nil {
		log.Warn("pruning journal failed", "error", err)
	} else if n > 0 {
		log.Info("journal pruned", "removed", n)
	}
	return db, j, nil
}

// startAPI starts the admin HTTP API. The journal and InfluxDB are reported
// by its health endpoint when enabled.
func startAPI(
	ctx context.Context,
	cfg *config.Config,
	log *logging.Logger,
	supervisor *cluster.Supervisor,
	history *journal.Journal,
	bus *notify.Bus,
	db *database.DB,
	influxClient *influxdb.Client,
	broker *sidecar.Broker,
) (*api.Server, error) {
	deps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log.Component("api"),
		Supervisor: supervisor,
		Bus:        bus,
		Checks:     map[string]api.HealthChecker{},
		Version:    version,
	}
	if history != nil {
		deps.History = history
	}
	if db != nil {
		deps.Checks["journal"] = db
	}
	if influxClient != nil {
		deps.Checks["influxdb"] = influxClient
	}
	if broker != nil {
		deps.Checks["sidecar"] = broker
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating admin API: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting admin API: %w", err)
	}
	log.Info("admin API started", "address", srv.Addr())
	return srv, nil
}

// issueToken prints a bearer token for the admin API.
//
// Usage: brokerlink token <subject> <viewer|operator>
func issueToken(w io.Writer, configPath string, args []string) error {
	if len(args) != 2 { //nolint:mnd // subject and role
		return errors.New("usage: brokerlink token <subject> <viewer|operator>")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tok, err := auth.GenerateToken(args[0], auth.Role(args[1]), cfg.Security.JWT.Secret, cfg.Security.JWT.TokenLifetime())
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	_, err = fmt.Fprintln(w, tok)
	return err
}

// healthCheck verifies the optional infrastructure is reachable. Broker
// connectivity is not checked here: the supervisor owns it and retries.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// mqttDialer creates paho-backed clients for the session layer.
type mqttDialer struct {
	log *logging.Logger
}

func newDialer(log *logging.Logger) session.Dialer {
	return &mqttDialer{log: log}
}

// Dial implements session.Dialer.
func (d *mqttDialer) Dial(ep config.Endpoint, h session.Handlers) session.Client {
	c := mqtt.New(ep, mqtt.Callbacks{
		OnConnectionLost: h.ConnectionLost,
		OnMessage:        h.MessageArrived,
	})
	c.SetLogger(d.log.With("endpoint", ep.Address(), "client_id", c.ClientID()))
	return c
}

// eventLogger logs every lifecycle event; failures at warn level.
func eventLogger(log *logging.Logger) session.Listener {
	return session.ListenerFunc(func(ev session.Event) {
		args := []any{"event", ev.Type.String(), "endpoint", ev.Endpoint}
		if ev.Attempt > 0 {
			args = append(args, "attempt", ev.Attempt)
		}
		if ev.Delay > 0 {
			args = append(args, "delay", ev.Delay)
		}
		if ev.Topic != "" {
			args = append(args, "topic", ev.Topic)
		}
		if ev.Err != nil {
			args = append(args, "error", ev.Err)
		}

		switch ev.Type {
		case session.EventFailedToConnect,
			session.EventMaxConnectionRetriesReached,
			session.EventMaxPublishRetriesReached,
			session.EventMaxFallbackRetriesReached:
			log.Warn("lifecycle event", args...)
		default:
			log.Debug("lifecycle event", args...)
		}
	})
}

// messageLogger is the handler for topics subscribed from configuration.
func messageLogger(log *logging.Logger) session.MessageHandler {
	return func(topic string, payload []byte) error {
		log.Info("message received", "topic", topic, "bytes", len(payload))
		return nil
	}
}

// switchWriter lets log output be redirected after the logger is built.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Set replaces the destination.
func (s *switchWriter) Set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}
