package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/brokerlink/internal/cluster"
	"github.com/nerrad567/brokerlink/internal/infrastructure/config"
	"github.com/nerrad567/brokerlink/internal/infrastructure/logging"
	"github.com/nerrad567/brokerlink/internal/journal"
	"github.com/nerrad567/brokerlink/internal/notify"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the part of the cluster supervisor the API drives.
type Controller interface {
	Connect()
	Disconnect()
	PublishMessage(topic string, payload []byte)
	Status() cluster.Status
	Endpoints() []config.Endpoint
	HealthCheck(ctx context.Context) error
}

// History queries the lifecycle journal.
type History interface {
	List(ctx context.Context, f journal.Filter) ([]journal.Entry, error)
}

// HealthChecker is implemented by optional backing services (journal
// database, InfluxDB) reported by the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Supervisor Controller
	History    History                  // optional: /events returns 503 without it
	Bus        *notify.Bus              // optional: the WebSocket stream stays silent without it
	Checks     map[string]HealthChecker // optional: extra health checks by name
	Version    string
}

// Server is the admin HTTP API for a running brokerlink daemon.
//
// It manages the HTTP listener, routes, middleware, and WebSocket event stream.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	supervisor Controller
	history    History
	bus        *notify.Bus
	checks     map[string]HealthChecker
	version    string
	tickets    *ticketStore

	server   *http.Server
	listener net.Listener
	stream   *eventStream
	cancel   context.CancelFunc // cancels background goroutines on Close()
	wg       sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, supervisor)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Supervisor == nil {
		return nil, fmt.Errorf("supervisor is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	return &Server{
		cfg:        deps.Config,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		supervisor: deps.Supervisor,
		history:    deps.History,
		bus:        deps.Bus,
		checks:     deps.Checks,
		version:    deps.Version,
		tickets:    newTicketStore(),
		stream:     newEventStream(deps.WS, deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It binds the listener synchronously so a port conflict is reported to the
// caller, then starts the WebSocket event stream, the lifecycle event relay and the
// HTTP server in background goroutines. The server can be stopped with
// Close().
//
// Parameters:
//   - ctx: Parent context for the background goroutines
//
// Returns:
//   - error: If the listener cannot be bound
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.listener = ln

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2) //nolint:mnd // event stream + ticket cleanup
	go func() {
		defer s.wg.Done()
		s.stream.run(srvCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.cleanTicketsLoop(srvCtx)
	}()

	if s.bus != nil {
		if sub := s.bus.Subscribe(); sub != nil {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.relayEvents(srvCtx, sub)
			}()
		}
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (event stream, relay, ticket cleanup)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// relayEvents forwards lifecycle events to WebSocket clients until ctx is
// cancelled or the bus closes.
func (s *Server) relayEvents(ctx context.Context, sub *notify.Subscription) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			s.stream.publish(ev)
		}
	}
}
