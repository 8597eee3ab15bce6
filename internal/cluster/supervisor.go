package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/brokerlink/internal/infrastructure/config"
	"github.com/nerrad567/brokerlink/internal/session"
)

// Options configures a Supervisor.
type Options struct {
	// Endpoints are the candidate brokers, already merged with the cluster
	// template (see config.ClusterConfig.BuildEndpoints).
	Endpoints []config.Endpoint

	RandomOrder        bool
	MaxFallbackRetries int
	FallbackDelay      time.Duration
	Dispatch           session.DispatchMode

	Dialer   session.Dialer
	Executor session.Executor
	Logger   session.Logger

	// Intn overrides the random source used in random order. It must return
	// a value in [0, n).
	Intn func(n int) int
}

// Status is a point-in-time view of the supervisor for diagnostics.
type Status struct {
	Active        bool
	Endpoint      string
	EndpointIndex int
	State         session.State
	Fallbacks     int
	MaxFallbacks  int
	Subscriptions []string
}

// Supervisor keeps a session alive across a list of broker endpoints.
type Supervisor struct {
	endpoints    []config.Endpoint
	maxFallbacks int
	delay        time.Duration
	dispatch     session.DispatchMode
	dialer       session.Dialer
	exec         session.Executor
	logger       session.Logger
	selector     *selector
	events       *session.Emitter

	// Shared by every connection and never reassigned.
	subs *session.Subscriptions

	// Owned by the executor.
	current      *session.Connection
	fallbacks    int
	stopFallback func() bool

	// Snapshot for readers on other goroutines.
	mu      sync.RWMutex
	active  bool
	index   int
	conn    *session.Connection
	fbCount int
}

// New creates an inactive Supervisor.
func New(opts Options) (*Supervisor, error) {
	if len(opts.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if opts.Dialer == nil || opts.Executor == nil {
		return nil, ErrMissingCollaborator
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	endpoints := make([]config.Endpoint, len(opts.Endpoints))
	copy(endpoints, opts.Endpoints)

	return &Supervisor{
		endpoints:    endpoints,
		maxFallbacks: opts.MaxFallbackRetries,
		delay:        opts.FallbackDelay,
		dispatch:     opts.Dispatch,
		dialer:       opts.Dialer,
		exec:         opts.Executor,
		logger:       logger,
		selector:     newSelector(len(endpoints), opts.RandomOrder, opts.Intn),
		subs:         session.NewSubscriptions(),
		events:       session.NewEmitter(logger),
		index:        -1,
	}, nil
}

// Connect activates the supervisor and connects to the next endpoint. It is
// a no-op while already active; after a deactivation it starts over with a
// fresh fallback budget.
func (s *Supervisor) Connect() {
	s.exec.Post(s.connect)
}

// Disconnect deactivates the supervisor and disconnects the current
// connection. Armed fallover timers become no-ops.
func (s *Supervisor) Disconnect() {
	s.exec.Post(s.disconnect)
}

// SubscribeToTopic registers a durable subscription that follows the session
// across reconnects and fallovers.
func (s *Supervisor) SubscribeToTopic(topic string, handler session.MessageHandler) {
	s.exec.Post(func() {
		if s.current != nil {
			s.current.Inline().SubscribeToTopic(topic, handler)
			return
		}
		if topic == "" || handler == nil {
			s.logger.Warn("ignoring subscription without topic or handler", "topic", topic)
			return
		}
		s.subs.Add(topic, handler)
	})
}

// UnsubscribeFromTopic removes the earliest subscription for topic.
func (s *Supervisor) UnsubscribeFromTopic(topic string) {
	s.exec.Post(func() {
		if s.current != nil {
			s.current.Inline().UnsubscribeFromTopic(topic)
			return
		}
		s.subs.Remove(topic)
	})
}

// PublishMessage publishes through the current connection. It is dropped
// when no connection is established.
func (s *Supervisor) PublishMessage(topic string, payload []byte) {
	payload = append([]byte(nil), payload...)
	s.exec.Post(func() {
		if s.current == nil {
			s.logger.Debug("dropping publish, no active connection", "topic", topic)
			return
		}
		s.current.Inline().PublishMessage(topic, payload)
	})
}

// AddListener registers a listener for forwarded connection events and
// cluster events.
func (s *Supervisor) AddListener(l session.Listener) {
	s.events.Add(l)
}

// IsActive reports whether the supervisor is active.
func (s *Supervisor) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// CurrentEndpoint returns the selected endpoint. ok is false before the
// first selection.
func (s *Supervisor) CurrentEndpoint() (ep config.Endpoint, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.index < 0 {
		return config.Endpoint{}, false
	}
	return s.endpoints[s.index], true
}

// Endpoints returns the candidate endpoints in configured order.
func (s *Supervisor) Endpoints() []config.Endpoint {
	out := make([]config.Endpoint, len(s.endpoints))
	copy(out, s.endpoints)
	return out
}

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	st := Status{
		Active:        s.active,
		EndpointIndex: s.index,
		Fallbacks:     s.fbCount,
		MaxFallbacks:  s.maxFallbacks,
		State:         session.StateDisconnected,
	}
	conn := s.conn
	if s.index >= 0 {
		st.Endpoint = s.endpoints[s.index].Address()
	}
	s.mu.RUnlock()

	if conn != nil {
		st.State = conn.State()
	}
	st.Subscriptions = s.subs.Topics()
	return st
}

// HealthCheck reports whether the session is active and connected.
func (s *Supervisor) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st := s.Status()
	if !st.Active {
		return ErrInactive
	}
	if st.State != session.StateConnected {
		return fmt.Errorf("%w: %s is %s", ErrNotConnected, st.Endpoint, st.State)
	}
	return nil
}

func (s *Supervisor) connect() {
	if s.active {
		s.logger.Debug("cluster supervisor already active")
		return
	}
	s.fallbacks = 0
	s.setActive(true)
	s.logger.Info("cluster supervisor activated", "endpoints", len(s.endpoints))
	s.connectToNextServer()
}

func (s *Supervisor) disconnect() {
	s.setActive(false)
	s.cancelFallback()
	s.logger.Info("cluster supervisor deactivated")

	if s.current != nil && s.current.IsMaintainingConnectionToServer() {
		s.current.Inline().DisconnectFromServer()
	}
}

// connectToNextServer hands the session over to a fresh connection for the
// next selected endpoint.
func (s *Supervisor) connectToNextServer() {
	if !s.active {
		return
	}

	index := s.selector.next()
	ep := s.endpoints[index]

	if prev := s.current; prev != nil {
		s.current = nil
		if prev.IsMaintainingConnectionToServer() {
			prev.Inline().DisconnectFromServer()
		}
	}

	conn, err := session.New(session.Options{
		Endpoint:      ep,
		Dialer:        s.dialer,
		Executor:      s.exec,
		Logger:        s.logger,
		Dispatch:      s.dispatch,
		Subscriptions: s.subs,
	})
	if err != nil {
		s.logger.Error("failed to create connection", "endpoint", ep.Address(), "error", err)
		s.setActive(false)
		return
	}
	conn.AddListener(session.ListenerFunc(func(ev session.Event) {
		s.handleConnectionEvent(conn, ev)
	}))

	s.current = conn
	s.setCurrent(index, conn)
	s.logger.Info("selected cluster server",
		"endpoint", ep.String(),
		"index", index,
		"fallbacks", s.fallbacks,
	)
	s.events.Emit(session.Event{
		Type:     session.EventEndpointSelected,
		Endpoint: ep.Address(),
		Attempt:  s.fallbacks,
	})

	conn.Inline().ConnectToServer()
}

func (s *Supervisor) handleConnectionEvent(conn *session.Connection, ev session.Event) {
	if conn != s.current {
		return
	}

	if ev.Type == session.EventConnected {
		s.fallbacks = 0
		s.setFallbacks(0)
	}

	s.events.Emit(ev)

	if ev.Type == session.EventDisconnected && conn == s.current {
		s.handleDisconnected(conn)
	}
}

// handleDisconnected decides between falling over and giving up after the
// current connection tore itself down.
func (s *Supervisor) handleDisconnected(conn *session.Connection) {
	if !s.active {
		return
	}

	if s.fallbacks < s.maxFallbacks {
		s.cancelFallback()
		s.stopFallback = s.exec.AfterFunc(s.delay, func() {
			s.fallBack(conn)
		})
		return
	}

	ep := conn.Endpoint()
	s.logger.Warn("max server fallback retries reached, deactivating cluster supervisor",
		"fallbacks", s.fallbacks,
		"max_fallbacks", s.maxFallbacks,
	)
	s.setActive(false)
	s.events.Emit(session.Event{
		Type:     session.EventMaxFallbackRetriesReached,
		Endpoint: ep.Address(),
		Attempt:  s.fallbacks,
		Err:      ErrMaxFallbackRetries,
	})
}

func (s *Supervisor) fallBack(conn *session.Connection) {
	if !s.active || conn != s.current {
		return
	}
	s.stopFallback = nil

	s.fallbacks++
	s.setFallbacks(s.fallbacks)
	s.logger.Info("falling back to next server",
		"fallbacks", s.fallbacks,
		"max_fallbacks", s.maxFallbacks,
	)
	s.events.Emit(session.Event{
		Type:     session.EventFallingBack,
		Endpoint: conn.Endpoint().Address(),
		Attempt:  s.fallbacks,
		Delay:    s.delay,
	})
	if conn != s.current {
		return
	}

	s.connectToNextServer()
}

func (s *Supervisor) cancelFallback() {
	if s.stopFallback != nil {
		s.stopFallback()
		s.stopFallback = nil
	}
}

func (s *Supervisor) setActive(v bool) {
	s.mu.Lock()
	s.active = v
	s.mu.Unlock()
}

func (s *Supervisor) setCurrent(index int, conn *session.Connection) {
	s.mu.Lock()
	s.index = index
	s.conn = conn
	s.mu.Unlock()
}

func (s *Supervisor) setFallbacks(n int) {
	s.mu.Lock()
	s.fbCount = n
	s.mu.Unlock()
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
