package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/brokerlink/internal/infrastructure/config"
)

// Options configures a Connection.
type Options struct {
	Endpoint config.Endpoint
	Dialer   Dialer
	Executor Executor
	Logger   Logger
	Dispatch DispatchMode

	// Subscriptions is the durable set to start from. Nil means a fresh,
	// empty set. The supervisor passes the previous connection's set here on
	// fallover.
	Subscriptions *Subscriptions
}

// Connection keeps one logical connection to a single broker alive.
type Connection struct {
	endpoint config.Endpoint
	dialer   Dialer
	exec     Executor
	logger   Logger
	dispatch DispatchMode
	subs     *Subscriptions
	events   *Emitter

	// Owned by the executor.
	client          Client
	handle          uint64
	generation      uint64
	stopRetry       func() bool
	connectFailures int
	retries         []publishRequest

	// Snapshot for readers on other goroutines.
	mu          sync.RWMutex
	state       State
	maintaining bool
}

// New creates a disconnected Connection.
func New(opts Options) (*Connection, error) {
	if opts.Dialer == nil || opts.Executor == nil {
		return nil, ErrMissingCollaborator
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	subs := opts.Subscriptions
	if subs == nil {
		subs = NewSubscriptions()
	}

	return &Connection{
		endpoint: opts.Endpoint,
		dialer:   opts.Dialer,
		exec:     opts.Executor,
		logger:   logger,
		dispatch: opts.Dispatch,
		subs:     subs,
		events:   NewEmitter(logger),
		state:    StateDisconnected,
	}, nil
}

// ConnectToServer starts maintaining the connection. It is a no-op while the
// connection is already being maintained.
func (c *Connection) ConnectToServer() {
	c.exec.Post(c.connectToServer)
}

// DisconnectFromServer stops maintaining the connection, cancels any pending
// retry and drops queued publish retries.
func (c *Connection) DisconnectFromServer() {
	c.exec.Post(c.disconnectFromServer)
}

// SubscribeToTopic records a durable subscription and issues it immediately
// when connected. The subscription is replayed after every reconnect.
func (c *Connection) SubscribeToTopic(topic string, handler MessageHandler) {
	c.exec.Post(func() { c.subscribe(topic, handler) })
}

// UnsubscribeFromTopic removes the earliest subscription for topic.
func (c *Connection) UnsubscribeFromTopic(topic string) {
	c.exec.Post(func() { c.unsubscribe(topic) })
}

// PublishMessage sends payload to topic. The request is dropped when the
// connection is not currently connected. The payload is copied.
func (c *Connection) PublishMessage(topic string, payload []byte) {
	req := publishRequest{topic: topic, payload: append([]byte(nil), payload...)}
	c.exec.Post(func() { c.publish(req) })
}

// AddListener registers a lifecycle listener.
func (c *Connection) AddListener(l Listener) {
	c.events.Add(l)
}

// IsMaintainingConnectionToServer reports whether a transport handle exists,
// i.e. ConnectToServer was called and no disconnect happened since.
func (c *Connection) IsMaintainingConnectionToServer() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maintaining
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Endpoint returns the endpoint this connection targets.
func (c *Connection) Endpoint() config.Endpoint {
	return c.endpoint
}

// SubscribedTopics returns the durable subscription topics in registration
// order, duplicates included.
func (c *Connection) SubscribedTopics() []string {
	return c.subs.Topics()
}

// Subscriptions returns the durable subscription set.
func (c *Connection) Subscriptions() *Subscriptions {
	return c.subs
}

// Inline returns a view of c whose methods run synchronously. They must only
// be called from a task already running on c's executor.
func (c *Connection) Inline() Inline {
	return Inline{c: c}
}

// Inline runs Connection operations on the caller's goroutine, which must be
// the executor.
type Inline struct {
	c *Connection
}

// ConnectToServer is the synchronous form of Connection.ConnectToServer.
func (i Inline) ConnectToServer() { i.c.connectToServer() }

// DisconnectFromServer is the synchronous form of
// Connection.DisconnectFromServer.
func (i Inline) DisconnectFromServer() { i.c.disconnectFromServer() }

// SubscribeToTopic is the synchronous form of Connection.SubscribeToTopic.
func (i Inline) SubscribeToTopic(topic string, handler MessageHandler) {
	i.c.subscribe(topic, handler)
}

// UnsubscribeFromTopic is the synchronous form of
// Connection.UnsubscribeFromTopic.
func (i Inline) UnsubscribeFromTopic(topic string) { i.c.unsubscribe(topic) }

// PublishMessage is the synchronous form of Connection.PublishMessage.
func (i Inline) PublishMessage(topic string, payload []byte) {
	i.c.publish(publishRequest{topic: topic, payload: append([]byte(nil), payload...)})
}

func (c *Connection) connectToServer() {
	if c.client != nil {
		c.logger.Debug("already maintaining connection to broker",
			"endpoint", c.endpoint.Address(),
			"state", c.State().String(),
		)
		return
	}

	c.logger.Info("connecting to broker, connection will be re-established when dropped",
		"endpoint", c.endpoint.String(),
	)

	c.handle++
	handle := c.handle
	client := c.dialer.Dial(c.endpoint, Handlers{
		ConnectionLost: func(err error) {
			c.exec.Post(func() { c.handleConnectionLost(handle, err) })
		},
		MessageArrived: func(topic string, payload []byte) {
			c.exec.Post(func() { c.dispatchMessage(handle, topic, payload) })
		},
	})
	if client == nil {
		c.logger.Error("failed to create broker client", "endpoint", c.endpoint.Address())
		c.emit(Event{Type: EventFailedToConnect, Err: ErrNilClient})
		if c.client != nil {
			return
		}
		// Without a client there is nothing to retry; give up so a
		// supervisor can fall over to the next endpoint.
		c.disconnectFromServer()
		return
	}

	c.client = client
	c.connectFailures = 0
	c.setMaintaining(true)
	c.connectToTarget()
}

// connectToTarget starts a fresh attempt on the current handle, replacing
// whatever transport session it had.
func (c *Connection) connectToTarget() {
	c.cancelRetry()
	c.generation++
	gen := c.generation

	c.discardTransport()
	c.setState(StateConnecting)
	c.logger.Info("establishing connection to broker",
		"endpoint", c.endpoint.Address(),
		"attempt", c.connectFailures+1,
	)
	c.emit(Event{Type: EventConnecting, Attempt: c.connectFailures})
	if gen != c.generation {
		return
	}

	client := c.client
	err := safeCall(func() {
		client.Connect(func(err error) {
			c.exec.Post(func() { c.handleConnectResult(gen, err) })
		})
	})
	if err != nil {
		c.handleConnectResult(gen, err)
	}
}

func (c *Connection) handleConnectResult(gen uint64, err error) {
	if gen != c.generation {
		c.logger.Debug("discarding stale connect result", "endpoint", c.endpoint.Address())
		return
	}
	if err != nil {
		c.handleFailure(err)
		return
	}
	c.handleConnected()
}

func (c *Connection) handleConnected() {
	gen := c.generation
	c.connectFailures = 0
	c.setState(StateConnected)
	c.logger.Info("connected to broker", "endpoint", c.endpoint.Address())

	c.performSubscriptions()
	c.flushPublishRetries()
	if gen != c.generation {
		return
	}
	c.emit(Event{Type: EventConnected})
}

// handleFailure runs the retry policy after a failed attempt or a lost link.
func (c *Connection) handleFailure(cause error) {
	gen := c.generation

	c.logger.Warn("failed to connect to broker",
		"endpoint", c.endpoint.Address(),
		"error", cause,
	)
	c.emit(Event{Type: EventFailedToConnect, Err: cause})
	if gen != c.generation {
		return
	}

	c.connectFailures++
	limit := c.endpoint.MaxConnectionRetries
	if limit == 0 || c.connectFailures <= limit {
		delay := c.endpoint.RetryDelay
		c.setState(StateRetrying)
		c.logger.Info("connection failure, will retry",
			"endpoint", c.endpoint.Address(),
			"attempt", c.connectFailures,
			"max_retries", limit,
			"delay", delay,
		)
		c.emit(Event{Type: EventWaitingBeforeRetry, Attempt: c.connectFailures, Delay: delay, Err: cause})
		if gen != c.generation {
			return
		}
		c.stopRetry = c.exec.AfterFunc(delay, func() { c.retry(gen) })
		return
	}

	c.logger.Warn("max connection retries reached, giving up",
		"endpoint", c.endpoint.Address(),
		"attempts", c.connectFailures,
	)
	c.emit(Event{
		Type:    EventMaxConnectionRetriesReached,
		Attempt: c.connectFailures,
		Err:     fmt.Errorf("%w: %w", ErrMaxConnectionRetries, cause),
	})
	if gen != c.generation {
		return
	}
	c.disconnectFromServer()
}

func (c *Connection) retry(gen uint64) {
	if gen != c.generation || c.client == nil {
		return
	}
	c.stopRetry = nil

	c.emit(Event{Type: EventRetryStarted, Attempt: c.connectFailures})
	if gen != c.generation {
		return
	}
	c.connectToTarget()
}

func (c *Connection) handleConnectionLost(handle uint64, err error) {
	if handle != c.handle || c.client == nil {
		return
	}
	if c.State() != StateConnected {
		c.logger.Debug("ignoring connection loss outside connected state",
			"endpoint", c.endpoint.Address(),
			"state", c.State().String(),
		)
		return
	}

	c.logger.Warn("connection to broker lost", "endpoint", c.endpoint.Address(), "error", err)
	c.generation++
	c.handleFailure(fmt.Errorf("%w: %w", ErrConnectionLost, err))
}

func (c *Connection) disconnectFromServer() {
	c.logger.Info("disconnecting from broker, connection will no longer be maintained",
		"endpoint", c.endpoint.Address(),
	)
	c.emit(Event{Type: EventDisconnecting})

	c.cancelRetry()
	c.generation++
	c.discardTransport()
	c.client = nil
	c.connectFailures = 0
	c.retries = nil
	c.setState(StateDisconnected)
	c.setMaintaining(false)

	c.emit(Event{Type: EventDisconnected})
}

func (c *Connection) cancelRetry() {
	if c.stopRetry != nil {
		c.stopRetry()
		c.stopRetry = nil
	}
}

// discardTransport closes the current transport session, ignoring failures.
func (c *Connection) discardTransport() {
	if c.client == nil {
		return
	}
	client := c.client
	if err := safeCall(client.Disconnect); err != nil {
		c.logger.Debug("ignoring transport disconnect failure",
			"endpoint", c.endpoint.Address(),
			"error", err,
		)
	}
}

func (c *Connection) emit(ev Event) {
	ev.Endpoint = c.endpoint.Address()
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	c.events.Emit(ev)
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev != s {
		c.logger.Debug("connection state changed",
			"endpoint", c.endpoint.Address(),
			"from", prev.String(),
			"to", s.String(),
		)
	}
}

func (c *Connection) setMaintaining(v bool) {
	c.mu.Lock()
	c.maintaining = v
	c.mu.Unlock()
}

// safeCall runs fn and converts a panic into an error.
func safeCall(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session: client panic: %v", r)
		}
	}()
	fn()
	return nil
}
