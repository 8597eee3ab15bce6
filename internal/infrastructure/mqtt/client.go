package mqtt

import (
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/brokerlink/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang as an asynchronous, single-endpoint broker
// client.
//
// Every operation returns immediately and reports its outcome through a
// done callback, invoked exactly once from a helper goroutine (or directly,
// when input validation fails). The client never reconnects on its own and
// keeps no subscription state; both belong to the caller.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client    pahomqtt.Client
	endpoint  config.Endpoint
	clientID  string
	callbacks Callbacks

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Callbacks receive unsolicited events from the broker connection. Both are
// optional and may be invoked from paho's goroutines.
type Callbacks struct {
	// OnConnectionLost fires when an established connection drops.
	OnConnectionLost func(err error)

	// OnMessage fires for every message received on any subscription.
	OnMessage func(topic string, payload []byte)
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// New builds a client for ep without connecting.
//
// Parameters:
//   - ep: Endpoint configuration (address, credentials, timeouts, last will)
//   - cb: Callbacks for link loss and inbound messages
//
// Returns:
//   - *Client: Disconnected client; call Connect to start the handshake
func New(ep config.Endpoint, cb Callbacks) *Client {
	opts := buildClientOptions(ep)

	c := &Client{
		endpoint:  ep,
		clientID:  opts.ClientID,
		callbacks: cb,
	}

	opts.SetDefaultPublishHandler(c.handleMessage)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})

	c.client = pahomqtt.NewClient(opts)
	return c
}

// Connect starts the MQTT handshake. done receives nil on success or an
// error wrapping ErrConnectionFailed.
func (c *Client) Connect(done func(err error)) {
	token := c.client.Connect()
	c.await(token, connectWait(c.endpoint), ErrConnectionFailed, done)
}

// Disconnect closes the connection, waiting briefly for in-flight work. It
// never fails and is safe to call on a client that never connected.
func (c *Client) Disconnect() {
	if c.client == nil {
		return
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
}

// IsConnected reports whether the underlying connection is open.
func (c *Client) IsConnected() bool {
	if c.client == nil {
		return false
	}
	return c.client.IsConnectionOpen()
}

// ClientID returns the identifier presented to the broker.
func (c *Client) ClientID() string {
	return c.clientID
}

// SetLogger sets a logger for error and panic logging.
// If not set, callback panics are recovered silently.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) checkQoS() error {
	if c.endpoint.QoS > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// await waits for token on a helper goroutine and reports the outcome.
func (c *Client) await(token pahomqtt.Token, timeout time.Duration, wrap error, done func(err error)) {
	go func() {
		if !token.WaitTimeout(timeout) {
			done(fmt.Errorf("%w: timeout after %v", wrap, timeout))
			return
		}
		if err := token.Error(); err != nil {
			done(fmt.Errorf("%w: %w", wrap, err))
			return
		}
		done(nil)
	}()
}

// handleMessage forwards an inbound message with panic recovery.
func (c *Client) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	cb := c.callbacks.OnMessage
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT message callback panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}
	}()
	cb(msg.Topic(), msg.Payload())
}

func (c *Client) handleConnectionLost(err error) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost",
			"endpoint", c.endpoint.Address(),
			"error", err,
		)
	}
	if cb := c.callbacks.OnConnectionLost; cb != nil {
		cb(err)
	}
}
