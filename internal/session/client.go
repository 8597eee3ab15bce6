package session

import (
	"time"

	"github.com/nerrad567/brokerlink/internal/infrastructure/config"
)

// Client is the broker-client collaborator a Connection drives.
//
// Completion callbacks may be invoked from any goroutine, exactly once, and
// possibly before the method returns. Disconnect is best-effort.
type Client interface {
	Connect(done func(err error))
	Disconnect()
	Subscribe(topic string, done func(err error))
	Unsubscribe(topic string, done func(err error))
	Publish(topic string, payload []byte, done func(err error))
}

// Handlers receive unsolicited transport events. They may be invoked from
// any goroutine.
type Handlers struct {
	ConnectionLost func(err error)
	MessageArrived func(topic string, payload []byte)
}

// Dialer creates a fresh broker client for an endpoint. It must not start
// connecting; the Connection calls Client.Connect itself.
type Dialer interface {
	Dial(ep config.Endpoint, h Handlers) Client
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ep config.Endpoint, h Handlers) Client

// Dial implements Dialer.
func (f DialerFunc) Dial(ep config.Endpoint, h Handlers) Client { return f(ep, h) }

// Executor serialises state-machine work. eventloop.Loop and
// eventloop.Manual implement it.
type Executor interface {
	Post(fn func())
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on the executor and should not block. A returned error is
// logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

// Logger defines the logging interface used by this package.
// Compatible with logging.Logger and slog.Logger.
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
