package session

import (
	"sync"
	"time"
)

// EventType names a lifecycle notification.
type EventType int

// Connection lifecycle events.
const (
	EventConnecting EventType = iota + 1
	EventConnected
	EventDisconnecting
	EventDisconnected
	EventFailedToConnect
	EventMaxConnectionRetriesReached
	EventMaxPublishRetriesReached
	EventSubscribed
	EventWaitingBeforeRetry
	EventRetryStarted

	// Cluster events, emitted by the supervisor on top of the forwarded
	// connection events.
	EventEndpointSelected
	EventFallingBack
	EventMaxFallbackRetriesReached
)

var eventNames = map[EventType]string{
	EventConnecting:                  "connecting",
	EventConnected:                   "connected",
	EventDisconnecting:               "disconnecting",
	EventDisconnected:                "disconnected",
	EventFailedToConnect:             "failed-to-connect",
	EventMaxConnectionRetriesReached: "max-connection-retries-reached",
	EventMaxPublishRetriesReached:    "max-publish-retries-reached",
	EventSubscribed:                  "subscribed",
	EventWaitingBeforeRetry:          "waiting-before-retry",
	EventRetryStarted:                "retry-started",
	EventEndpointSelected:            "endpoint-selected",
	EventFallingBack:                 "falling-back",
	EventMaxFallbackRetriesReached:   "max-fallback-retries-reached",
}

// String returns the kebab-case event name.
func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseEventType returns the event type with the given kebab-case name.
func ParseEventType(name string) (EventType, bool) {
	for t, n := range eventNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// AllEventTypes returns every event type in declaration order.
func AllEventTypes() []EventType {
	types := make([]EventType, 0, len(eventNames))
	for t := EventConnecting; t <= EventMaxFallbackRetriesReached; t++ {
		types = append(types, t)
	}
	return types
}

// Event is a single lifecycle notification.
type Event struct {
	Type EventType

	// Endpoint is the host:port the event concerns.
	Endpoint string

	// Attempt is the failure counter for retry events and the fallback
	// counter for cluster events.
	Attempt int

	// Delay is the wait armed by WaitingBeforeRetry and FallingBack.
	Delay time.Duration

	// Topic is set for Subscribed and MaxPublishRetriesReached.
	Topic string

	// Err carries the cause for failure events.
	Err error

	Time time.Time
}

// Listener receives lifecycle events. HandleEvent runs on the executor and
// must not block.
type Listener interface {
	HandleEvent(ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev Event)

// HandleEvent implements Listener.
func (f ListenerFunc) HandleEvent(ev Event) { f(ev) }

// Emitter fans events out to registered listeners. A panicking listener is
// recovered and logged; remaining listeners still run.
type Emitter struct {
	mu        sync.RWMutex
	listeners []Listener
	logger    Logger
}

// NewEmitter creates an Emitter that logs listener panics to logger.
func NewEmitter(logger Logger) *Emitter {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Emitter{logger: logger}
}

// Add registers a listener. Nil listeners are ignored.
func (e *Emitter) Add(l Listener) {
	if l == nil {
		return
	}
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

// Emit delivers ev to every listener in registration order.
func (e *Emitter) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	e.mu.RLock()
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.RUnlock()

	for _, l := range listeners {
		e.deliver(l, ev)
	}
}

func (e *Emitter) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lifecycle listener panic recovered",
				"event", ev.Type.String(),
				"panic", r,
			)
		}
	}()
	l.HandleEvent(ev)
}
