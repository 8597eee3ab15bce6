package notify

import (
	"sync"
	"sync/atomic"

	"github.com/cskr/pubsub"

	"github.com/nerrad567/brokerlink/internal/session"
)

// DefaultCapacity is the per-subscriber buffer used when New gets a
// non-positive capacity.
const DefaultCapacity = 64

// Logger defines the logging interface used by the bus.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Bus publishes lifecycle events on a topic per event type.
type Bus struct {
	ps       *pubsub.PubSub
	capacity int
	logger   Logger

	mu     sync.Mutex
	closed bool
	subs   map[*Subscription]struct{}
}

// New creates a Bus whose subscriber channels buffer capacity events.
func New(capacity int, logger Logger) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bus{
		ps:       pubsub.New(capacity),
		capacity: capacity,
		logger:   logger,
		subs:     make(map[*Subscription]struct{}),
	}
}

// HandleEvent implements session.Listener.
func (b *Bus) HandleEvent(ev session.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.ps.Pub(ev, ev.Type.String())
}

// Subscribe returns a subscription to the given event types, or to every
// type when none are given. It returns nil after Close.
func (b *Bus) Subscribe(types ...session.EventType) *Subscription {
	if len(types) == 0 {
		types = session.AllEventTypes()
	}
	topics := make([]string, 0, len(types))
	for _, t := range types {
		topics = append(topics, t.String())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}

	s := &Subscription{
		bus:    b,
		topics: topics,
		raw:    b.ps.Sub(topics...),
		out:    make(chan session.Event, b.capacity),
	}
	b.subs[s] = struct{}{}
	go s.forward()
	return s
}

// Close unsubscribes everyone and stops the bus. Subscription channels are
// closed once drained.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for s := range subs {
		s.unsub()
	}
	b.ps.Shutdown()
}

func (b *Bus) remove(s *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	if _, ok := b.subs[s]; !ok {
		return false
	}
	delete(b.subs, s)
	return true
}

// Subscription is one consumer's view of the bus.
type Subscription struct {
	bus     *Bus
	topics  []string
	raw     chan interface{}
	out     chan session.Event
	once    sync.Once
	dropped atomic.Uint64
}

// C returns the channel events are delivered on. It is closed after Close.
func (s *Subscription) C() <-chan session.Event {
	return s.out
}

// Dropped returns how many events were discarded because the consumer was
// not keeping up.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops delivery to this subscription.
func (s *Subscription) Close() {
	if s.bus.remove(s) {
		s.unsub()
	}
}

func (s *Subscription) unsub() {
	s.once.Do(func() {
		s.bus.ps.Unsub(s.raw, s.topics...)
	})
}

// forward copies events from the pubsub channel, dropping when out is full.
func (s *Subscription) forward() {
	defer close(s.out)
	for msg := range s.raw {
		ev, ok := msg.(session.Event)
		if !ok {
			continue
		}
		select {
		case s.out <- ev:
		default:
			n := s.dropped.Add(1)
			s.bus.logger.Warn("event subscriber falling behind, dropping event",
				"event", ev.Type.String(),
				"dropped", n,
			)
		}
	}
}
