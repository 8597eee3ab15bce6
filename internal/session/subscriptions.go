package session

import (
	"fmt"
	"sync"

	"github.com/nerrad567/brokerlink/internal/infrastructure/config"
)

// DispatchMode decides which handlers receive a message when several are
// registered for the same topic.
type DispatchMode int

const (
	// DispatchFirst invokes only the earliest registered handler.
	DispatchFirst DispatchMode = iota

	// DispatchAll invokes every matching handler in registration order.
	DispatchAll
)

// ParseDispatchMode converts the config value ("first" or "all").
func ParseDispatchMode(s string) (DispatchMode, error) {
	switch s {
	case "", config.DispatchFirst:
		return DispatchFirst, nil
	case config.DispatchAll:
		return DispatchAll, nil
	default:
		return DispatchFirst, fmt.Errorf("unknown dispatch mode %q", s)
	}
}

// Subscription pairs a topic with the handler registered for it.
type Subscription struct {
	Topic   string
	Handler MessageHandler
}

// Subscriptions is the ordered, session-durable subscription set. It is
// handed from one Connection to the next on fallover. Duplicate topics are
// kept as separate entries.
type Subscriptions struct {
	mu      sync.RWMutex
	entries []Subscription
}

// NewSubscriptions creates an empty set.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{}
}

// Add appends an entry.
func (s *Subscriptions) Add(topic string, handler MessageHandler) {
	s.mu.Lock()
	s.entries = append(s.entries, Subscription{Topic: topic, Handler: handler})
	s.mu.Unlock()
}

// Remove deletes the first entry for topic. It reports whether an entry was
// removed and how many entries for topic remain.
func (s *Subscriptions) Remove(topic string) (removed bool, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.Topic != topic {
			continue
		}
		if !removed {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			removed = true
			break
		}
	}
	for _, e := range s.entries {
		if e.Topic == topic {
			remaining++
		}
	}
	return removed, remaining
}

// Topics returns every entry's topic in registration order, duplicates
// included.
func (s *Subscriptions) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	topics := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		topics = append(topics, e.Topic)
	}
	return topics
}

// DistinctTopics returns each topic once, ordered by first registration.
func (s *Subscriptions) DistinctTopics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(s.entries))
	topics := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		if _, ok := seen[e.Topic]; ok {
			continue
		}
		seen[e.Topic] = struct{}{}
		topics = append(topics, e.Topic)
	}
	return topics
}

// Handlers returns the handlers registered for exactly topic, in
// registration order.
func (s *Subscriptions) Handlers(topic string) []MessageHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var handlers []MessageHandler
	for _, e := range s.entries {
		if e.Topic == topic {
			handlers = append(handlers, e.Handler)
		}
	}
	return handlers
}

// Len returns the number of entries.
func (s *Subscriptions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
