package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/brokerlink/internal/session"
)

func receive(t *testing.T, s *Subscription) session.Event {
	t.Helper()
	select {
	case ev, ok := <-s.C():
		require.True(t, ok, "subscription channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return session.Event{}
	}
}

func TestBus_DeliversOnlySubscribedTypes(t *testing.T) {
	bus := New(8, nil)
	defer bus.Close()

	sub := bus.Subscribe(session.EventConnected, session.EventMaxFallbackRetriesReached)
	require.NotNil(t, sub)

	bus.HandleEvent(session.Event{Type: session.EventConnecting, Endpoint: "a:1883"})
	bus.HandleEvent(session.Event{Type: session.EventConnected, Endpoint: "a:1883"})
	bus.HandleEvent(session.Event{Type: session.EventSubscribed, Topic: "x"})
	bus.HandleEvent(session.Event{Type: session.EventMaxFallbackRetriesReached})

	assert.Equal(t, session.EventConnected, receive(t, sub).Type)
	assert.Equal(t, session.EventMaxFallbackRetriesReached, receive(t, sub).Type)

	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event %v", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SubscribeAllPreservesOrder(t *testing.T) {
	bus := New(16, nil)
	defer bus.Close()

	sub := bus.Subscribe()
	sent := []session.EventType{
		session.EventEndpointSelected,
		session.EventConnecting,
		session.EventFailedToConnect,
		session.EventWaitingBeforeRetry,
		session.EventRetryStarted,
		session.EventConnected,
	}
	for _, typ := range sent {
		bus.HandleEvent(session.Event{Type: typ})
	}

	var got []session.EventType
	for range sent {
		got = append(got, receive(t, sub).Type)
	}
	assert.Equal(t, sent, got)
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New(8, nil)
	defer bus.Close()

	a := bus.Subscribe(session.EventConnected)
	b := bus.Subscribe()

	bus.HandleEvent(session.Event{Type: session.EventConnected, Endpoint: "a:1883"})

	assert.Equal(t, "a:1883", receive(t, a).Endpoint)
	assert.Equal(t, "a:1883", receive(t, b).Endpoint)
}

func TestSubscription_Close(t *testing.T) {
	bus := New(8, nil)
	defer bus.Close()

	sub := bus.Subscribe()
	sub.Close()
	sub.Close()

	select {
	case _, ok := <-sub.C():
		assert.False(t, ok, "channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed")
	}

	// Publishing after a subscriber left must not block.
	bus.HandleEvent(session.Event{Type: session.EventConnected})
}

func TestBus_Close(t *testing.T) {
	bus := New(8, nil)
	sub := bus.Subscribe()

	bus.Close()
	bus.Close()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.C():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	assert.NotPanics(t, func() { bus.HandleEvent(session.Event{Type: session.EventConnected}) })
	assert.Nil(t, bus.Subscribe())
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := New(1, nil)
	defer bus.Close()

	sub := bus.Subscribe()
	const sent = 50

	done := make(chan struct{})
	go func() {
		for i := 0; i < sent; i++ {
			bus.HandleEvent(session.Event{Type: session.EventConnecting, Attempt: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing blocked on a slow subscriber")
	}

	assert.Eventually(t, func() bool {
		return sub.Dropped()+uint64(len(sub.C())) == sent
	}, 2*time.Second, 10*time.Millisecond)
	assert.Positive(t, sub.Dropped())
}

func TestNew_DefaultCapacity(t *testing.T) {
	bus := New(0, nil)
	defer bus.Close()
	assert.Equal(t, DefaultCapacity, bus.capacity)
}
