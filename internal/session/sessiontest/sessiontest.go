// Package sessiontest provides in-memory collaborators for testing code that
// drives session.Connection.
package sessiontest

import (
	"sync"

	"github.com/nerrad567/brokerlink/internal/infrastructure/config"
	"github.com/nerrad567/brokerlink/internal/session"
)

// Message is a publish recorded by Client.
type Message struct {
	Topic   string
	Payload []byte
}

// Client is a scriptable session.Client. Completions are delivered
// synchronously unless Hold is set.
type Client struct {
	mu sync.Mutex

	// ConnectErrs is consumed one entry per Connect. When empty, ConnectErr
	// is used.
	ConnectErrs []error
	ConnectErr  error

	PublishErr   error
	SubscribeErr error

	// Hold parks Connect completions until Release is called.
	Hold bool

	held         []func(error)
	connects     int
	disconnects  int
	subscribed   []string
	unsubscribed []string
	published    []Message
}

// Connect implements session.Client.
func (c *Client) Connect(done func(err error)) {
	c.mu.Lock()
	c.connects++
	if c.Hold {
		c.held = append(c.held, done)
		c.mu.Unlock()
		return
	}
	err := c.ConnectErr
	if len(c.ConnectErrs) > 0 {
		err = c.ConnectErrs[0]
		c.ConnectErrs = c.ConnectErrs[1:]
	}
	c.mu.Unlock()
	done(err)
}

// Disconnect implements session.Client.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
}

// Subscribe implements session.Client.
func (c *Client) Subscribe(topic string, done func(err error)) {
	c.mu.Lock()
	c.subscribed = append(c.subscribed, topic)
	err := c.SubscribeErr
	c.mu.Unlock()
	done(err)
}

// Unsubscribe implements session.Client.
func (c *Client) Unsubscribe(topic string, done func(err error)) {
	c.mu.Lock()
	c.unsubscribed = append(c.unsubscribed, topic)
	c.mu.Unlock()
	done(nil)
}

// Publish implements session.Client.
func (c *Client) Publish(topic string, payload []byte, done func(err error)) {
	c.mu.Lock()
	c.published = append(c.published, Message{Topic: topic, Payload: payload})
	err := c.PublishErr
	c.mu.Unlock()
	done(err)
}

// Release completes every held Connect with err.
func (c *Client) Release(err error) {
	c.mu.Lock()
	held := c.held
	c.held = nil
	c.mu.Unlock()
	for _, done := range held {
		done(err)
	}
}

// Connects returns the number of Connect calls.
func (c *Client) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// Disconnects returns the number of Disconnect calls.
func (c *Client) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// Subscribed returns subscribed topics in call order.
func (c *Client) Subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribed...)
}

// Unsubscribed returns unsubscribed topics in call order.
func (c *Client) Unsubscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.unsubscribed...)
}

// Published returns recorded publishes in call order.
func (c *Client) Published() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.published...)
}

// Dialer hands out Clients and records the handlers of every dial.
type Dialer struct {
	mu sync.Mutex

	// NewClient builds the client for an endpoint. Nil means a fresh Client
	// per endpoint address, reused on re-dial. A nil result makes Dial
	// return no client.
	NewClient func(ep config.Endpoint) *Client

	clients  map[string]*Client
	dialed   []config.Endpoint
	handlers []session.Handlers
}

// Dial implements session.Dialer.
func (d *Dialer) Dial(ep config.Endpoint, h session.Handlers) session.Client {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dialed = append(d.dialed, ep)
	d.handlers = append(d.handlers, h)
	if d.NewClient != nil {
		if c := d.NewClient(ep); c != nil {
			return c
		}
		return nil
	}
	return d.clientLocked(ep.Address())
}

// Client returns the client for address, creating it when needed. Configure
// it before the first dial.
func (d *Dialer) Client(address string) *Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clientLocked(address)
}

func (d *Dialer) clientLocked(address string) *Client {
	if d.clients == nil {
		d.clients = make(map[string]*Client)
	}
	c, ok := d.clients[address]
	if !ok {
		c = &Client{}
		d.clients[address] = c
	}
	return c
}

// Dialed returns the endpoints dialed, in order.
func (d *Dialer) Dialed() []config.Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]config.Endpoint(nil), d.dialed...)
}

// Handlers returns the handlers passed to the most recent dial.
func (d *Dialer) Handlers() session.Handlers {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.handlers) == 0 {
		return session.Handlers{}
	}
	return d.handlers[len(d.handlers)-1]
}

// Recorder is a session.Listener that keeps every event.
type Recorder struct {
	mu     sync.Mutex
	events []session.Event
}

// HandleEvent implements session.Listener.
func (r *Recorder) HandleEvent(ev session.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns the recorded events.
func (r *Recorder) Events() []session.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []session.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]session.EventType, 0, len(r.events))
	for _, ev := range r.events {
		types = append(types, ev.Type)
	}
	return types
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t session.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// Last returns the most recent event of type t.
func (r *Recorder) Last(t session.EventType) (session.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return session.Event{}, false
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
