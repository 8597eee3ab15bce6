package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/brokerlink/internal/auth"
	"github.com/nerrad567/brokerlink/internal/infrastructure/config"
	"github.com/nerrad567/brokerlink/internal/infrastructure/logging"
	"github.com/nerrad567/brokerlink/internal/session"
)

// Operations a watcher may send.
const (
	opWatch   = "watch"
	opUnwatch = "unwatch"
	opPing    = "ping"
)

// Frame kinds the server sends.
const (
	kindEvent = "event"
	kindAck   = "ack"
	kindPong  = "pong"
	kindError = "error"
)

const (
	// watchAll selects every lifecycle event.
	watchAll = "*"

	watcherBuffer = 256
)

// request is a frame from a watcher.
type request struct {
	Op     string   `json:"op"`
	Ref    string   `json:"ref,omitempty"`
	Events []string `json:"events,omitempty"`
}

// frame is a frame to a watcher. Event frames carry Event and Data, replies
// echo the request's Ref.
type frame struct {
	Kind     string     `json:"kind"`
	Ref      string     `json:"ref,omitempty"`
	Event    string     `json:"event,omitempty"`
	Data     *eventView `json:"data,omitempty"`
	Watching []string   `json:"watching,omitempty"`
	Message  string     `json:"message,omitempty"`
}

// eventFilter is the set of lifecycle events a watcher receives.
type eventFilter struct {
	all   bool
	types map[session.EventType]struct{}
}

// parseEventNames resolves kebab-case event names. "*" selects every event.
func parseEventNames(names []string) (all bool, types []session.EventType, err error) {
	if len(names) == 0 {
		return false, nil, fmt.Errorf("no events named")
	}
	for _, name := range names {
		if name == watchAll {
			all = true
			continue
		}
		t, ok := session.ParseEventType(name)
		if !ok {
			return false, nil, fmt.Errorf("unknown event %q", name)
		}
		types = append(types, t)
	}
	return all, types, nil
}

func (f *eventFilter) add(all bool, types []session.EventType) {
	if all {
		f.all = true
	}
	if f.types == nil {
		f.types = make(map[session.EventType]struct{}, len(types))
	}
	for _, t := range types {
		f.types[t] = struct{}{}
	}
}

func (f *eventFilter) remove(all bool, types []session.EventType) {
	if all {
		f.all = false
		f.types = nil
		return
	}
	for _, t := range types {
		delete(f.types, t)
	}
}

func (f *eventFilter) matches(t session.EventType) bool {
	if f.all {
		return true
	}
	_, ok := f.types[t]
	return ok
}

func (f *eventFilter) names() []string {
	if f.all {
		return []string{watchAll}
	}
	out := make([]string, 0, len(f.types))
	for t := range f.types {
		out = append(out, t.String())
	}
	sort.Strings(out)
	return out
}

// eventStream fans lifecycle events out to WebSocket watchers.
type eventStream struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu       sync.Mutex
	watchers map[*watcher]struct{}
}

// watcher is one WebSocket connection and its event filter.
type watcher struct {
	stream  *eventStream
	conn    *websocket.Conn
	subject string
	role    auth.Role

	out     chan []byte
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64

	mu     sync.Mutex
	filter eventFilter
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS middleware enforces origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

func newEventStream(cfg config.WebSocketConfig, logger *logging.Logger) *eventStream {
	return &eventStream{
		cfg:      cfg,
		logger:   logger,
		watchers: make(map[*watcher]struct{}),
	}
}

func (s *eventStream) newWatcher(conn *websocket.Conn, subject string, role auth.Role) *watcher {
	return &watcher{
		stream:  s,
		conn:    conn,
		subject: subject,
		role:    role,
		out:     make(chan []byte, watcherBuffer),
		done:    make(chan struct{}),
	}
}

// run blocks until ctx is cancelled, then drops every watcher.
func (s *eventStream) run(ctx context.Context) {
	<-ctx.Done()

	s.mu.Lock()
	ws := make([]*watcher, 0, len(s.watchers))
	for w := range s.watchers {
		ws = append(ws, w)
	}
	s.mu.Unlock()

	for _, w := range ws {
		s.remove(w)
	}
}

func (s *eventStream) add(w *watcher) {
	s.mu.Lock()
	s.watchers[w] = struct{}{}
	n := len(s.watchers)
	s.mu.Unlock()
	s.logger.Debug("event watcher connected", "subject", w.subject, "role", w.role, "watchers", n)
}

// remove detaches w and stops its writer. Safe to call more than once.
func (s *eventStream) remove(w *watcher) {
	s.mu.Lock()
	delete(s.watchers, w)
	n := len(s.watchers)
	s.mu.Unlock()

	w.once.Do(func() {
		close(w.done)
		if w.conn != nil {
			w.conn.Close()
		}
		s.logger.Debug("event watcher disconnected",
			"subject", w.subject,
			"dropped", w.dropped.Load(),
			"watchers", n,
		)
	})
}

func (s *eventStream) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

// publish delivers ev to every watcher whose filter matches it.
func (s *eventStream) publish(ev session.Event) {
	view := newEventView(ev)
	data, err := json.Marshal(frame{Kind: kindEvent, Event: ev.Type.String(), Data: &view})
	if err != nil {
		s.logger.Error("failed to encode lifecycle event", "event", ev.Type.String(), "error", err)
		return
	}

	s.mu.Lock()
	ws := make([]*watcher, 0, len(s.watchers))
	for w := range s.watchers {
		ws = append(ws, w)
	}
	s.mu.Unlock()

	for _, w := range ws {
		if w.wants(ev.Type) {
			w.deliver(data)
		}
	}
}

// handleWebSocket upgrades an authenticated request into an event watcher.
// The caller proves identity with a single-use ticket from POST
// /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.tickets.consume(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	wt := s.stream.newWatcher(conn, entry.subject, entry.role)
	s.stream.add(wt)
	go wt.writeLoop()
	go wt.readLoop()
}

func (w *watcher) wants(t session.EventType) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.filter.matches(t)
}

// deliver queues data without blocking. Frames for a full buffer are dropped.
func (w *watcher) deliver(data []byte) {
	select {
	case <-w.done:
		return
	default:
	}
	select {
	case w.out <- data:
	default:
		w.dropped.Add(1)
	}
}

func (w *watcher) reply(f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	w.deliver(data)
}

func (w *watcher) fail(ref, msg string) {
	w.reply(frame{Kind: kindError, Ref: ref, Message: msg})
}

func (w *watcher) readLoop() {
	defer w.stream.remove(w)

	cfg := w.stream.cfg
	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	w.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend := func() error { return w.conn.SetReadDeadline(time.Now().Add(idle)) }
	if err := extend(); err != nil {
		return
	}
	w.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.stream.logger.Warn("event watcher read failed", "subject", w.subject, "error", err)
			}
			return
		}
		if err := extend(); err != nil {
			return
		}
		w.handle(data)
	}
}

func (w *watcher) writeLoop() {
	cfg := w.stream.cfg
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer ping.Stop()

	write := func(kind int, data []byte) error {
		if err := w.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return w.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case <-w.done:
			return
		case data := <-w.out:
			if err := write(websocket.TextMessage, data); err != nil {
				w.stream.remove(w)
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				w.stream.remove(w)
				return
			}
		}
	}
}

// handle applies one request from the watcher.
func (w *watcher) handle(data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		w.fail("", "malformed request")
		return
	}

	switch req.Op {
	case opPing:
		w.reply(frame{Kind: kindPong, Ref: req.Ref})
	case opWatch, opUnwatch:
		all, types, err := parseEventNames(req.Events)
		if err != nil {
			w.fail(req.Ref, err.Error())
			return
		}
		w.mu.Lock()
		if req.Op == opWatch {
			w.filter.add(all, types)
		} else {
			w.filter.remove(all, types)
		}
		watching := w.filter.names()
		w.mu.Unlock()

		w.stream.logger.Debug("event watcher filter changed",
			"subject", w.subject,
			"op", req.Op,
			"watching", watching,
		)
		w.reply(frame{Kind: kindAck, Ref: req.Ref, Watching: watching})
	default:
		w.fail(req.Ref, fmt.Sprintf("unsupported op %q", req.Op))
	}
}
