package eventloop

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Logger is the logging interface used by the loop.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Error(string, ...any) {}

// ErrStopped is returned by Flush when the loop stops before the barrier
// runs.
var ErrStopped = errors.New("eventloop: stopped")

// Loop executes posted tasks sequentially on one goroutine.
//
// The queue is unbounded so that a task may post further tasks without
// risking a deadlock against itself.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	started bool
	stopped bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}

	logger Logger
}

// New creates a loop. Call Start before posting work you expect to run.
func New() *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used for recovered task panics.
func (l *Loop) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	l.mu.Lock()
	l.logger = logger
	l.mu.Unlock()
}

// Start launches the loop goroutine. Calling Start twice is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.stopped {
		return
	}
	l.started = true
	go l.run()
}

// Stop terminates the loop and waits for the running task, if any, to
// finish. Tasks still queued are discarded.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	started := l.started
	l.queue = nil
	l.mu.Unlock()

	close(l.quit)
	if !started {
		// run never executes, so done is closed here instead.
		close(l.done)
		return
	}
	<-l.done
}

// Post enqueues fn. Posts after Stop are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		logger := l.logger
		l.mu.Unlock()
		logger.Debug("event loop stopped, dropping task")
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// AfterFunc posts fn onto the loop once d has elapsed. The returned
// function cancels the timer and reports whether it was still pending.
func (l *Loop) AfterFunc(d time.Duration, fn func()) (stop func() bool) {
	t := time.AfterFunc(d, func() {
		l.Post(fn)
	})
	return t.Stop
}

// Flush waits until every task posted before the call has run.
func (l *Loop) Flush(ctx context.Context) error {
	done := make(chan struct{})
	l.Post(func() { close(done) })

	select {
	case <-done:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		select {
		case <-l.quit:
			return
		case <-l.wake:
		}

		for {
			select {
			case <-l.quit:
				return
			default:
			}

			fn, ok := l.next()
			if !ok {
				break
			}
			l.execute(fn)
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

// execute runs a single task, recovering panics so a faulty task cannot
// take the loop down with it.
func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.mu.Lock()
			logger := l.logger
			l.mu.Unlock()
			logger.Error("event loop task panic recovered", "panic", r)
		}
	}()
	fn()
}
