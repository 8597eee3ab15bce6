package influxdb

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/brokerlink/internal/infrastructure/config"
	"github.com/nerrad567/brokerlink/internal/session"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

func (w *fakeWriter) count() (points, flushes int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.points), w.flushes
}

type fakePinger struct {
	healthy bool
	err     error
	closed  bool
}

func (p *fakePinger) Ping(context.Context) (bool, error) { return p.healthy, p.err }
func (p *fakePinger) Close()                             { p.closed = true }

func tagMap(p *write.Point) map[string]string {
	m := make(map[string]string)
	for _, t := range p.TagList() {
		m[t.Key] = t.Value
	}
	return m
}

func fieldMap(p *write.Point) map[string]interface{} {
	m := make(map[string]interface{})
	for _, f := range p.FieldList() {
		m[f.Key] = f.Value
	}
	return m
}

func TestLifecyclePoint(t *testing.T) {
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	p := LifecyclePoint(session.Event{
		Type:     session.EventWaitingBeforeRetry,
		Endpoint: "broker.local:1883",
		Attempt:  2,
		Delay:    250 * time.Millisecond,
		Err:      errors.New("refused"),
		Time:     at,
	})

	if p.Name() != MeasurementLifecycle {
		t.Errorf("Name() = %q, want %q", p.Name(), MeasurementLifecycle)
	}
	if !p.Time().Equal(at) {
		t.Errorf("Time() = %v, want %v", p.Time(), at)
	}

	tags := tagMap(p)
	if tags["event"] != "waiting-before-retry" || tags["endpoint"] != "broker.local:1883" {
		t.Errorf("tags = %v", tags)
	}

	fields := fieldMap(p)
	if fields["attempt"] != int64(2) {
		t.Errorf("attempt = %v, want 2", fields["attempt"])
	}
	if fields["delay_ms"] != int64(250) {
		t.Errorf("delay_ms = %v, want 250", fields["delay_ms"])
	}
	if fields["failed"] != true || fields["error"] != "refused" {
		t.Errorf("error fields = %v", fields)
	}
	if _, ok := fields["topic"]; ok {
		t.Error("topic field should be omitted when empty")
	}
}

func TestLifecyclePoint_TopicIsField(t *testing.T) {
	p := LifecyclePoint(session.Event{Type: session.EventSubscribed, Topic: "site/#"})

	if _, ok := tagMap(p)["topic"]; ok {
		t.Error("topic must not be a tag")
	}
	if fieldMap(p)["topic"] != "site/#" {
		t.Errorf("topic field = %v, want site/#", fieldMap(p)["topic"])
	}
	if _, ok := tagMap(p)["endpoint"]; ok {
		t.Error("endpoint tag should be omitted when empty")
	}
}

func TestRun_WritesAndFlushes(t *testing.T) {
	w := &fakeWriter{}
	c := newClient(&fakePinger{healthy: true}, w, config.InfluxDBConfig{})

	events := make(chan session.Event, 2)
	events <- session.Event{Type: session.EventConnecting}
	events <- session.Event{Type: session.EventConnected}
	close(events)

	c.Run(context.Background(), events)

	points, flushes := w.count()
	if points != 2 {
		t.Errorf("Run() wrote %d points, want 2", points)
	}
	if flushes != 1 {
		t.Errorf("Run() flushed %d times, want 1", flushes)
	}
}

func TestWriteEvent_AfterClose(t *testing.T) {
	w := &fakeWriter{}
	p := &fakePinger{healthy: true}
	c := newClient(p, w, config.InfluxDBConfig{})

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !p.closed {
		t.Error("Close() did not close the client")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	c.WriteEvent(session.Event{Type: session.EventConnected})
	if points, _ := w.count(); points != 0 {
		t.Errorf("WriteEvent() after Close wrote %d points, want 0", points)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("HealthCheck() error = %v, want ErrClosed", err)
	}
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	c := newClient(&fakePinger{healthy: false}, &fakeWriter{}, config.InfluxDBConfig{})
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrUnhealthy) {
		t.Errorf("HealthCheck() error = %v, want ErrUnhealthy", err)
	}

	c = newClient(&fakePinger{err: errors.New("boom")}, &fakeWriter{}, config.InfluxDBConfig{})
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrUnreachable) {
		t.Errorf("HealthCheck() error = %v, want ErrUnreachable", err)
	}
}

func TestHandleWriteErrors(t *testing.T) {
	c := newClient(&fakePinger{healthy: true}, &fakeWriter{}, config.InfluxDBConfig{})

	var got []error
	c.SetOnError(func(err error) { got = append(got, err) })

	ch := make(chan error, 1)
	ch <- errors.New("write failed")
	close(ch)
	c.handleWriteErrors(ch)

	if len(got) != 1 {
		t.Fatalf("onError called %d times, want 1", len(got))
	}
	if !errors.Is(got[0], ErrWriteRejected) || !strings.Contains(got[0].Error(), "write failed") {
		t.Errorf("onError error = %v, want ErrWriteRejected wrapping the cause", got[0])
	}
}
