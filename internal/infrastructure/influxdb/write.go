package influxdb

import (
	"context"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/brokerlink/internal/session"
)

// MeasurementLifecycle is the measurement every lifecycle point lands in.
const MeasurementLifecycle = "mqtt_lifecycle"

// LifecyclePoint converts ev into a point tagged by event and endpoint.
//
// Topics are written as fields rather than tags to keep series
// cardinality bounded.
func LifecyclePoint(ev session.Event) *write.Point {
	tags := map[string]string{
		"event": ev.Type.String(),
	}
	if ev.Endpoint != "" {
		tags["endpoint"] = ev.Endpoint
	}

	fields := map[string]interface{}{
		"attempt":  int64(ev.Attempt),
		"delay_ms": ev.Delay.Milliseconds(),
		"failed":   ev.Err != nil,
	}
	if ev.Topic != "" {
		fields["topic"] = ev.Topic
	}
	if ev.Err != nil {
		fields["error"] = ev.Err.Error()
	}

	return write.NewPoint(MeasurementLifecycle, tags, fields, ev.Time)
}

// WriteEvent queues ev as a lifecycle point. The write is non-blocking.
func (c *Client) WriteEvent(ev session.Event) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(LifecyclePoint(ev))
}

// Run writes every event from events until ctx is cancelled or events is
// closed, then flushes.
func (c *Client) Run(ctx context.Context, events <-chan session.Event) {
	defer c.Flush()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.WriteEvent(ev)
		}
	}
}
