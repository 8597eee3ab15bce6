// Package notify fans lifecycle events out to independent consumers.
//
// A Bus is a session.Listener. Register it on the cluster supervisor and
// each consumer (journal, telemetry, console) subscribes to the event types
// it cares about and drains its own channel. Delivery is best-effort: a
// consumer that falls behind loses events instead of stalling the event
// loop.
package notify
