// Package cluster spreads one logical broker session across several
// candidate endpoints.
//
// A Supervisor owns the endpoint list and at most one current
// session.Connection. The connection handles its own connect and publish
// retries; when it gives up and reports Disconnected, the supervisor waits
// FallbackDelay, builds a fresh connection for the next endpoint and moves
// the durable subscription set onto it. Consecutive fallovers are bounded by
// MaxFallbackRetries and reset by any successful connect. Exhausting the
// budget deactivates the supervisor until Connect is called again.
//
// The supervisor and its connections share one executor, so a handover is
// never interleaved with other events.
package cluster
