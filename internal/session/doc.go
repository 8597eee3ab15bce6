// Package session keeps one logical broker connection alive.
//
// A Connection owns exactly one transport handle to one endpoint. It
// connects, retries failed attempts after a fixed delay up to the endpoint's
// retry budget, replays its durable subscriptions after every successful
// connect, and re-establishes the transport to retry failed publishes.
// Unsolicited link loss is folded into the same retry cycle. Exhausting a
// budget is terminal: the connection reports it and disconnects itself.
//
// # Threading
//
// All state lives on an Executor (normally an eventloop.Loop). Exported
// methods may be called from any goroutine; commands are posted to the
// executor and return immediately. Listeners and message handlers run on the
// executor and must not block.
//
// # States
//
//	Disconnected ──ConnectToServer──▶ Connecting ──ok──▶ Connected
//	                                     │  ▲                │
//	                                 fail│  │timer     link lost
//	                                     ▼  │                │
//	                                   Retrying ◀────────────┘
//
// Every timer and every asynchronous completion carries the generation that
// was current when it was scheduled; a mismatch means the transport was
// replaced or torn down in the meantime and the callback does nothing.
package session
