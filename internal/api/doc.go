// Package api implements the admin HTTP API and WebSocket event stream for
// a running brokerlink daemon.
//
// This package provides:
//   - REST endpoints for session status, endpoint listing and the lifecycle journal
//   - Operator actions: connect, disconnect and publish through the managed session
//   - WebSocket event stream relaying lifecycle events from the notify bus
//   - Bearer token authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Routes
//
//	GET  /api/v1/health              no auth; 503 unless the session is connected
//	POST /api/v1/auth/ws-ticket      events:read
//	GET  /api/v1/ws?ticket=...       single-use ticket
//	GET  /api/v1/status              status:read
//	GET  /api/v1/endpoints           status:read
//	GET  /api/v1/events              events:read
//	POST /api/v1/session/connect     session:control
//	POST /api/v1/session/disconnect  session:control
//	POST /api/v1/publish             message:publish
//
// # Event Stream
//
// A watcher sends {"op":"watch","ref":"1","events":["falling-back"]} to
// select kebab-case event names, or "*" for all of them, and "unwatch" to
// drop them again. Every change is acknowledged with the resulting filter.
// Unknown names are rejected and leave the filter unchanged. Events arrive
// as {"kind":"event","event":"falling-back","data":{...}}.
//
// # Graceful Degradation
//
// The server runs without the journal (GET /events answers 503) and without
// the notify bus (the WebSocket stream stays silent).
package api
