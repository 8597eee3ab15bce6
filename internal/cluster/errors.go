package cluster

import "errors"

// Sentinel errors for supervisor construction and health checks.
var (
	// ErrNoEndpoints is returned by New when the endpoint list is empty.
	ErrNoEndpoints = errors.New("cluster: at least one endpoint is required")

	// ErrMissingCollaborator is returned by New when Dialer or Executor is nil.
	ErrMissingCollaborator = errors.New("cluster: dialer and executor are required")

	// ErrInactive is returned by HealthCheck when the supervisor is not active.
	ErrInactive = errors.New("cluster: supervisor is not active")

	// ErrNotConnected is returned by HealthCheck when the current connection
	// is not connected.
	ErrNotConnected = errors.New("cluster: not connected to any endpoint")

	// ErrMaxFallbackRetries is attached to EventMaxFallbackRetriesReached.
	ErrMaxFallbackRetries = errors.New("cluster: max fallback retries reached")
)
