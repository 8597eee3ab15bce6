package session

import "errors"

// Errors carried on lifecycle events. Use errors.Is() to check for them.
var (
	// ErrConnectionLost wraps the transport error when an established link drops.
	ErrConnectionLost = errors.New("session: connection lost")

	// ErrMaxConnectionRetries is attached to EventMaxConnectionRetriesReached.
	ErrMaxConnectionRetries = errors.New("session: max connection retries reached")

	// ErrMaxPublishRetries is attached to EventMaxPublishRetriesReached.
	ErrMaxPublishRetries = errors.New("session: max publish retries reached")

	// ErrNilClient is reported when a Dialer returns no client.
	ErrNilClient = errors.New("session: dialer returned nil client")
)

// ErrMissingCollaborator is returned by New when Dialer or Executor is nil.
var ErrMissingCollaborator = errors.New("session: dialer and executor are required")
