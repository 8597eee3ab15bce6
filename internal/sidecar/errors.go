package sidecar

import "errors"

var (
	// ErrAlreadyRunning is returned by Start when the broker is already up.
	ErrAlreadyRunning = errors.New("sidecar broker is already running")

	// ErrNotReady means the broker did not accept connections within the
	// ready timeout.
	ErrNotReady = errors.New("sidecar broker not ready")

	// ErrUnhealthy marks a broker killed by the watchdog.
	ErrUnhealthy = errors.New("sidecar broker unhealthy")
)
