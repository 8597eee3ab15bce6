package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when lifecycle export is turned off.
	ErrDisabled = errors.New("influxdb: lifecycle export disabled")

	// ErrUnreachable wraps a failed ping during Connect.
	ErrUnreachable = errors.New("influxdb: server unreachable")

	// ErrUnhealthy means the server answered the ping but reported itself
	// not ready.
	ErrUnhealthy = errors.New("influxdb: server unhealthy")

	// ErrClosed is returned by health checks after Close.
	ErrClosed = errors.New("influxdb: exporter closed")

	// ErrWriteRejected wraps asynchronous batch failures passed to the
	// SetOnError callback.
	ErrWriteRejected = errors.New("influxdb: lifecycle write rejected")
)
