package session

// State is the lifecycle state of a Connection.
type State int

const (
	// StateDisconnected means no transport handle exists.
	StateDisconnected State = iota

	// StateConnecting means a connect attempt is in flight.
	StateConnecting

	// StateRetrying means the last attempt failed and a retry timer is armed.
	StateRetrying

	// StateConnected means the transport is up and subscriptions are issued.
	StateConnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateRetrying:
		return "retrying"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
