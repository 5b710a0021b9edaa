package nms

// ConnState represents the current state of the realtime connection.
// Only the ConnectionManager transitions it; there is no external writer.
type ConnState int

const (
	// StateDisconnected means the client is not connected.
	StateDisconnected ConnState = iota

	// StateConnecting means the client is establishing a connection.
	StateConnecting

	// StateConnected means the client is connected and identified.
	StateConnected

	// StateReconnecting means the client is retrying after a drop.
	StateReconnecting

	// StateFailed means reconnect attempts are exhausted. The state is
	// terminal until RetryNow or a manual Connect.
	StateFailed
)

// String returns the string representation of a ConnState.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateChange is published to state subscribers on every transition.
type StateChange struct {
	Old ConnState
	New ConnState
	Err error // cause, when the transition was error-driven
}
