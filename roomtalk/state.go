package roomtalk

// SessionState represents where a room session is in its lifecycle.
type SessionState int

const (
	// StateIdle means Open has not been called yet.
	StateIdle SessionState = iota

	// StateConnecting means the transport dial is in progress.
	StateConnecting

	// StateAuthenticating means the token is being sent as the first frame.
	StateAuthenticating

	// StateReplayingHistory means the backlog fetch is in flight; live
	// frames are already being consumed concurrently.
	StateReplayingHistory

	// StateStreaming means the session is fully established.
	StateStreaming

	// StateErrored means the session failed and must be re-opened by the
	// caller; it is absorbing.
	StateErrored

	// StateClosed means the caller closed the session.
	StateClosed
)

// String returns the string representation of a SessionState.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReplayingHistory:
		return "replaying_history"
	case StateStreaming:
		return "streaming"
	case StateErrored:
		return "errored"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// terminal reports whether no further transitions can happen.
func (s SessionState) terminal() bool {
	return s == StateErrored || s == StateClosed
}

// StateEvent represents a state change.
type StateEvent struct {
	Old SessionState
	New SessionState
	Err error // cause of the transition into StateErrored, nil otherwise
}
