package session

// State is the connection status of a session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
	// Reconnecting waits out a backoff delay before the next automatic
	// connect attempt.
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	case Reconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Online reports whether outbound sends are permitted.
func (s State) Online() bool { return s == Connected }

// Placeholder is the hint an input box shows in this state.
func (s State) Placeholder() string {
	switch s {
	case Connected:
		return "TYPE MESSAGE..."
	case Reconnecting:
		return "RECONNECTING..."
	}
	return "CONNECTING..."
}
