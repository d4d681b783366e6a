package relay

// State is a lifecycle state of the relay
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateRunning
	StateClosing
	StateRetrying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// States lists every lifecycle state
func States() []State {
	return []State{StateIdle, StateConnecting, StateRunning, StateClosing, StateRetrying}
}

// StateListener is called synchronously on every state transition
type StateListener func(from, to State)
