package connection

// State is the connection lifecycle position. Failed is non-terminal: the
// manager schedules re-entry into Connecting until the attempt budget is
// spent, at which point the state becomes the terminal GivenUp.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
	StateGivenUp
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateGivenUp:
		return "given_up"
	default:
		return "unknown"
	}
}
