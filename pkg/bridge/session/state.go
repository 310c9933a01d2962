package session

// State is the session lifecycle phase. Transitions only move forward;
// Closing and Closed are terminal regardless of the phase they interrupt.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConfiguring
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConfiguring:
		return "configuring"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
