package loop

// State is the driver lifecycle position
type State int32

const (
	// Idle is the state before Run is called
	Idle State = iota
	Connecting
	Running
	Draining
	Stopped
)

// String returns the lowercase state name
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "invalid"
	}
}
