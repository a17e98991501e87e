package orchestrator

// State is the loop's position in its idle -> processing -> dispatched cycle
type State int32

const (
	StateIdle State = iota
	StateProcessing
	StateDispatched
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateDispatched:
		return "dispatched"
	default:
		return "unknown"
	}
}
