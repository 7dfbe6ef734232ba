package pipeline

// State is the lifecycle stage of one pool's pipeline.
type State int32

const (
	StateIdle State = iota
	StateBackfilling
	StateReconciling
	StateLive
	StateFailed
)

// AllStates lists every state, in lifecycle order.
var AllStates = []State{StateIdle, StateBackfilling, StateReconciling, StateLive, StateFailed}

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBackfilling:
		return "backfilling"
	case StateReconciling:
		return "reconciling"
	case StateLive:
		return "live"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func stateNames() []string {
	names := make([]string, len(AllStates))
	for i, s := range AllStates {
		names[i] = s.String()
	}
	return names
}
