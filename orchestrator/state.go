package orchestrator

// turnState tracks where a turn is in its lifecycle. Transitions only move
// forward; Finalized and Aborted are terminal.
type turnState int

const (
	stateAwaitingModel turnState = iota
	stateToolCallRequested
	stateAwaitingToolResult
	stateFinalized
	stateAborted
)

func (s turnState) String() string {
	switch s {
	case stateAwaitingModel:
		return "awaiting_model"
	case stateToolCallRequested:
		return "tool_call_requested"
	case stateAwaitingToolResult:
		return "awaiting_tool_result"
	case stateFinalized:
		return "finalized"
	case stateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}
