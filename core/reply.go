package core

// AgentReply is the terminal product of one conversational turn. ToolCalls
// lists every descriptor dispatched during the turn with its final status.
// Degraded is set when the reply is a best-effort fallback (tool round cap
// reached or model backends exhausted) rather than a normal completion.
type AgentReply struct {
	SessionID string               `json:"session_id"`
	Reply     string               `json:"reply"`
	ToolCalls []ToolCallDescriptor `json:"tool_calls_made"`
	Degraded  bool                 `json:"degraded,omitempty"`
}
