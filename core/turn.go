package core

import "time"

// Role identifies the author of a Turn.
type Role string

const (
	// RoleUser marks input originating from the client.
	RoleUser Role = "user"
	// RoleAgent marks model-generated replies and tool call requests.
	RoleAgent Role = "agent"
	// RoleTool marks the recorded outcome of a tool invocation.
	RoleTool Role = "tool"
	// RoleSystem marks injected instructions; never persisted to a session.
	RoleSystem Role = "system"
)

// CallStatus tracks the lifecycle of a single tool invocation. Transitions
// are one-way: CallPending moves to exactly one of the terminal states and
// never back.
type CallStatus string

const (
	// CallPending is the initial status of every descriptor.
	CallPending CallStatus = "pending"
	// CallSucceeded means the tool returned a result within budget.
	CallSucceeded CallStatus = "succeeded"
	// CallFailed means the tool returned an error or rejected the arguments.
	CallFailed CallStatus = "failed"
	// CallTimedOut means the tool exceeded its latency budget. The underlying
	// side effect may still have completed; callers must treat the outcome as
	// unknown.
	CallTimedOut CallStatus = "timed_out"
)

// Terminal reports whether the status is one of the end states.
func (s CallStatus) Terminal() bool {
	return s == CallSucceeded || s == CallFailed || s == CallTimedOut
}

// ToolCallDescriptor identifies one tool invocation requested by the model.
// CallID is unique per turn; Args key order carries no meaning.
type ToolCallDescriptor struct {
	CallID string         `json:"call_id"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
	Status CallStatus     `json:"status"`
}

// Clone returns an independent copy of the descriptor.
func (d ToolCallDescriptor) Clone() ToolCallDescriptor {
	c := d
	if d.Args != nil {
		c.Args = make(map[string]any, len(d.Args))
		for k, v := range d.Args {
			c.Args[k] = v
		}
	}
	return c
}

// Turn is one atomic contribution to a session: a user message, an agent
// reply (optionally requesting a tool call), or a tool result. Seq is
// assigned by the memory store on append, strictly increasing and gapless
// within a session. A Turn is immutable once appended.
type Turn struct {
	Seq       int                 `json:"seq"`
	Role      Role                `json:"role"`
	Content   string              `json:"content"`
	ToolCall  *ToolCallDescriptor `json:"tool_call,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	c := t
	if t.ToolCall != nil {
		tc := t.ToolCall.Clone()
		c.ToolCall = &tc
	}
	return c
}

// NewUserTurn builds an unsequenced user turn; the memory store assigns Seq.
func NewUserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

// NewAgentTurn builds an unsequenced agent turn, optionally carrying a tool
// call request.
func NewAgentTurn(content string, call *ToolCallDescriptor) Turn {
	return Turn{Role: RoleAgent, Content: content, ToolCall: call, Timestamp: time.Now().UTC()}
}

// NewToolTurn builds an unsequenced tool turn recording an invocation
// outcome. The descriptor must be in a terminal status.
func NewToolTurn(content string, call *ToolCallDescriptor) Turn {
	return Turn{Role: RoleTool, Content: content, ToolCall: call, Timestamp: time.Now().UTC()}
}
