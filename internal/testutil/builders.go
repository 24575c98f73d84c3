package testutil

import (
	"fmt"
	"time"

	"github.com/polytool/polytool/core"
)

// SessionBuilder assembles a core.Session with sequenced turns.
type SessionBuilder struct {
	session *core.Session
}

// NewSessionBuilder starts a builder for the given session id.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{session: core.NewSession(id)}
}

// WithUserTurn appends a sequenced user turn.
func (b *SessionBuilder) WithUserTurn(content string) *SessionBuilder {
	return b.withTurn(core.RoleUser, content, nil)
}

// WithAgentTurn appends a sequenced agent turn.
func (b *SessionBuilder) WithAgentTurn(content string) *SessionBuilder {
	return b.withTurn(core.RoleAgent, content, nil)
}

// WithToolTurn appends a sequenced tool turn carrying a terminal descriptor.
func (b *SessionBuilder) WithToolTurn(content string, call *core.ToolCallDescriptor) *SessionBuilder {
	return b.withTurn(core.RoleTool, content, call)
}

func (b *SessionBuilder) withTurn(role core.Role, content string, call *core.ToolCallDescriptor) *SessionBuilder {
	b.session.Turns = append(b.session.Turns, core.Turn{
		Seq:       b.session.NextSeq(),
		Role:      role,
		Content:   content,
		ToolCall:  call,
		Timestamp: time.Now().UTC(),
	})
	return b
}

// Build returns the assembled session.
func (b *SessionBuilder) Build() *core.Session { return b.session }

// Fragments generates n fragments for a session with ascending timestamps
// spaced one second apart, oldest first.
func Fragments(sessionID string, n int) []core.Fragment {
	base := time.Now().UTC().Add(-time.Duration(n) * time.Second)
	out := make([]core.Fragment, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, core.Fragment{
			ID:        fmt.Sprintf("frag-%d", i),
			SessionID: sessionID,
			Text:      fmt.Sprintf("fragment %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
	return out
}
