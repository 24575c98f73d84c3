package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRecent(t *testing.T) {
	s := NewSession("s1")
	for i := 1; i <= 5; i++ {
		s.Turns = append(s.Turns, Turn{Seq: i, Role: RoleUser, Content: fmt.Sprintf("m%d", i)})
	}

	recent := s.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "m3", recent[0].Content)
	assert.Equal(t, "m5", recent[2].Content)

	assert.Empty(t, s.Recent(0))
	assert.Len(t, s.Recent(100), 5)
}

func TestSessionNextSeq(t *testing.T) {
	s := NewSession("s1")
	assert.Equal(t, 1, s.NextSeq())

	s.Turns = append(s.Turns, Turn{Seq: 1})
	s.Turns = append(s.Turns, Turn{Seq: 2})
	assert.Equal(t, 3, s.NextSeq())
}

func TestSessionCloneIsolation(t *testing.T) {
	s := NewSession("s1")
	s.Turns = append(s.Turns, Turn{
		Seq:      1,
		Role:     RoleAgent,
		ToolCall: &ToolCallDescriptor{CallID: "c1", Tool: "echo", Args: map[string]any{"x": 1}, Status: CallPending},
	})

	c := s.Clone()
	c.Turns[0].ToolCall.Args["x"] = 2
	c.Turns[0].ToolCall.Status = CallSucceeded

	assert.Equal(t, 1, s.Turns[0].ToolCall.Args["x"])
	assert.Equal(t, CallPending, s.Turns[0].ToolCall.Status)
}

func TestCallStatusTerminal(t *testing.T) {
	assert.False(t, CallPending.Terminal())
	assert.True(t, CallSucceeded.Terminal())
	assert.True(t, CallFailed.Terminal())
	assert.True(t, CallTimedOut.Terminal())
}

type kindedErr struct{ kind Kind }

func (e *kindedErr) Error() string   { return "kinded" }
func (e *kindedErr) ErrorKind() Kind { return e.kind }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindUnknown},
		{name: "plain error", err: errors.New("boom"), want: KindUnknown},
		{name: "validation", err: &ValidationError{Field: "message", Reason: "empty"}, want: KindValidation},
		{name: "fatal", err: &FatalError{Op: "append", Err: errors.New("gap")}, want: KindFatal},
		{name: "wrapped kinder", err: fmt.Errorf("outer: %w", &kindedErr{kind: KindTransient}), want: KindTransient},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: KindTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}
