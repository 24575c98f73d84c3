package postgres

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polytool/polytool/core"
)

func TestOptionsClamping(t *testing.T) {
	s := NewFromDB(nil, func(o *Options) {
		o.FragmentCap = 10
		o.MinRecentWindow = 50
	})
	assert.Equal(t, 10, s.opts.FragmentCap)
	assert.Equal(t, 9, s.opts.MinRecentWindow, "recent window must stay below the cap")
	assert.NotNil(t, s.opts.Summarizer)
}

func TestToTurnRoundTrip(t *testing.T) {
	call := core.ToolCallDescriptor{
		CallID: "call-1",
		Tool:   "weather",
		Args:   map[string]any{"city": "Berlin"},
		Status: core.CallSucceeded,
	}
	raw, err := json.Marshal(&call)
	require.NoError(t, err)

	turn, err := toTurn(turnRow{
		Seq:       3,
		Role:      "tool",
		Content:   `{"temp": 18}`,
		ToolCall:  raw,
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, turn.Seq)
	assert.Equal(t, core.RoleTool, turn.Role)
	require.NotNil(t, turn.ToolCall)
	assert.Equal(t, "weather", turn.ToolCall.Tool)
	assert.Equal(t, core.CallSucceeded, turn.ToolCall.Status)
}

func TestToFragmentDecodesVector(t *testing.T) {
	frag, err := toFragment(fragmentRow{
		ID:        "f1",
		SessionID: "s1",
		Text:      "hello",
		Vector:    json.RawMessage(`[0.5, 0.25]`),
		Tags:      []string{"user"},
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, frag.Vector)

	frag, err = toFragment(fragmentRow{ID: "f2", SessionID: "s1", Text: "no vector"})
	require.NoError(t, err)
	assert.Nil(t, frag.Vector)
}
