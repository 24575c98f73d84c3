package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polytool/polytool/core"
	"github.com/polytool/polytool/internal/testutil"
	"github.com/polytool/polytool/model"
)

func TestSystemText(t *testing.T) {
	req := model.Request{
		Instructions: "Be brief.",
		Context:      []string{"user likes trains", "user is in Berlin"},
	}
	sys := systemText(req)
	assert.Contains(t, sys, "Be brief.")
	assert.Contains(t, sys, "user likes trains")
	assert.Contains(t, sys, "user is in Berlin")

	assert.Empty(t, systemText(model.Request{}))
}

func TestBuildMessagesMapping(t *testing.T) {
	call := &core.ToolCallDescriptor{
		CallID: "call-1",
		Tool:   "get_weather",
		Args:   map[string]any{"city": "Berlin"},
		Status: core.CallSucceeded,
	}
	sess := testutil.NewSessionBuilder("sess-1").
		WithUserTurn("what's the weather?").
		WithAgentTurn("checking").
		Build()
	sess.Turns = append(sess.Turns,
		core.Turn{Seq: 3, Role: core.RoleAgent, ToolCall: call},
		core.Turn{Seq: 4, Role: core.RoleTool, Content: `{"temp":18}`, ToolCall: call},
	)

	msgs := buildMessages(model.Request{Instructions: "sys", Turns: sess.Turns})
	require.Len(t, msgs, 5)

	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	assert.NotNil(t, msgs[2].OfAssistant)

	require.NotNil(t, msgs[3].OfAssistant)
	require.Len(t, msgs[3].OfAssistant.ToolCalls, 1)
	tc := msgs[3].OfAssistant.ToolCalls[0]
	assert.Equal(t, "call-1", tc.ID)
	assert.Equal(t, "get_weather", tc.Function.Name)
	assert.JSONEq(t, `{"city":"Berlin"}`, tc.Function.Arguments)

	require.NotNil(t, msgs[4].OfTool)
	assert.Equal(t, "call-1", msgs[4].OfTool.ToolCallID)
}

func TestBuildMessagesWithoutSystem(t *testing.T) {
	msgs := buildMessages(model.Request{Turns: []core.Turn{
		{Seq: 1, Role: core.RoleUser, Content: "hi"},
	}})
	require.Len(t, msgs, 1)
	assert.NotNil(t, msgs[0].OfUser)
}
