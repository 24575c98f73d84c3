package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polytool/polytool/core"
	"github.com/polytool/polytool/model"
)

func TestBuildMessagesRoles(t *testing.T) {
	call := &core.ToolCallDescriptor{
		CallID: "call-1",
		Tool:   "get_weather",
		Args:   map[string]any{"city": "Berlin"},
		Status: core.CallSucceeded,
	}
	turns := []core.Turn{
		{Seq: 1, Role: core.RoleUser, Content: "what's the weather?"},
		{Seq: 2, Role: core.RoleAgent, Content: "checking", ToolCall: call},
		{Seq: 3, Role: core.RoleTool, Content: `{"temp":18}`, ToolCall: call},
		{Seq: 4, Role: core.RoleAgent, Content: "18 degrees"},
	}

	msgs := buildMessages(turns)
	require.Len(t, msgs, 4)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	// Tool results travel inside a user message.
	assert.Equal(t, "user", string(msgs[2].Role))
	assert.Equal(t, "assistant", string(msgs[3].Role))

	// The tool-calling assistant message carries both text and tool_use.
	assert.Len(t, msgs[1].Content, 2)
}

func TestBuildMessagesSkipsDanglingToolTurn(t *testing.T) {
	msgs := buildMessages([]core.Turn{
		{Seq: 1, Role: core.RoleTool, Content: "orphaned result"},
	})
	assert.Empty(t, msgs)
}

func TestBuildToolsRequired(t *testing.T) {
	tools := buildTools([]model.ToolDefinition{{
		Type: "function",
		Function: model.FunctionDefinition{
			Name: "get_weather",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"city": map[string]any{"type": "string"},
				},
				"required": []any{"city"},
			},
		},
	}})
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, []string{"city"}, tools[0].OfTool.InputSchema.Required)
}

func TestRequiredFields(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, requiredFields([]string{"a", "b"}))
	assert.Equal(t, []string{"a"}, requiredFields([]any{"a", 1}))
	assert.Nil(t, requiredFields("not a list"))
}

func TestSystemTextCombinesContext(t *testing.T) {
	sys := systemText(model.Request{
		Instructions: "Be terse.",
		Context:      []string{"fact one"},
	})
	assert.Contains(t, sys, "Be terse.")
	assert.Contains(t, sys, "fact one")
}
