package model

import (
	"context"
	"encoding/json"

	"github.com/polytool/polytool/core"
)

// GenerationParams carries the provider-agnostic generation knobs. Zero
// values let each backend apply its own defaults.
type GenerationParams struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int64   `json:"max_tokens,omitempty"`
}

// FunctionDefinition describes an individual function (tool) exposed to the
// model. Parameters is a JSON-schema object (minimal subset).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// ToolCall is a normalized tool invocation request surfaced by a backend.
// Arguments is the raw JSON argument payload; decoding is deferred to the
// gateway boundary so malformed arguments fail there, not here.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// TokenUsage captures token statistics reported by a backend.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is the normalized model input: instructions, the ordered recent
// turn window, retrieved context fragment texts and tool definitions.
// Backends must preserve turn order exactly.
type Request struct {
	Instructions string           `json:"instructions,omitempty"`
	Turns        []core.Turn      `json:"turns"`
	Context      []string         `json:"context,omitempty"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Params       GenerationParams `json:"params,omitempty"`
}

// Response is the normalized model output. A non-empty ToolCalls slice means
// the model requests tool execution before it can finish the turn.
type Response struct {
	Backend      string     `json:"backend"`
	Text         string     `json:"text"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        TokenUsage `json:"usage"`
}

// Backend is the provider contract. Implementations translate the
// normalized Request into vendor API calls and report availability through
// the typed errors in this package (RateLimitedError, BackendUnavailableError).
type Backend interface {
	// Name returns the stable identifier used for registration, hints and
	// health tracking.
	Name() string

	// Complete performs one generation call. It must not reorder req.Turns.
	Complete(ctx context.Context, req Request) (*Response, error)
}
