package tool

import (
	"context"
	"time"

	"github.com/polytool/polytool/internal/util"
)

// DefaultMaxLatency is the latency budget applied when none is configured.
const DefaultMaxLatency = 10 * time.Second

// Handler is the function signature wrapped by FunctionTool.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// FunctionOptions configure a FunctionTool.
type FunctionOptions struct {
	Parameters map[string]any
	MaxLatency time.Duration
}

// WithParameters sets the JSON schema for the tool arguments.
func WithParameters(schema map[string]any) func(o *FunctionOptions) {
	return func(o *FunctionOptions) { o.Parameters = schema }
}

// WithMaxLatency overrides the per-call latency budget.
func WithMaxLatency(d time.Duration) func(o *FunctionOptions) {
	return func(o *FunctionOptions) { o.MaxLatency = d }
}

// FunctionTool adapts a plain Go function into a Tool.
type FunctionTool struct {
	name        string
	description string
	handler     Handler
	opts        FunctionOptions
}

var _ Tool = (*FunctionTool)(nil)

// NewFunctionTool creates a tool from a handler function. Without
// WithParameters the tool accepts any object.
func NewFunctionTool(name, description string, handler Handler, optFns ...func(o *FunctionOptions)) *FunctionTool {
	opts := FunctionOptions{
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		MaxLatency: DefaultMaxLatency,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &FunctionTool{
		name:        name,
		description: description,
		handler:     handler,
		opts:        opts,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct type
// via reflection. The struct's json tags name the fields and non-pointer,
// non-omitempty fields become required.
func NewFunctionToolFromStruct(name, description string, paramStruct any, handler Handler, optFns ...func(o *FunctionOptions)) *FunctionTool {
	schemaOpt := func(o *FunctionOptions) {
		o.Parameters = util.SchemaFromStruct(paramStruct)
	}
	return NewFunctionTool(name, description, handler, append([]func(o *FunctionOptions){schemaOpt}, optFns...)...)
}

// Name implements Tool.
func (t *FunctionTool) Name() string { return t.name }

// Description implements Tool.
func (t *FunctionTool) Description() string { return t.description }

// Parameters implements Tool.
func (t *FunctionTool) Parameters() map[string]any { return t.opts.Parameters }

// MaxLatency implements Tool.
func (t *FunctionTool) MaxLatency() time.Duration { return t.opts.MaxLatency }

// Invoke implements Tool.
func (t *FunctionTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return t.handler(ctx, args)
}
