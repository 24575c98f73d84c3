package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) *FunctionTool {
	return NewFunctionTool(name, "echoes its input", func(ctx context.Context, args map[string]any) (any, error) {
		return args, nil
	})
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(echoTool("alpha"), echoTool("beta"))

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"alpha", "beta"}, r.Names())

	got, ok := r.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", got.Name())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryLastWins(t *testing.T) {
	r := NewRegistry()
	r.Register(NewFunctionTool("dup", "first", func(ctx context.Context, args map[string]any) (any, error) {
		return "first", nil
	}))
	r.Register(NewFunctionTool("dup", "second", func(ctx context.Context, args map[string]any) (any, error) {
		return "second", nil
	}))

	require.Equal(t, 1, r.Len())
	got, ok := r.Get("dup")
	require.True(t, ok)
	assert.Equal(t, "second", got.Description())

	value, err := got.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "second", value)
}

func TestRegistryDefinitions(t *testing.T) {
	r := NewRegistry(
		NewFunctionTool("weather", "current conditions", nil, WithParameters(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{"type": "string"},
			},
			"required": []string{"city"},
		})),
		echoTool("echo"),
	)

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "echo", defs[0].Function.Name)
	assert.Equal(t, "weather", defs[1].Function.Name)
	assert.Equal(t, "function", defs[1].Type)
	assert.Contains(t, defs[1].Function.Parameters, "required")
}

func TestFunctionToolDefaults(t *testing.T) {
	ft := echoTool("echo")
	assert.Equal(t, DefaultMaxLatency, ft.MaxLatency())
	assert.Equal(t, "object", ft.Parameters()["type"])

	ft = NewFunctionTool("slow", "slow tool", nil, WithMaxLatency(2*time.Second))
	assert.Equal(t, 2*time.Second, ft.MaxLatency())
}

func TestFunctionToolFromStruct(t *testing.T) {
	type weatherParams struct {
		City string `json:"city" description:"city name"`
		Unit string `json:"unit,omitempty"`
	}
	ft := NewFunctionToolFromStruct("weather", "current conditions", weatherParams{}, nil)

	schema := ft.Parameters()
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "city")
	assert.Contains(t, props, "unit")
	assert.Equal(t, []string{"city"}, schema["required"])
}
