// Package anthropic implements model.Backend on the Anthropic Messages API,
// including tool use blocks.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/polytool/polytool/core"
	"github.com/polytool/polytool/model"
)

// Options configure the Anthropic backend.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Backend wraps the Anthropic Messages API behind model.Backend.
type Backend struct {
	client *anthropic.Client
	opts   Options
}

var _ model.Backend = (*Backend)(nil)

// New creates a backend using the official client. The API key falls back
// to the environment when Options.APIKey is empty.
func New(optFns ...func(o *Options)) *Backend {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Backend{client: &client, opts: opts}
}

// NewFromClient creates a backend from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Backend {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Backend{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       string(anthropic.ModelClaude3_5Sonnet20241022),
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// Name implements model.Backend.
func (b *Backend) Name() string { return "anthropic" }

// Complete implements model.Backend.
func (b *Backend) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(b.opts.Model),
		Messages:    buildMessages(req.Turns),
		MaxTokens:   b.maxTokens(req),
		Temperature: anthropic.Float(b.temperature(req)),
	}
	if sys := systemText(req); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, translateError(err)
	}

	out := &model.Response{
		FinishReason: string(resp.StopReason),
		Usage: model.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			toolBlock := block.AsToolUse()
			var args json.RawMessage
			if raw, err := json.Marshal(toolBlock.Input); err == nil {
				args = raw
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:        toolBlock.ID,
				Name:      toolBlock.Name,
				Arguments: args,
			})
		}
	}
	out.Text = text.String()
	return out, nil
}

func (b *Backend) temperature(req model.Request) float64 {
	if req.Params.Temperature > 0 {
		return req.Params.Temperature
	}
	return b.opts.Temperature
}

func (b *Backend) maxTokens(req model.Request) int64 {
	if req.Params.MaxTokens > 0 {
		return req.Params.MaxTokens
	}
	return b.opts.MaxTokens
}

// buildMessages converts the ordered turn window into Anthropic messages.
// Tool results travel as tool_result blocks inside user messages, which the
// API requires to directly follow the assistant tool_use message.
func buildMessages(turns []core.Turn) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, turn := range turns {
		switch turn.Role {
		case core.RoleUser:
			if turn.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
			}
		case core.RoleAgent:
			var blocks []anthropic.ContentBlockParamUnion
			if turn.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(turn.Content))
			}
			if turn.ToolCall != nil {
				blocks = append(blocks, anthropic.NewToolUseBlock(
					turn.ToolCall.CallID,
					turn.ToolCall.Args,
					turn.ToolCall.Tool,
				))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		case core.RoleTool:
			if turn.ToolCall == nil {
				continue
			}
			isError := turn.ToolCall.Status != core.CallSucceeded
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(turn.ToolCall.CallID, turn.Content, isError),
			))
		}
	}
	return messages
}

func systemText(req model.Request) string {
	var sb strings.Builder
	sb.WriteString(req.Instructions)
	if len(req.Context) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("Relevant context from memory:")
		for _, c := range req.Context {
			sb.WriteString("\n- ")
			sb.WriteString(c)
		}
	}
	return sb.String()
}

func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, tdef := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if params := tdef.Function.Parameters; params != nil {
			if properties, ok := params["properties"]; ok {
				inputSchema.Properties = properties
			}
			inputSchema.Required = requiredFields(params["required"])
		}
		out[i] = anthropic.ToolUnionParamOfTool(inputSchema, tdef.Function.Name)
	}
	return out
}

func requiredFields(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func translateError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusTooManyRequests:
			return &model.RateLimitedError{Backend: "anthropic"}
		case http.StatusBadRequest:
			return &model.InvalidRequestError{Reason: apierr.Error()}
		}
	}
	return fmt.Errorf("anthropic api error: %w", err)
}
