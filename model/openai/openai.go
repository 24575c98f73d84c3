// Package openai implements model.Backend on the OpenAI Chat Completions
// API (including function/tool calling) and provides an embeddings client
// usable as a retriever embedder. It adapts Polytool's normalized request
// shape into the SDK's message format and back.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"

	"github.com/polytool/polytool/core"
	"github.com/polytool/polytool/model"
)

// Options configure the OpenAI backend. Fields mirror a subset of Chat
// Completion parameters intentionally kept minimal.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Backend wraps the OpenAI Chat Completions API behind model.Backend.
type Backend struct {
	client *openai.Client
	opts   Options
}

var _ model.Backend = (*Backend)(nil)

// New creates a backend using the default client (API key from environment).
func New(optFns ...func(o *Options)) *Backend {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a backend from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Backend {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Backend{client: client, opts: opts}
}

// Name implements model.Backend.
func (b *Backend) Name() string { return "openai" }

// Complete implements model.Backend.
func (b *Backend) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	params := b.buildParams(req)

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, translateError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &model.InvalidRequestError{Reason: "openai returned no choices"}
	}

	choice := resp.Choices[0]
	out := &model.Response{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: model.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

func (b *Backend) buildParams(req model.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               b.opts.Model,
		Temperature:         openai.Float(b.temperature(req)),
		MaxCompletionTokens: openai.Int(b.maxTokens(req)),
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, tdef := range req.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tdef.Function.Name,
					Description: openai.String(tdef.Function.Description),
					Parameters:  tdef.Function.Parameters,
				},
			}
		}
		params.Tools = tools
	}
	return params
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
	return b.opts.MaxCompletionTokens
}

// buildMessages converts the ordered turn window into chat messages,
// preserving turn order exactly. Instructions and retrieved context become
// one leading system message.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion

	if sys := systemText(req); sys != "" {
		messages = append(messages, openai.SystemMessage(sys))
	}

	for _, turn := range req.Turns {
		switch turn.Role {
		case core.RoleUser:
			messages = append(messages, openai.UserMessage(turn.Content))
		case core.RoleAgent:
			if turn.ToolCall == nil {
				messages = append(messages, openai.AssistantMessage(turn.Content))
				continue
			}
			messages = append(messages, assistantToolCallMessage(turn))
		case core.RoleTool:
			callID := ""
			if turn.ToolCall != nil {
				callID = turn.ToolCall.CallID
			}
			messages = append(messages, openai.ToolMessage(turn.Content, callID))
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		default:
			if turn.Content != "" {
				messages = append(messages, openai.UserMessage(turn.Content))
			}
		}
	}
	return messages
}

func assistantToolCallMessage(turn core.Turn) openai.ChatCompletionMessageParamUnion {
	args, err := json.Marshal(turn.ToolCall.Args)
	if err != nil {
		args = []byte("{}")
	}
	msg := openai.ChatCompletionAssistantMessageParam{
		Role: "assistant",
		ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
			ID:   turn.ToolCall.CallID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      turn.ToolCall.Tool,
				Arguments: string(args),
			},
		}},
	}
	if turn.Content != "" {
		msg.Content.OfString = openai.String(turn.Content)
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &msg}
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

func translateError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusTooManyRequests:
			return &model.RateLimitedError{Backend: "openai"}
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return &model.InvalidRequestError{Reason: apierr.Error()}
		}
	}
	return fmt.Errorf("openai api error: %w", err)
}

// EmbedderOptions configure the embeddings client.
type EmbedderOptions struct {
	Model string
}

// Embedder generates embeddings with the OpenAI embeddings API. It
// satisfies the Embedder interfaces consumed by the retriever and memory
// packages.
type Embedder struct {
	client *openai.Client
	opts   EmbedderOptions
}

// NewEmbedder creates an embeddings client using the default SDK client.
func NewEmbedder(optFns ...func(o *EmbedderOptions)) *Embedder {
	client := openai.NewClient()
	return NewEmbedderFromClient(&client, optFns...)
}

// NewEmbedderFromClient creates an embeddings client from an existing client.
func NewEmbedderFromClient(client *openai.Client, optFns ...func(o *EmbedderOptions)) *Embedder {
	opts := EmbedderOptions{Model: openai.EmbeddingModelTextEmbedding3Small}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Embedder{client: client, opts: opts}
}

// Embed returns the embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: e.opts.Model,
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, translateError(err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai returned no embedding data")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
