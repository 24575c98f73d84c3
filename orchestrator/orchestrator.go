package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/polytool/polytool/core"
	"github.com/polytool/polytool/internal/util"
	"github.com/polytool/polytool/logging"
	"github.com/polytool/polytool/memory"
	"github.com/polytool/polytool/model"
	"github.com/polytool/polytool/tool"
)

// BusyPolicy selects how a turn behaves when its session is already
// processing another turn.
type BusyPolicy string

const (
	// BusyQueue waits for the in-flight turn to finish.
	BusyQueue BusyPolicy = "queue"
	// BusyReject fails immediately with ErrSessionBusy.
	BusyReject BusyPolicy = "reject"
)

// ErrSessionBusy is returned under BusyReject when the session is occupied.
var ErrSessionBusy = errors.New("session is processing another turn")

// Generator produces model completions, typically the model.Adapter.
type Generator interface {
	Generate(ctx context.Context, req model.Request, hint string) (*model.Response, error)
}

// ToolGateway validates and executes tool calls.
type ToolGateway interface {
	Invoke(ctx context.Context, callID, name string, args map[string]any) tool.Result
	Definitions() []model.ToolDefinition
}

// ContextRetriever supplies relevant memory texts for a query.
type ContextRetriever interface {
	Texts(ctx context.Context, sessionID, query string, k int) ([]string, error)
}

// Options configure an Orchestrator.
type Options struct {
	// Instructions is the system prompt prepended to every model call.
	Instructions string

	// MaxToolRounds caps model round-trips per turn. Defaults to 5.
	MaxToolRounds int

	// ContextTopK is how many retrieved fragments accompany each model
	// call. Defaults to 4.
	ContextTopK int

	// RecentWindow is how many recent turns the model sees. Defaults to 20.
	RecentWindow int

	// BusyPolicy defaults to BusyQueue.
	BusyPolicy BusyPolicy

	// BackendHint is forwarded to the generator on every call.
	BackendHint string

	Params model.GenerationParams

	// FallbackReply is returned when all model backends are exhausted.
	FallbackReply string

	// ModelRetries bounds retries of transient generator failures within
	// one turn. Defaults to 2.
	ModelRetries int

	// RetryBackoff is the initial delay between those retries. Defaults
	// to 250ms.
	RetryBackoff time.Duration

	Logger logging.Logger
}

// Orchestrator coordinates one conversational turn end to end.
type Orchestrator struct {
	store     memory.Store
	generator Generator
	gateway   ToolGateway
	retriever ContextRetriever
	opts      Options

	mu    sync.Mutex
	gates map[string]*sessionGate

	compactWG sync.WaitGroup
}

// New creates an orchestrator. The retriever may be nil, disabling context
// injection.
func New(store memory.Store, generator Generator, gateway ToolGateway, retriever ContextRetriever, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Instructions:  "You are a helpful assistant.",
		MaxToolRounds: 5,
		ContextTopK:   4,
		RecentWindow:  20,
		BusyPolicy:    BusyQueue,
		FallbackReply: "I'm having trouble reaching the model right now. Please try again shortly.",
		ModelRetries:  2,
		RetryBackoff:  250 * time.Millisecond,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxToolRounds < 1 {
		opts.MaxToolRounds = 1
	}
	if opts.RecentWindow < 1 {
		opts.RecentWindow = 1
	}
	return &Orchestrator{
		store:     store,
		generator: generator,
		gateway:   gateway,
		retriever: retriever,
		opts:      opts,
		gates:     make(map[string]*sessionGate),
	}
}

// HandleTurn processes one user message and returns the finalized reply.
// An empty sessionID starts a new session; the assigned id is on the reply.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, message string) (*core.AgentReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, &core.ValidationError{Field: "message", Reason: "must not be empty"}
	}
	if sessionID == "" {
		sessionID = util.NewID()
	}

	release, err := o.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := o.store.Get(ctx, sessionID); errors.Is(err, memory.ErrSessionNotFound) {
		if _, err := o.store.Create(ctx, sessionID); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	// Retrieval runs before the user turn is committed so the current
	// message never shows up as its own context.
	contextTexts := o.retrieveContext(ctx, sessionID, message)

	if _, err := o.store.Append(ctx, sessionID, core.NewUserTurn(message)); err != nil {
		return nil, fmt.Errorf("commit user turn: %w", err)
	}

	o.opts.Logger.Debug("turn.start", "session_id", sessionID, "state", stateAwaitingModel.String())
	return o.runTurn(ctx, sessionID, contextTexts)
}

// Wait blocks until background compaction kicked off by finished turns has
// drained. Primarily for tests and orderly shutdown.
func (o *Orchestrator) Wait() {
	o.compactWG.Wait()
}

func (o *Orchestrator) runTurn(ctx context.Context, sessionID string, contextTexts []string) (*core.AgentReply, error) {
	var toolCallsMade []core.ToolCallDescriptor

	for round := 0; ; round++ {
		window, err := o.store.Recent(ctx, sessionID, o.opts.RecentWindow)
		if err != nil {
			return nil, fmt.Errorf("load recent turns: %w", err)
		}

		req := model.Request{
			Instructions: o.opts.Instructions,
			Turns:        window,
			Context:      contextTexts,
			Tools:        o.gateway.Definitions(),
			Params:       o.opts.Params,
		}

		resp, err := o.generate(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				o.opts.Logger.Warn("turn.aborted", "session_id", sessionID, "state", stateAborted.String())
				return nil, fmt.Errorf("turn aborted: %w", ctx.Err())
			}
			if core.KindOf(err) == core.KindFatal {
				return nil, err
			}
			return o.degrade(ctx, sessionID, toolCallsMade, err)
		}

		if len(resp.ToolCalls) == 0 {
			if _, err := o.store.Append(ctx, sessionID, core.NewAgentTurn(resp.Text, nil)); err != nil {
				return nil, fmt.Errorf("commit agent turn: %w", err)
			}
			o.scheduleCompaction(sessionID)
			o.opts.Logger.Info("turn.finalized",
				"session_id", sessionID,
				"state", stateFinalized.String(),
				"rounds", round+1,
				"tool_calls", len(toolCallsMade),
				"backend", resp.Backend,
			)
			return &core.AgentReply{
				SessionID: sessionID,
				Reply:     resp.Text,
				ToolCalls: toolCallsMade,
			}, nil
		}

		if round+1 >= o.opts.MaxToolRounds {
			return o.capRounds(ctx, sessionID, toolCallsMade, resp)
		}

		made, err := o.executeToolCalls(ctx, sessionID, resp)
		if err != nil {
			return nil, err
		}
		toolCallsMade = append(toolCallsMade, made...)
	}
}

// executeToolCalls commits the agent turn(s) requesting the calls, runs each
// call through the gateway, and commits its tool result turn. Every
// descriptor it returns is in a terminal status.
func (o *Orchestrator) executeToolCalls(ctx context.Context, sessionID string, resp *model.Response) ([]core.ToolCallDescriptor, error) {
	made := make([]core.ToolCallDescriptor, 0, len(resp.ToolCalls))

	for i, call := range resp.ToolCalls {
		callID := call.ID
		if callID == "" {
			callID = util.NewID()
		}

		descriptor := core.ToolCallDescriptor{
			CallID: callID,
			Tool:   call.Name,
			Status: core.CallPending,
		}
		args, decodeErr := decodeArgs(call.Arguments)
		descriptor.Args = args

		// Only the first call of a round carries the model's text.
		text := ""
		if i == 0 {
			text = resp.Text
		}
		o.opts.Logger.Debug("turn.tool_call",
			"session_id", sessionID,
			"state", stateToolCallRequested.String(),
			"tool", call.Name,
			"call_id", callID,
		)
		if _, err := o.store.Append(ctx, sessionID, core.NewAgentTurn(text, &descriptor)); err != nil {
			return nil, fmt.Errorf("commit tool request turn: %w", err)
		}

		var content string
		if decodeErr != nil {
			descriptor.Status = core.CallFailed
			content = errorPayload(fmt.Errorf("malformed tool arguments: %w", decodeErr))
		} else {
			res := o.gateway.Invoke(ctx, callID, call.Name, args)
			descriptor.Status = res.Status
			if res.Err != nil {
				content = errorPayload(res.Err)
			} else {
				content = resultPayload(res.Value)
			}
		}

		if _, err := o.store.Append(ctx, sessionID, core.NewToolTurn(content, &descriptor)); err != nil {
			return nil, fmt.Errorf("commit tool result turn: %w", err)
		}
		made = append(made, descriptor)
	}
	return made, nil
}

func (o *Orchestrator) generate(ctx context.Context, req model.Request) (*model.Response, error) {
	op := func() (*model.Response, error) {
		resp, err := o.generator.Generate(ctx, req, o.opts.BackendHint)
		if err != nil {
			if core.KindOf(err) == core.KindTransient {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return resp, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.opts.RetryBackoff
	return backoff.RetryWithData(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(o.opts.ModelRetries)), ctx))
}

// degrade commits the fallback reply so the session stays consistent and
// returns it flagged as degraded.
func (o *Orchestrator) degrade(ctx context.Context, sessionID string, made []core.ToolCallDescriptor, cause error) (*core.AgentReply, error) {
	o.opts.Logger.Warn("turn.degraded", "session_id", sessionID, "error", cause)

	if _, err := o.store.Append(ctx, sessionID, core.NewAgentTurn(o.opts.FallbackReply, nil)); err != nil {
		return nil, fmt.Errorf("commit fallback turn: %w", err)
	}
	o.scheduleCompaction(sessionID)
	return &core.AgentReply{
		SessionID: sessionID,
		Reply:     o.opts.FallbackReply,
		ToolCalls: made,
		Degraded:  true,
	}, nil
}

// capRounds finalizes a turn whose model keeps requesting tools past the
// round budget. The pending calls are not executed.
func (o *Orchestrator) capRounds(ctx context.Context, sessionID string, made []core.ToolCallDescriptor, resp *model.Response) (*core.AgentReply, error) {
	o.opts.Logger.Warn("turn.round_cap",
		"session_id", sessionID,
		"max_rounds", o.opts.MaxToolRounds,
		"pending_calls", len(resp.ToolCalls),
	)

	text := resp.Text
	if text == "" {
		text = "I could not finish the requested tool operations within the allowed number of steps."
	}
	if _, err := o.store.Append(ctx, sessionID, core.NewAgentTurn(text, nil)); err != nil {
		return nil, fmt.Errorf("commit capped turn: %w", err)
	}
	o.scheduleCompaction(sessionID)
	return &core.AgentReply{
		SessionID: sessionID,
		Reply:     text,
		ToolCalls: made,
		Degraded:  true,
	}, nil
}

func (o *Orchestrator) retrieveContext(ctx context.Context, sessionID, query string) []string {
	if o.retriever == nil || o.opts.ContextTopK <= 0 {
		return nil
	}
	texts, err := o.retriever.Texts(ctx, sessionID, query, o.opts.ContextTopK)
	if err != nil {
		// Retrieval is best effort; a broken retriever must not block replies.
		o.opts.Logger.Warn("turn.retrieve.failed", "session_id", sessionID, "error", err)
		return nil
	}
	return texts
}

func (o *Orchestrator) scheduleCompaction(sessionID string) {
	o.compactWG.Add(1)
	go func() {
		defer o.compactWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := o.store.Compact(ctx, sessionID); err != nil {
			o.opts.Logger.Warn("memory.compact.failed", "session_id", sessionID, "error", err)
		}
	}()
}

// sessionGate serializes turns on one session. refs counts holders and
// waiters so the gate can be pruned once nobody needs it.
type sessionGate struct {
	ch   chan struct{}
	refs int
}

// acquire takes the per-session gate according to the busy policy and
// returns the release function.
func (o *Orchestrator) acquire(ctx context.Context, sessionID string) (func(), error) {
	o.mu.Lock()
	gate, ok := o.gates[sessionID]
	if !ok {
		gate = &sessionGate{ch: make(chan struct{}, 1)}
		o.gates[sessionID] = gate
	}
	gate.refs++
	o.mu.Unlock()

	release := func() {
		<-gate.ch
		o.unref(sessionID, gate)
	}

	switch o.opts.BusyPolicy {
	case BusyReject:
		select {
		case gate.ch <- struct{}{}:
			return release, nil
		default:
			o.unref(sessionID, gate)
			return nil, ErrSessionBusy
		}
	default:
		select {
		case gate.ch <- struct{}{}:
			return release, nil
		case <-ctx.Done():
			o.unref(sessionID, gate)
			return nil, ctx.Err()
		}
	}
}

func (o *Orchestrator) unref(sessionID string, gate *sessionGate) {
	o.mu.Lock()
	gate.refs--
	if gate.refs == 0 {
		delete(o.gates, sessionID)
	}
	o.mu.Unlock()
}

func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func resultPayload(value any) string {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(raw)
}

func errorPayload(err error) string {
	raw, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(raw)
}
