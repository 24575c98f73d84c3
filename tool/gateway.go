package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/polytool/polytool/core"
	"github.com/polytool/polytool/internal/util"
	"github.com/polytool/polytool/logging"
	"github.com/polytool/polytool/model"
)

// Result is the outcome of a gateway invocation. Err is set for every
// non-succeeded status and is one of the typed errors in this package.
type Result struct {
	CallID  string
	Tool    string
	Value   any
	Status  core.CallStatus
	Err     error
	Elapsed time.Duration
}

// GatewayOptions configure a Gateway.
type GatewayOptions struct {
	Logger logging.Logger
}

// Gateway validates and executes tool calls against a registry. Every call
// runs with a deadline derived from the tool's latency budget; a call that
// misses the budget is reported as timed out even though its side effects
// may still complete in the background.
type Gateway struct {
	registry *Registry
	logger   logging.Logger
}

// NewGateway creates a gateway over the given registry.
func NewGateway(registry *Registry, optFns ...func(o *GatewayOptions)) *Gateway {
	opts := GatewayOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Gateway{registry: registry, logger: opts.Logger}
}

// Definitions exposes the registry's tool definitions.
func (g *Gateway) Definitions() []model.ToolDefinition {
	return g.registry.Definitions()
}

// Invoke executes one tool call. It never returns a non-terminal status:
// the result is succeeded, failed, or timed out.
func (g *Gateway) Invoke(ctx context.Context, callID, name string, args map[string]any) Result {
	start := time.Now()
	res := Result{CallID: callID, Tool: name}

	t, ok := g.registry.Get(name)
	if !ok {
		res.Status = core.CallFailed
		res.Err = &UnknownToolError{Tool: name}
		res.Elapsed = time.Since(start)
		return res
	}

	if violations := util.ValidateParameters(args, t.Parameters()); len(violations) > 0 {
		res.Status = core.CallFailed
		res.Err = &SchemaViolationError{Tool: name, Violations: violations}
		res.Elapsed = time.Since(start)
		g.logger.Warn("tool.call.rejected", "tool", name, "call_id", callID, "violations", len(violations))
		return res
	}

	budget := t.MaxLatency()
	if budget <= 0 {
		budget = DefaultMaxLatency
	}
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	g.logger.Debug("tool.call.start", "tool", name, "call_id", callID)

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		value, err := t.Invoke(callCtx, args)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		res.Elapsed = time.Since(start)
		if out.err != nil {
			res.Status = core.CallFailed
			res.Err = &ExecutionError{Tool: name, Err: out.err}
			g.logger.Warn("tool.call.failed", "tool", name, "call_id", callID, "error", out.err)
			return res
		}
		res.Status = core.CallSucceeded
		res.Value = out.value
		g.logger.Debug("tool.call.done", "tool", name, "call_id", callID, "elapsed", res.Elapsed)
		return res
	case <-callCtx.Done():
		res.Elapsed = time.Since(start)
		if ctx.Err() != nil {
			res.Status = core.CallFailed
			res.Err = &ExecutionError{Tool: name, Err: ctx.Err()}
			return res
		}
		res.Status = core.CallTimedOut
		res.Err = &TimeoutError{Tool: name, Budget: budget}
		g.logger.Warn("tool.call.timeout", "tool", name, "call_id", callID, "budget", budget)
		return res
	}
}
