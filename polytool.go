// Package polytool provides a high-level façade over the orchestration
// core: session memory, model adapter, tool gateway, and context retrieval.
// Most applications interact with this package by:
//  1. Creating a Polytool via New() (optionally overriding default services)
//  2. Registering model backends and tools
//  3. Calling Chat() to process conversational turns
//
// All defaults are safe for local development and testing; production
// deployments typically supply a durable memory store, API-backed embedder,
// and a structured logger.
package polytool

import (
	"context"
	"io"

	"github.com/polytool/polytool/core"
	"github.com/polytool/polytool/logging"
	"github.com/polytool/polytool/memory"
	"github.com/polytool/polytool/model"
	"github.com/polytool/polytool/orchestrator"
	"github.com/polytool/polytool/retriever"
	"github.com/polytool/polytool/tool"
)

// Options configures the Polytool instance.
type Options struct {
	// Store holds sessions and fragments. Defaults to the in-memory store.
	Store memory.Store

	// Embedder vectorizes queries and fragments for retrieval. Defaults to
	// the deterministic hash embedder.
	Embedder retriever.Embedder

	// Orchestrator options applied on top of the defaults.
	Orchestrator []func(o *orchestrator.Options)

	// Adapter options applied on top of the defaults.
	Adapter []func(o *model.AdapterOptions)

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Polytool aggregates the orchestration core behind a minimal API.
type Polytool struct {
	store    memory.Store
	adapter  *model.Adapter
	registry *tool.Registry
	orch     *orchestrator.Orchestrator
}

// New creates a Polytool with optional overrides. Any unset service is
// initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *Polytool {
	opts := Options{
		Embedder: retriever.NewHashEmbedder(0),
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = memory.NewInMemoryStore(func(o *memory.InMemoryOptions) {
			o.Logger = opts.Logger
		})
	}

	adapterFns := append([]func(o *model.AdapterOptions){func(o *model.AdapterOptions) {
		o.Logger = opts.Logger
	}}, opts.Adapter...)
	adapter := model.NewAdapter(adapterFns...)

	registry := tool.NewRegistry()
	gateway := tool.NewGateway(registry, func(o *tool.GatewayOptions) {
		o.Logger = opts.Logger
	})
	ret := retriever.New(opts.Store, opts.Embedder, func(o *retriever.Options) {
		o.Logger = opts.Logger
	})

	orchFns := append([]func(o *orchestrator.Options){func(o *orchestrator.Options) {
		o.Logger = opts.Logger
	}}, opts.Orchestrator...)
	orch := orchestrator.New(opts.Store, adapter, gateway, ret, orchFns...)

	return &Polytool{
		store:    opts.Store,
		adapter:  adapter,
		registry: registry,
		orch:     orch,
	}
}

// RegisterBackend adds a model backend to the adapter.
func (p *Polytool) RegisterBackend(b model.Backend) { p.adapter.Register(b) }

// RegisterTool adds a tool to the registry.
func (p *Polytool) RegisterTool(t tool.Tool) { p.registry.Register(t) }

// Chat processes one user message. An empty sessionID starts a new session;
// the assigned id is on the reply.
func (p *Polytool) Chat(ctx context.Context, sessionID, message string) (*core.AgentReply, error) {
	return p.orch.HandleTurn(ctx, sessionID, message)
}

// Orchestrator exposes the underlying orchestrator, e.g. for HTTP serving.
func (p *Polytool) Orchestrator() *orchestrator.Orchestrator { return p.orch }

// Store exposes the underlying memory store.
func (p *Polytool) Store() memory.Store { return p.store }

// Wait drains background compaction, typically before shutdown.
func (p *Polytool) Wait() { p.orch.Wait() }

// Close waits for background work and releases the store when it is
// closeable.
func (p *Polytool) Close() error {
	p.orch.Wait()
	if c, ok := p.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
