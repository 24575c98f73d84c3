package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/polytool/polytool/core"
	"github.com/polytool/polytool/memory"
	"github.com/polytool/polytool/model"
	"github.com/polytool/polytool/retriever"
	"github.com/polytool/polytool/tool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	store *memory.InMemoryStore
	mock  *model.MockBackend
	orch  *Orchestrator
}

func newFixture(t *testing.T, tools []tool.Tool, optFns ...func(o *Options)) *fixture {
	t.Helper()

	store := memory.NewInMemoryStore(func(o *memory.InMemoryOptions) { o.IdleTimeout = 0 })
	t.Cleanup(func() { _ = store.Close() })

	mock := model.NewMockBackend("mock")
	adapter := model.NewAdapter(func(o *model.AdapterOptions) { o.InitialBackoff = time.Millisecond })
	adapter.Register(mock)

	gateway := tool.NewGateway(tool.NewRegistry(tools...))
	ret := retriever.New(store, retriever.NewHashEmbedder(64))

	base := func(o *Options) { o.RetryBackoff = time.Millisecond }
	orch := New(store, adapter, gateway, ret, append([]func(o *Options){base}, optFns...)...)
	t.Cleanup(orch.Wait)

	return &fixture{store: store, mock: mock, orch: orch}
}

func toolCallResponse(text, callID, name, args string) *model.Response {
	return &model.Response{
		Text: text,
		ToolCalls: []model.ToolCall{
			{ID: callID, Name: name, Arguments: json.RawMessage(args)},
		},
	}
}

func TestHandleTurnEmptyMessage(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.HandleTurn(context.Background(), "sess-1", "   ")

	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestHandleTurnAssignsSessionID(t *testing.T) {
	f := newFixture(t, nil)
	f.mock.Enqueue(&model.Response{Text: "hello there"})

	reply, err := f.orch.HandleTurn(context.Background(), "", "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, reply.SessionID)

	sess, err := f.store.Get(context.Background(), reply.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Turns, 2)
}

func TestHandleTurnSimpleReply(t *testing.T) {
	f := newFixture(t, nil)
	f.mock.Enqueue(&model.Response{Text: "hello!", FinishReason: "stop"})

	reply, err := f.orch.HandleTurn(context.Background(), "sess-1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello!", reply.Reply)
	assert.False(t, reply.Degraded)
	assert.Empty(t, reply.ToolCalls)

	sess, err := f.store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, core.RoleUser, sess.Turns[0].Role)
	assert.Equal(t, core.RoleAgent, sess.Turns[1].Role)
	assert.Equal(t, 1, sess.Turns[0].Seq)
	assert.Equal(t, 2, sess.Turns[1].Seq)
}

func TestHandleTurnFreshSessionHasNoContext(t *testing.T) {
	f := newFixture(t, nil)
	f.mock.Enqueue(&model.Response{Text: "hi!"})

	_, err := f.orch.HandleTurn(context.Background(), "sess-1", "hello")
	require.NoError(t, err)

	reqs := f.mock.Requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Context)
}

func TestHandleTurnContextExcludesCurrentMessage(t *testing.T) {
	f := newFixture(t, nil, func(o *Options) { o.ContextTopK = 2 })
	f.mock.
		Enqueue(&model.Response{Text: "noted"}).
		Enqueue(&model.Response{Text: "Miso"})

	_, err := f.orch.HandleTurn(context.Background(), "sess-1", "my cat is named Miso")
	require.NoError(t, err)

	_, err = f.orch.HandleTurn(context.Background(), "sess-1", "what is my cat named?")
	require.NoError(t, err)

	reqs := f.mock.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1].Context, "my cat is named Miso")
	assert.NotContains(t, reqs[1].Context, "what is my cat named?")
}

func TestHandleTurnToolRoundTrip(t *testing.T) {
	echo := tool.NewFunctionTool("echo", "echoes", func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"echoed": args["msg"]}, nil
	})
	f := newFixture(t, []tool.Tool{echo})
	f.mock.
		Enqueue(toolCallResponse("let me check", "call-1", "echo", `{"msg":"hi"}`)).
		Enqueue(&model.Response{Text: "the echo says hi"})

	reply, err := f.orch.HandleTurn(context.Background(), "sess-1", "echo hi please")
	require.NoError(t, err)
	assert.Equal(t, "the echo says hi", reply.Reply)
	assert.False(t, reply.Degraded)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, core.CallSucceeded, reply.ToolCalls[0].Status)
	assert.Equal(t, "echo", reply.ToolCalls[0].Tool)

	sess, err := f.store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 4)
	assert.Equal(t, core.RoleUser, sess.Turns[0].Role)
	assert.Equal(t, core.RoleAgent, sess.Turns[1].Role)
	require.NotNil(t, sess.Turns[1].ToolCall)
	assert.Equal(t, core.RoleTool, sess.Turns[2].Role)
	require.NotNil(t, sess.Turns[2].ToolCall)
	assert.True(t, sess.Turns[2].ToolCall.Status.Terminal())
	assert.Contains(t, sess.Turns[2].Content, "echoed")
	assert.Equal(t, core.RoleAgent, sess.Turns[3].Role)

	// The second model call must have seen the tool result.
	reqs := f.mock.Requests()
	require.Len(t, reqs, 2)
	lastTurns := reqs[1].Turns
	assert.Equal(t, core.RoleTool, lastTurns[len(lastTurns)-2].Role)
}

func TestHandleTurnToolTimeoutStillReplies(t *testing.T) {
	slow := tool.NewFunctionTool("slow", "sleeps", func(ctx context.Context, args map[string]any) (any, error) {
		select {
		case <-time.After(time.Second):
			return "late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, tool.WithMaxLatency(20*time.Millisecond))
	f := newFixture(t, []tool.Tool{slow})
	f.mock.
		Enqueue(toolCallResponse("", "call-1", "slow", `{}`)).
		Enqueue(&model.Response{Text: "that took too long, sorry"})

	reply, err := f.orch.HandleTurn(context.Background(), "sess-1", "do the slow thing")
	require.NoError(t, err)
	assert.Equal(t, "that took too long, sorry", reply.Reply)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, core.CallTimedOut, reply.ToolCalls[0].Status)

	sess, err := f.store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Contains(t, sess.Turns[2].Content, "error")
}

func TestHandleTurnUnknownToolRecorded(t *testing.T) {
	f := newFixture(t, nil)
	f.mock.
		Enqueue(toolCallResponse("", "call-1", "nonexistent", `{}`)).
		Enqueue(&model.Response{Text: "I don't have that tool"})

	reply, err := f.orch.HandleTurn(context.Background(), "sess-1", "use a tool")
	require.NoError(t, err)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, core.CallFailed, reply.ToolCalls[0].Status)
}

func TestHandleTurnRoundCap(t *testing.T) {
	echo := tool.NewFunctionTool("echo", "echoes", func(ctx context.Context, args map[string]any) (any, error) {
		return "ok", nil
	})
	f := newFixture(t, []tool.Tool{echo}, func(o *Options) { o.MaxToolRounds = 3 })
	for i := 0; i < 3; i++ {
		f.mock.Enqueue(toolCallResponse("", "call", "echo", `{}`))
	}

	reply, err := f.orch.HandleTurn(context.Background(), "sess-1", "loop forever")
	require.NoError(t, err)
	assert.True(t, reply.Degraded)
	assert.NotEmpty(t, reply.Reply)
	// Two rounds executed tools, the third hit the cap unexecuted.
	assert.Len(t, reply.ToolCalls, 2)
	assert.Equal(t, 3, f.mock.Calls())
}

func TestHandleTurnDegradedWhenBackendsExhausted(t *testing.T) {
	f := newFixture(t, nil, func(o *Options) { o.ModelRetries = 1 })
	f.mock.
		EnqueueError(errors.New("connection refused")).
		EnqueueError(errors.New("connection refused"))

	reply, err := f.orch.HandleTurn(context.Background(), "sess-1", "hi")
	require.NoError(t, err)
	assert.True(t, reply.Degraded)
	assert.NotEmpty(t, reply.Reply)

	// The fallback reply is committed so the session stays consistent.
	sess, err := f.store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, reply.Reply, sess.Turns[1].Content)
}

func TestHandleTurnContextCancelled(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orch.HandleTurn(ctx, "sess-1", "hi")
	require.Error(t, err)
}

func TestHandleTurnQueuePolicySerializes(t *testing.T) {
	f := newFixture(t, nil)
	f.mock.
		Enqueue(&model.Response{Text: "first"}).
		Enqueue(&model.Response{Text: "second"})

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			_, err := f.orch.HandleTurn(context.Background(), "sess-1", "hello")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sess, err := f.store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 4)
	for i, turn := range sess.Turns {
		assert.Equal(t, i+1, turn.Seq)
	}
	// Turns never interleave: user then agent, twice.
	assert.Equal(t, core.RoleUser, sess.Turns[0].Role)
	assert.Equal(t, core.RoleAgent, sess.Turns[1].Role)
	assert.Equal(t, core.RoleUser, sess.Turns[2].Role)
	assert.Equal(t, core.RoleAgent, sess.Turns[3].Role)
}

type blockingGenerator struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *blockingGenerator) Generate(ctx context.Context, _ model.Request, _ string) (*model.Response, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return &model.Response{Text: "done"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestHandleTurnRejectPolicy(t *testing.T) {
	store := memory.NewInMemoryStore(func(o *memory.InMemoryOptions) { o.IdleTimeout = 0 })
	defer store.Close()

	gen := &blockingGenerator{started: make(chan struct{}), release: make(chan struct{})}
	gateway := tool.NewGateway(tool.NewRegistry())
	orch := New(store, gen, gateway, nil, func(o *Options) {
		o.BusyPolicy = BusyReject
		o.RetryBackoff = time.Millisecond
	})
	defer orch.Wait()

	done := make(chan error, 1)
	go func() {
		_, err := orch.HandleTurn(context.Background(), "sess-1", "slow one")
		done <- err
	}()
	<-gen.started

	_, err := orch.HandleTurn(context.Background(), "sess-1", "impatient")
	assert.ErrorIs(t, err, ErrSessionBusy)

	close(gen.release)
	require.NoError(t, <-done)

	// The rejected attempt must not leave a gate entry behind.
	orch.mu.Lock()
	defer orch.mu.Unlock()
	assert.Empty(t, orch.gates)
}

func TestHandleTurnIndependentSessionsDoNotBlock(t *testing.T) {
	f := newFixture(t, nil)
	f.mock.
		Enqueue(&model.Response{Text: "a"}).
		Enqueue(&model.Response{Text: "b"})

	var wg sync.WaitGroup
	for _, id := range []string{"sess-a", "sess-b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			reply, err := f.orch.HandleTurn(context.Background(), id, "hi")
			assert.NoError(t, err)
			assert.Equal(t, id, reply.SessionID)
		}(id)
	}
	wg.Wait()
}

func TestGatesPrunedAfterRelease(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 50; i++ {
		f.mock.Enqueue(&model.Response{Text: "ok"})
		_, err := f.orch.HandleTurn(context.Background(), fmt.Sprintf("sess-%d", i), "hi")
		require.NoError(t, err)
	}

	f.orch.mu.Lock()
	defer f.orch.mu.Unlock()
	assert.Empty(t, f.orch.gates)
}

func TestHandleTurnCompactsAfterFinalize(t *testing.T) {
	f := newFixture(t, nil, func(o *Options) { o.RecentWindow = 50 })

	// Shrink the cap so a short conversation overflows it.
	small := memory.NewInMemoryStore(func(o *memory.InMemoryOptions) {
		o.IdleTimeout = 0
		o.FragmentCap = 4
		o.MinRecentWindow = 2
	})
	t.Cleanup(func() { _ = small.Close() })
	f.orch.store = small

	for i := 0; i < 4; i++ {
		f.mock.Enqueue(&model.Response{Text: "ack"})
		_, err := f.orch.HandleTurn(context.Background(), "sess-1", "another message here")
		require.NoError(t, err)
	}
	f.orch.Wait()

	fragments, err := small.Fragments(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(fragments), 4)
}
