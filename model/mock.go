package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/polytool/polytool/core"
)

// MockBackend is a lightweight in-memory Backend for tests and examples. It
// pops scripted responses/errors in FIFO order; when the script is empty it
// echoes the last user turn.
type MockBackend struct {
	name string

	mu       sync.Mutex
	script   []scripted
	requests []Request
}

type scripted struct {
	resp *Response
	err  error
}

// NewMockBackend creates a mock with the given backend name.
func NewMockBackend(name string) *MockBackend {
	return &MockBackend{name: name}
}

// Name implements Backend.
func (m *MockBackend) Name() string { return m.name }

// Enqueue appends a scripted response.
func (m *MockBackend) Enqueue(resp *Response) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scripted{resp: resp})
	return m
}

// EnqueueError appends a scripted failure.
func (m *MockBackend) EnqueueError(err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scripted{err: err})
	return m
}

// Requests returns a copy of every request seen, for assertions.
func (m *MockBackend) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Complete invocations.
func (m *MockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Complete implements Backend.
func (m *MockBackend) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var next *scripted
	if len(m.script) > 0 {
		next = &m.script[0]
		m.script = m.script[1:]
	}
	m.mu.Unlock()

	if next != nil {
		if next.err != nil {
			return nil, next.err
		}
		resp := *next.resp
		return &resp, nil
	}

	var lastUser string
	for _, t := range req.Turns {
		if t.Role == core.RoleUser {
			lastUser = t.Content
		}
	}
	return &Response{
		Text:         fmt.Sprintf("Mock reply to: %s", lastUser),
		FinishReason: "stop",
	}, nil
}
