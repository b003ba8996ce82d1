// Package mocks provides scripted test doubles for the engine's
// collaborators: the text-generation backend, the tool endpoint client and
// the operator front end.
package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/planweave/planweave/llm"
)

// backendTurn is one scripted Generate outcome.
type backendTurn struct {
	result *llm.GenerateResult
	err    error
}

// MockBackend is a scripted llm.Backend. Generate pops queued turns in
// order; an exhausted script is a test bug and fails loudly.
type MockBackend struct {
	mu sync.Mutex

	name  string
	turns []backendTurn
	usage llm.Usage

	// Requests records every Generate call for assertions.
	Requests []llm.GenerateRequest
	// InitTools records the catalog passed to Initialize.
	InitTools []llm.ToolSchema

	InitErr error
}

// NewMockBackend creates an empty scripted backend.
func NewMockBackend(name string) *MockBackend {
	if name == "" {
		name = "mock"
	}
	return &MockBackend{name: name}
}

// QueueText scripts a plain text answer.
func (b *MockBackend) QueueText(text string) *MockBackend {
	return b.queue(&llm.GenerateResult{Text: text}, nil)
}

// QueueToolCall scripts an answer requesting one tool call.
func (b *MockBackend) QueueToolCall(tool string, args map[string]any) *MockBackend {
	raw, _ := json.Marshal(args)
	return b.queue(&llm.GenerateResult{
		ToolCalls: []llm.ToolCall{{ID: fmt.Sprintf("call-%d", len(b.turns)), Name: tool, Args: raw}},
	}, nil)
}

// QueueResult scripts a full result.
func (b *MockBackend) QueueResult(res *llm.GenerateResult) *MockBackend {
	return b.queue(res, nil)
}

// QueueError scripts a Generate failure.
func (b *MockBackend) QueueError(err error) *MockBackend {
	return b.queue(nil, err)
}

func (b *MockBackend) queue(res *llm.GenerateResult, err error) *MockBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = append(b.turns, backendTurn{result: res, err: err})
	return b
}

func (b *MockBackend) Initialize(_ context.Context, tools []llm.ToolSchema) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.InitTools = tools
	return b.InitErr
}

func (b *MockBackend) Generate(_ context.Context, req *llm.GenerateRequest) (*llm.GenerateResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Requests = append(b.Requests, *req)
	if len(b.turns) == 0 {
		return nil, fmt.Errorf("mock backend script exhausted after %d requests", len(b.Requests))
	}
	turn := b.turns[0]
	b.turns = b.turns[1:]
	if turn.err != nil {
		return nil, turn.err
	}
	b.usage.Add(llm.Usage{PromptTokens: 10, CompletionTokens: 5})
	return turn.result, nil
}

func (b *MockBackend) Usage() llm.Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.usage
}

func (b *MockBackend) Name() string { return b.name }

var _ llm.Backend = (*MockBackend)(nil)

// SharedFactory returns a factory that always hands out the same backend.
// Sessions are nominally per step; sharing one keeps scripting simple.
func SharedFactory(b *MockBackend) llm.BackendFactory {
	return func() (llm.Backend, error) { return b, nil }
}

// SequenceFactory hands out the given backends in order, then fails.
func SequenceFactory(backends ...*MockBackend) llm.BackendFactory {
	var mu sync.Mutex
	i := 0
	return func() (llm.Backend, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(backends) {
			return nil, fmt.Errorf("sequence factory exhausted after %d backends", i)
		}
		b := backends[i]
		i++
		return b, nil
	}
}
