package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/planweave/planweave/mcpclient"
)

// ToolCallRecord is one recorded CallTool invocation.
type ToolCallRecord struct {
	Name string
	Args map[string]any
}

// PromptRecord is one recorded GetPrompt invocation.
type PromptRecord struct {
	Name string
	Args map[string]string
}

// MockMCP is a scripted mcpclient.Client. Tool results are queued per tool
// name; a tool with no queue returns a generic success.
type MockMCP struct {
	mu sync.Mutex

	Tools   []mcpclient.ToolInfo
	Prompts []mcpclient.PromptInfo
	// PromptText maps persona name to the rendered instruction. Personas
	// absent from the map fail GetPrompt, like an endpoint without them.
	PromptText map[string]string

	results map[string][]*mcpclient.ToolResult

	ToolCalls      []ToolCallRecord
	PromptRequests []PromptRecord

	ListToolsErr   error
	ListPromptsErr error
	CallToolErr    error
}

// NewMockMCP creates an empty endpoint double.
func NewMockMCP() *MockMCP {
	return &MockMCP{
		PromptText: make(map[string]string),
		results:    make(map[string][]*mcpclient.ToolResult),
	}
}

// AddTool registers a tool in the catalog.
func (m *MockMCP) AddTool(name, description string) *MockMCP {
	m.Tools = append(m.Tools, mcpclient.ToolInfo{
		Name:        name,
		Description: description,
		InputSchema: []byte(`{"type":"object"}`),
	})
	return m
}

// AddPrompt registers a persona with its accepted argument names and
// rendered text.
func (m *MockMCP) AddPrompt(name, text string, args ...string) *MockMCP {
	m.Prompts = append(m.Prompts, mcpclient.PromptInfo{Name: name, Arguments: args})
	m.PromptText[name] = text
	return m
}

// QueueResult scripts the next result for a tool.
func (m *MockMCP) QueueResult(tool string, res *mcpclient.ToolResult) *MockMCP {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[tool] = append(m.results[tool], res)
	return m
}

func (m *MockMCP) ListTools(_ context.Context) ([]mcpclient.ToolInfo, error) {
	if m.ListToolsErr != nil {
		return nil, m.ListToolsErr
	}
	return m.Tools, nil
}

func (m *MockMCP) CallTool(_ context.Context, name string, args map[string]any) (*mcpclient.ToolResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ToolCalls = append(m.ToolCalls, ToolCallRecord{Name: name, Args: args})
	if m.CallToolErr != nil {
		return nil, m.CallToolErr
	}
	queue := m.results[name]
	if len(queue) == 0 {
		return &mcpclient.ToolResult{Content: name + " ok"}, nil
	}
	res := queue[0]
	m.results[name] = queue[1:]
	return res, nil
}

func (m *MockMCP) ListPrompts(_ context.Context) ([]mcpclient.PromptInfo, error) {
	if m.ListPromptsErr != nil {
		return nil, m.ListPromptsErr
	}
	return m.Prompts, nil
}

func (m *MockMCP) GetPrompt(_ context.Context, name string, args map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PromptRequests = append(m.PromptRequests, PromptRecord{Name: name, Args: args})
	text, ok := m.PromptText[name]
	if !ok {
		return "", fmt.Errorf("prompt %q not found", name)
	}
	return text, nil
}

var _ mcpclient.Client = (*MockMCP)(nil)
