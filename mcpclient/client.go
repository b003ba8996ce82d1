// Package mcpclient is the bridge to the tool-invocation protocol endpoint.
// It exposes the four capabilities the engine needs (tool listing, tool
// invocation, persona listing, persona rendering) and normalizes tool
// results into a uniform success/failure classification.
//
// Connections are opened and closed around each unit of work rather than
// held for the whole run, trading per-call overhead for isolation.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// ToolInfo describes one tool offered by the endpoint.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// PromptInfo describes one persona and the argument names it accepts.
type PromptInfo struct {
	Name      string
	Arguments []string
}

// Client is the capability set the engine consumes. The concrete
// implementation talks MCP; tests substitute fakes.
type Client interface {
	ListTools(ctx context.Context) ([]ToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)
	ListPrompts(ctx context.Context) ([]PromptInfo, error)
	// GetPrompt renders a persona and returns its messages concatenated
	// into one instruction string.
	GetPrompt(ctx context.Context, name string, args map[string]string) (string, error)
}

// ServerConfig locates the MCP server. Either a command to spawn (stdio
// transport) or an HTTP endpoint.
type ServerConfig struct {
	Command string   `yaml:"command" json:"command"`
	Args    []string `yaml:"args" json:"args"`
	Env     []string `yaml:"env" json:"env"`
	URL     string   `yaml:"url" json:"url"`
}

// SDKClient implements Client on the official MCP Go SDK.
type SDKClient struct {
	cfg    ServerConfig
	logger *zap.Logger
}

// NewClient creates an MCP-backed client for the given server.
func NewClient(cfg ServerConfig, logger *zap.Logger) *SDKClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SDKClient{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "mcp_client")),
	}
}

func (c *SDKClient) connect(ctx context.Context) (*mcp.ClientSession, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "planweave",
		Version: "1.0.0",
	}, nil)

	var transport mcp.Transport
	switch {
	case c.cfg.URL != "":
		transport = &mcp.StreamableClientTransport{Endpoint: c.cfg.URL}
	case c.cfg.Command != "":
		cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
		cmd.Env = append(os.Environ(), c.cfg.Env...)
		transport = &mcp.CommandTransport{Command: cmd}
	default:
		return nil, fmt.Errorf("mcp server config needs a command or url")
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to mcp server: %w", err)
	}
	return session, nil
}

// ListTools returns the endpoint's tool catalog.
func (c *SDKClient) ListTools(ctx context.Context) ([]ToolInfo, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	res, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	tools := make([]ToolInfo, 0, len(res.Tools))
	for _, t := range res.Tools {
		schema := json.RawMessage(`{"type":"object"}`)
		if t.InputSchema != nil {
			if raw, err := json.Marshal(t.InputSchema); err == nil {
				schema = raw
			}
		}
		tools = append(tools, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

// CallTool invokes a tool and normalizes its result.
func (c *SDKClient) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	c.logger.Debug("calling tool", zap.String("tool", name))
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("call tool %q: %w", name, err)
	}

	var parts []string
	for _, content := range res.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return Normalize(strings.Join(parts, "\n"), res.StructuredContent, res.IsError), nil
}

// ListPrompts returns the personas the endpoint offers.
func (c *SDKClient) ListPrompts(ctx context.Context) ([]PromptInfo, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	res, err := session.ListPrompts(ctx, &mcp.ListPromptsParams{})
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}

	prompts := make([]PromptInfo, 0, len(res.Prompts))
	for _, p := range res.Prompts {
		info := PromptInfo{Name: p.Name}
		for _, arg := range p.Arguments {
			info.Arguments = append(info.Arguments, arg.Name)
		}
		prompts = append(prompts, info)
	}
	return prompts, nil
}

// GetPrompt renders a persona into one instruction string.
func (c *SDKClient) GetPrompt(ctx context.Context, name string, args map[string]string) (string, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	defer session.Close()

	res, err := session.GetPrompt(ctx, &mcp.GetPromptParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("get prompt %q: %w", name, err)
	}

	var parts []string
	for _, msg := range res.Messages {
		if text, ok := msg.Content.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
