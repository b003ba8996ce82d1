// Package providers contains the concrete text-generation backends. All of
// them speak an OpenAI-compatible chat-completions dialect; provider
// variants only override naming, endpoints, headers, and adapter-local
// normalization quirks.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/planweave/planweave/llm"
)

// CompatConfig configures an OpenAI-compatible backend session.
type CompatConfig struct {
	ProviderName string
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float32
	MaxTokens    int

	// EndpointPath is the chat completions path. Defaults to
	// "/v1/chat/completions".
	EndpointPath string

	// Timeout is the HTTP client timeout. Defaults to 120s; agent turns
	// with large tool catalogs are slow.
	Timeout time.Duration

	// BuildHeaders optionally replaces the default bearer-token headers.
	BuildHeaders func(req *http.Request, apiKey string)

	// SanitizeToolNames rewrites characters the provider's function-calling
	// API rejects (hyphens, spaces) to underscores, and maps them back on
	// the way out. This is an adapter-local concern; tool names on the wire
	// to the tool endpoint are always the originals.
	SanitizeToolNames bool
}

// CompatBackend is a stateful chat-completions session. One instance serves
// one step execution; the orchestrator creates sessions through a factory.
type CompatBackend struct {
	cfg    CompatConfig
	client *http.Client
	logger *zap.Logger

	tools       []chatTool
	nameMap     map[string]string // sanitized -> original
	messages    []chatMessage
	usage       llm.Usage
	initialized bool
}

// NewCompatBackend creates a session backend with the given config.
func NewCompatBackend(cfg CompatConfig, logger *zap.Logger) *CompatBackend {
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompatBackend{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With(zap.String("component", "llm_backend"), zap.String("provider", cfg.ProviderName)),
		nameMap: make(map[string]string),
	}
}

func (b *CompatBackend) Name() string { return b.cfg.ProviderName }

func (b *CompatBackend) Usage() llm.Usage { return b.usage }

// Initialize converts the tool catalog and resets the session history.
func (b *CompatBackend) Initialize(_ context.Context, tools []llm.ToolSchema) error {
	b.tools = b.tools[:0]
	b.messages = b.messages[:0]
	b.nameMap = make(map[string]string, len(tools))
	for _, t := range tools {
		name := t.Name
		if b.cfg.SanitizeToolNames {
			name = sanitizeToolName(t.Name)
			b.nameMap[name] = t.Name
		}
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object"}`)
		}
		b.tools = append(b.tools, chatTool{
			Type: "function",
			Function: chatToolFunction{
				Name:        name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	b.initialized = true
	return nil
}

// Generate advances the session by one turn.
func (b *CompatBackend) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResult, error) {
	if !b.initialized {
		return nil, &llm.Error{
			Code: llm.ErrNotInitialized, Message: "backend not initialized",
			Provider: b.Name(),
		}
	}

	if req.Prompt != "" {
		b.messages = append(b.messages, chatMessage{Role: "user", Content: req.Prompt})
	}
	for _, out := range req.ToolOutputs {
		b.messages = append(b.messages, chatMessage{
			Role:       "tool",
			Content:    out.Content,
			ToolCallID: out.ID,
		})
	}

	body := chatRequest{
		Model:       b.cfg.Model,
		Messages:    b.messages,
		Temperature: b.cfg.Temperature,
		MaxTokens:   b.cfg.MaxTokens,
	}
	if len(b.tools) > 0 && req.ToolChoice.Mode != llm.ToolChoiceNone {
		body.Tools = b.tools
		body.ToolChoice = b.toolChoiceValue(req.ToolChoice)
	}

	resp, err := b.post(ctx, &body)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: "response contained no choices",
			Retryable: true, Provider: b.Name(),
		}
	}

	msg := resp.Choices[0].Message
	b.messages = append(b.messages, msg)
	b.recordUsage(req, resp, msg)

	result := &llm.GenerateResult{
		Text:      msg.Content,
		Reasoning: msg.ReasoningContent,
	}
	for _, tc := range msg.ToolCalls {
		name := tc.Function.Name
		if original, ok := b.nameMap[name]; ok {
			name = original
		}
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			ID:   tc.ID,
			Name: name,
			Args: args,
		})
	}
	return result, nil
}

func (b *CompatBackend) toolChoiceValue(choice llm.ToolChoice) any {
	switch choice.Mode {
	case llm.ToolChoiceForced:
		if len(choice.Allowed) == 1 {
			name := choice.Allowed[0]
			if b.cfg.SanitizeToolNames {
				name = sanitizeToolName(name)
			}
			return map[string]any{
				"type":     "function",
				"function": map[string]any{"name": name},
			}
		}
		return "required"
	case llm.ToolChoiceNone:
		return "none"
	default:
		return "auto"
	}
}

func (b *CompatBackend) recordUsage(req *llm.GenerateRequest, resp *chatResponse, msg chatMessage) {
	if resp.Usage != nil {
		b.usage.Add(llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		})
		return
	}
	// Provider reported no usage: estimate so accounting stays non-zero.
	b.usage.Add(llm.Usage{
		PromptTokens:     llm.EstimateTokens(req.Prompt),
		CompletionTokens: llm.EstimateTokens(msg.Content),
	})
}

func (b *CompatBackend) post(ctx context.Context, body *chatRequest) (*chatResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	url := strings.TrimRight(b.cfg.BaseURL, "/") + b.cfg.EndpointPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	if b.cfg.BuildHeaders != nil {
		b.cfg.BuildHeaders(httpReq, b.cfg.APIKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: b.Name(),
		}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			Retryable: true, Provider: b.Name(),
		}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(b.Name(), httpResp.StatusCode, raw)
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: fmt.Sprintf("decode chat response: %v", err),
			Retryable: false, Provider: b.Name(),
		}
	}
	return &resp, nil
}

func mapHTTPError(provider string, status int, body []byte) *llm.Error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	e := &llm.Error{
		Message:    fmt.Sprintf("%s returned status %d: %s", provider, status, msg),
		HTTPStatus: status,
		Provider:   provider,
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Code = llm.ErrUnauthorized
	case status == http.StatusTooManyRequests:
		e.Code = llm.ErrRateLimited
		e.Retryable = true
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Code = llm.ErrUpstreamTimeout
		e.Retryable = true
	case status >= 500:
		e.Code = llm.ErrUpstreamError
		e.Retryable = true
	default:
		e.Code = llm.ErrInvalidRequest
	}
	return e
}

// sanitizeToolName rewrites characters some function-calling APIs reject.
func sanitizeToolName(name string) string {
	name = strings.ReplaceAll(name, "-", "_")
	return strings.ReplaceAll(name, " ", "_")
}

// --- wire types (OpenAI chat completions dialect) ---

type chatMessage struct {
	Role             string         `json:"role"`
	Content          string         `json:"content"`
	ReasoningContent string         `json:"reasoning_content,omitempty"`
	ToolCalls        []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatCallFunction `json:"function"`
}

type chatCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Message      chatMessage `json:"message"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id,omitempty"`
	Model   string       `json:"model,omitempty"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
}
