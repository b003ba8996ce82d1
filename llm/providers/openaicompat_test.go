package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planweave/planweave/llm"
)

// chatServer is an httptest chat-completions endpoint answering from a
// scripted queue and recording every decoded request.
type chatServer struct {
	*httptest.Server

	Requests []chatRequest
	Headers  []http.Header

	replies []chatResponse
	status  int
	body    string
}

func newChatServer(t *testing.T) *chatServer {
	t.Helper()
	s := &chatServer{status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		s.Requests = append(s.Requests, req)
		s.Headers = append(s.Headers, r.Header.Clone())

		if s.status != http.StatusOK {
			w.WriteHeader(s.status)
			w.Write([]byte(s.body))
			return
		}
		reply := chatResponse{Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: "ok"}}}}
		if len(s.replies) > 0 {
			reply = s.replies[0]
			s.replies = s.replies[1:]
		}
		json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *chatServer) queue(resp chatResponse) *chatServer {
	s.replies = append(s.replies, resp)
	return s
}

func (s *chatServer) fail(status int, body string) *chatServer {
	s.status = status
	s.body = body
	return s
}

func textReply(text string) chatResponse {
	return chatResponse{
		Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: text}}},
		Usage:   &chatUsage{PromptTokens: 12, CompletionTokens: 7},
	}
}

func toolCallReply(name, args string) chatResponse {
	return chatResponse{Choices: []chatChoice{{Message: chatMessage{
		Role: "assistant",
		ToolCalls: []chatToolCall{{
			ID: "call-1", Type: "function",
			Function: chatCallFunction{Name: name, Arguments: args},
		}},
	}}}}
}

func testBackend(server *chatServer, sanitize bool) *CompatBackend {
	return NewCompatBackend(CompatConfig{
		ProviderName:      "test",
		APIKey:            "sk-test",
		BaseURL:           server.URL,
		Model:             "m1",
		Temperature:       0.3,
		SanitizeToolNames: sanitize,
	}, nil)
}

var searchTool = llm.ToolSchema{
	Name:        "search",
	Description: "find things",
	Parameters:  json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`),
}

func TestCompatBackend_RequestShape(t *testing.T) {
	server := newChatServer(t).queue(textReply("hello"))
	b := testBackend(server, false)
	require.NoError(t, b.Initialize(context.Background(), []llm.ToolSchema{searchTool}))

	res, err := b.Generate(context.Background(), &llm.GenerateRequest{
		Prompt:     "find demo",
		ToolChoice: llm.ToolChoice{Mode: llm.ToolChoiceAuto},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)

	require.Len(t, server.Requests, 1)
	req := server.Requests[0]
	assert.Equal(t, "m1", req.Model)
	assert.Equal(t, float32(0.3), req.Temperature)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, "find demo", req.Messages[0].Content)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "search", req.Tools[0].Function.Name)
	assert.Equal(t, "auto", req.ToolChoice)

	assert.Equal(t, "Bearer sk-test", server.Headers[0].Get("Authorization"))
	assert.Equal(t, "application/json", server.Headers[0].Get("Content-Type"))
}

func TestCompatBackend_HistoryAccumulates(t *testing.T) {
	server := newChatServer(t).queue(textReply("first")).queue(textReply("second"))
	b := testBackend(server, false)
	require.NoError(t, b.Initialize(context.Background(), nil))

	_, err := b.Generate(context.Background(), &llm.GenerateRequest{Prompt: "one"})
	require.NoError(t, err)
	_, err = b.Generate(context.Background(), &llm.GenerateRequest{Prompt: "two"})
	require.NoError(t, err)

	// Second request replays user, assistant, user.
	require.Len(t, server.Requests, 2)
	msgs := server.Requests[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"user", "assistant", "user"},
		[]string{msgs[0].Role, msgs[1].Role, msgs[2].Role})
	assert.Equal(t, "first", msgs[1].Content)
}

func TestCompatBackend_ToolRoundTrip(t *testing.T) {
	server := newChatServer(t).
		queue(toolCallReply("search", `{"q":"demo"}`)).
		queue(textReply("3 hits"))
	b := testBackend(server, false)
	require.NoError(t, b.Initialize(context.Background(), []llm.ToolSchema{searchTool}))

	res, err := b.Generate(context.Background(), &llm.GenerateRequest{Prompt: "go"})
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "search", res.ToolCalls[0].Name)
	assert.JSONEq(t, `{"q":"demo"}`, string(res.ToolCalls[0].Args))

	_, err = b.Generate(context.Background(), &llm.GenerateRequest{
		ToolOutputs: []llm.ToolOutput{{ID: "call-1", Name: "search", Content: "3 hits"}},
	})
	require.NoError(t, err)

	msgs := server.Requests[1].Messages
	last := msgs[len(msgs)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "call-1", last.ToolCallID)
	assert.Equal(t, "3 hits", last.Content)
}

func TestCompatBackend_ToolChoiceMapping(t *testing.T) {
	server := newChatServer(t).
		queue(toolCallReply("search", "{}")).
		queue(textReply("a")).
		queue(textReply("b"))
	b := testBackend(server, false)
	require.NoError(t, b.Initialize(context.Background(), []llm.ToolSchema{searchTool}))

	_, err := b.Generate(context.Background(), &llm.GenerateRequest{
		Prompt:     "forced",
		ToolChoice: llm.ToolChoice{Mode: llm.ToolChoiceForced, Allowed: []string{"search"}},
	})
	require.NoError(t, err)
	forced, ok := server.Requests[0].ToolChoice.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "function", forced["type"])

	_, err = b.Generate(context.Background(), &llm.GenerateRequest{
		Prompt:     "none",
		ToolChoice: llm.ToolChoice{Mode: llm.ToolChoiceNone},
	})
	require.NoError(t, err)
	// Tool calling off for the turn: no catalog, no choice.
	assert.Empty(t, server.Requests[1].Tools)
	assert.Nil(t, server.Requests[1].ToolChoice)

	_, err = b.Generate(context.Background(), &llm.GenerateRequest{
		Prompt:     "auto",
		ToolChoice: llm.ToolChoice{Mode: llm.ToolChoiceAuto},
	})
	require.NoError(t, err)
	assert.Equal(t, "auto", server.Requests[2].ToolChoice)
}

func TestCompatBackend_ReasoningContent(t *testing.T) {
	server := newChatServer(t).queue(chatResponse{Choices: []chatChoice{{Message: chatMessage{
		Role: "assistant", Content: "42", ReasoningContent: "thought about it",
	}}}})
	b := testBackend(server, false)
	require.NoError(t, b.Initialize(context.Background(), nil))

	res, err := b.Generate(context.Background(), &llm.GenerateRequest{Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "42", res.Text)
	assert.Equal(t, "thought about it", res.Reasoning)
}

func TestCompatBackend_UsageReportedAndEstimated(t *testing.T) {
	server := newChatServer(t).
		queue(textReply("counted")). // carries usage
		queue(chatResponse{Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: "estimated"}}}})
	b := testBackend(server, false)
	require.NoError(t, b.Initialize(context.Background(), nil))

	_, err := b.Generate(context.Background(), &llm.GenerateRequest{Prompt: "one"})
	require.NoError(t, err)
	assert.Equal(t, llm.Usage{PromptTokens: 12, CompletionTokens: 7}, b.Usage())

	_, err = b.Generate(context.Background(), &llm.GenerateRequest{Prompt: "two"})
	require.NoError(t, err)
	// Second turn had no usage block; the estimate still moves the counters.
	assert.Greater(t, b.Usage().CompletionTokens, 7)
}

func TestCompatBackend_ErrorMapping(t *testing.T) {
	cases := []struct {
		status    int
		wantCode  llm.ErrorCode
		retryable bool
	}{
		{http.StatusUnauthorized, llm.ErrUnauthorized, false},
		{http.StatusForbidden, llm.ErrUnauthorized, false},
		{http.StatusTooManyRequests, llm.ErrRateLimited, true},
		{http.StatusGatewayTimeout, llm.ErrUpstreamTimeout, true},
		{http.StatusInternalServerError, llm.ErrUpstreamError, true},
		{http.StatusBadRequest, llm.ErrInvalidRequest, false},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			server := newChatServer(t).fail(tc.status, "upstream said no")
			b := testBackend(server, false)
			require.NoError(t, b.Initialize(context.Background(), nil))

			_, err := b.Generate(context.Background(), &llm.GenerateRequest{Prompt: "q"})
			var typed *llm.Error
			require.ErrorAs(t, err, &typed)
			assert.Equal(t, tc.wantCode, typed.Code)
			assert.Equal(t, tc.retryable, typed.Retryable)
			assert.Equal(t, tc.status, typed.HTTPStatus)
			assert.Contains(t, typed.Message, "upstream said no")
		})
	}
}

func TestCompatBackend_GenerateBeforeInitialize(t *testing.T) {
	b := testBackend(newChatServer(t), false)
	_, err := b.Generate(context.Background(), &llm.GenerateRequest{Prompt: "q"})
	var typed *llm.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, llm.ErrNotInitialized, typed.Code)
}

func TestCompatBackend_SanitizedToolNamesRoundTrip(t *testing.T) {
	server := newChatServer(t).queue(toolCallReply("mcp_search_v2", `{"q":"x"}`))
	b := testBackend(server, true)
	tool := llm.ToolSchema{Name: "mcp-search v2"}
	require.NoError(t, b.Initialize(context.Background(), []llm.ToolSchema{tool}))

	res, err := b.Generate(context.Background(), &llm.GenerateRequest{
		Prompt:     "go",
		ToolChoice: llm.ToolChoice{Mode: llm.ToolChoiceForced, Allowed: []string{"mcp-search v2"}},
	})
	require.NoError(t, err)

	// Sanitized on the wire, original on the way back out.
	assert.Equal(t, "mcp_search_v2", server.Requests[0].Tools[0].Function.Name)
	forced := server.Requests[0].ToolChoice.(map[string]any)
	fn := forced["function"].(map[string]any)
	assert.Equal(t, "mcp_search_v2", fn["name"])
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "mcp-search v2", res.ToolCalls[0].Name)
}

func TestFactory_ProviderSelection(t *testing.T) {
	b, err := New(Config{Provider: "openai", APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", b.Name())

	b, err = New(Config{Provider: "gemini"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "gemini", b.Name())

	b, err = New(Config{Provider: "llama"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "llama", b.Name())

	_, err = New(Config{Provider: "carrier-pigeon"}, nil)
	require.Error(t, err)

	factory := NewFactory(Config{Provider: "openai"}, nil)
	first, err := factory()
	require.NoError(t, err)
	second, err := factory()
	require.NoError(t, err)
	assert.NotSame(t, first, second) // fresh session per step
}
