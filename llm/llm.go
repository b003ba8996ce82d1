// Package llm defines the session-oriented text-generation backend contract
// used by agent steps and the recovery advisor. A backend is bound to one
// step execution at a time: Initialize hands it the tool catalog, Generate
// advances the conversation, Usage reports accumulated token counts.
package llm

import (
	"context"
	"encoding/json"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a named tool invocation requested by the model.
type ToolCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolSchema describes one tool offered to the model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// ToolChoiceMode is the tool-choice policy for one generation turn.
type ToolChoiceMode string

const (
	// ToolChoiceAuto lets the model decide whether to call tools.
	ToolChoiceAuto ToolChoiceMode = "auto"
	// ToolChoiceNone disables tool calling for the turn.
	ToolChoiceNone ToolChoiceMode = "none"
	// ToolChoiceForced restricts the model to the named subset and
	// requires it to call one of them.
	ToolChoiceForced ToolChoiceMode = "forced"
)

// ToolChoice selects the tool-choice policy, with the allowed subset when
// forced.
type ToolChoice struct {
	Mode    ToolChoiceMode `json:"mode"`
	Allowed []string       `json:"allowed,omitempty"`
}

// ToolOutput feeds one executed tool call's result back into the session.
type ToolOutput struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// GenerateRequest is one turn of a session: either a new prompt or the
// outputs of the previous turn's tool calls.
type GenerateRequest struct {
	Prompt      string       `json:"prompt,omitempty"`
	ToolOutputs []ToolOutput `json:"tool_outputs,omitempty"`
	ToolChoice  ToolChoice   `json:"tool_choice"`
}

// GenerateResult is the model's reply for one turn.
type GenerateResult struct {
	Text      string     `json:"text"`
	Reasoning string     `json:"reasoning,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Usage is the token accounting for a session.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// Backend is one text-generation provider session. Implementations keep
// conversation state between Generate calls; provider-specific concerns
// such as tool-name normalization stay inside the adapter.
type Backend interface {
	// Initialize converts the tool catalog to the provider's format and
	// opens the session.
	Initialize(ctx context.Context, tools []ToolSchema) error

	// Generate advances the session by one turn.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)

	// Usage returns the tokens consumed by the session so far.
	Usage() Usage

	// Name identifies the provider.
	Name() string
}

// BackendFactory creates a fresh backend session. The orchestrator hands one
// to each agent step so sessions never bleed between steps.
type BackendFactory func() (Backend, error)
