// Package agent implements the step runners the state machine dispatches to:
// a persona-driven worker that iterates an LLM tool loop against the tool
// endpoint, and a direct tool runner that needs no model at all.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/planweave/planweave/engine"
	"github.com/planweave/planweave/llm"
	"github.com/planweave/planweave/mcpclient"
	"github.com/planweave/planweave/plan"
	"github.com/planweave/planweave/ui"
)

// checkFinishedPersona is the endpoint persona asked to judge whether the
// accumulated tool output completes the step. Endpoints that do not offer it
// fall back to plain iteration.
const checkFinishedPersona = "check_finished_prompt"

// defaultMaxLoops bounds the reason/act iterations of a single step.
const defaultMaxLoops = 5

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerLogger sets the logger.
func WithWorkerLogger(logger *zap.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

// WithWorkerUI attaches a front end for progress messages.
func WithWorkerUI(u ui.Interface) WorkerOption {
	return func(w *Worker) { w.ui = u }
}

// WithMaxLoops overrides the per-step iteration bound.
func WithMaxLoops(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxLoops = n
		}
	}
}

// Worker runs agent-kind steps. Each execution gets a fresh backend session
// from the factory, so conversation history never leaks between steps or
// between attempts of the same step.
type Worker struct {
	client   mcpclient.Client
	factory  llm.BackendFactory
	maxLoops int
	logger   *zap.Logger
	ui       ui.Interface
}

// NewWorker creates the agent-kind runner.
func NewWorker(client mcpclient.Client, factory llm.BackendFactory, opts ...WorkerOption) *Worker {
	w := &Worker{
		client:   client,
		factory:  factory,
		maxLoops: defaultMaxLoops,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "worker"))
	return w
}

// Run executes one agent step: fetch the persona, seed the session with the
// tool catalog, then iterate generate/execute until the model answers without
// tool calls, the check persona declares the step finished, or the iteration
// bound trips.
func (w *Worker) Run(ctx context.Context, step *plan.Step, scope *engine.Context) (string, map[string]any, error) {
	start := time.Now()
	meta := map[string]any{"runner": "worker"}

	if step.Spec.Prompt == "" {
		return "", meta, fmt.Errorf("agent step %q names no prompt", step.Name())
	}

	backend, err := w.factory()
	if err != nil {
		return "", meta, fmt.Errorf("create backend: %w", err)
	}
	meta["provider"] = backend.Name()

	tools, err := w.client.ListTools(ctx)
	if err != nil {
		return "", meta, fmt.Errorf("list tools: %w", err)
	}
	schemas := make([]llm.ToolSchema, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, llm.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}
	if err := backend.Initialize(ctx, schemas); err != nil {
		return "", meta, fmt.Errorf("initialize backend: %w", err)
	}

	instruction, err := w.buildInstruction(ctx, step, scope)
	if err != nil {
		return "", meta, err
	}

	forced := step.Spec.Tool
	choice := toolChoice(step)
	var toolLog []map[string]any
	defer func() {
		u := backend.Usage()
		meta["loops"] = len(toolLog)
		meta["tool_calls"] = toolLog
		meta["prompt_tokens"] = u.PromptTokens
		meta["completion_tokens"] = u.CompletionTokens
		meta["duration_ms"] = time.Since(start).Milliseconds()
	}()

	prompt := instruction
	var outputs []llm.ToolOutput
	for loop := 0; loop < w.maxLoops; loop++ {
		res, err := backend.Generate(ctx, &llm.GenerateRequest{
			Prompt:      prompt,
			ToolOutputs: outputs,
			ToolChoice:  choice,
		})
		if err != nil {
			return "", meta, fmt.Errorf("generate: %w", err)
		}
		prompt, outputs = "", nil

		calls := res.ToolCalls
		if len(calls) == 0 {
			if forced == "" {
				return res.Text, meta, nil
			}
			// A pinned tool was not called through the function-calling
			// path; some models emit the arguments as a fenced block
			// instead. Recover the call from the text when possible.
			synth, ok := synthesizeForcedCall(forced, res.Text)
			if !ok {
				return res.Text, meta, nil
			}
			w.logger.Debug("recovered forced tool call from text", zap.String("tool", forced))
			calls = []llm.ToolCall{synth}
		}

		lastContent := ""
		failure := ""
		for _, call := range calls {
			result := w.executeCall(ctx, call)
			toolLog = append(toolLog, map[string]any{
				"tool":     call.Name,
				"is_error": result.IsError,
			})
			outputs = append(outputs, llm.ToolOutput{
				ID:      call.ID,
				Name:    call.Name,
				Content: result.Content,
			})
			lastContent = result.Content
			if result.IsError && failure == "" {
				failure = result.ErrorMessage
				if failure == "" {
					failure = fmt.Sprintf("tool %q reported failure", call.Name)
				}
			}
		}

		if forced != "" {
			// Pinned-tool steps are one-shot: the tool's own verdict is the
			// step's verdict, the model gets no chance to talk it away.
			if failure != "" {
				return "", meta, fmt.Errorf("%s", failure)
			}
			return lastContent, meta, nil
		}
		if failure != "" {
			// Feed the failing output back so the model can self-correct.
			w.notify(fmt.Sprintf("step %s: tool failed, retrying within step", step.Name()))
			continue
		}

		done, next := w.checkFinished(ctx, backend, outputs)
		if done {
			return lastContent, meta, nil
		}
		prompt = next
	}

	return "", meta, fmt.Errorf("step %q did not converge within %d tool iterations", step.Name(), w.maxLoops)
}

// buildInstruction renders the step's persona with the context keys the
// persona declares, then appends the authored instruction suffix and the
// remaining context as background.
func (w *Worker) buildInstruction(ctx context.Context, step *plan.Step, scope *engine.Context) (string, error) {
	args, background := step.PartitionInputs(scope.Snapshot())

	instruction, err := w.client.GetPrompt(ctx, step.Spec.Prompt, stringifyArgs(args))
	if err != nil {
		return "", fmt.Errorf("get prompt %q: %w", step.Spec.Prompt, err)
	}
	if step.Spec.Instruction != "" {
		instruction += "\n\n" + step.Spec.Instruction
	}
	if len(background) > 0 {
		encoded, err := json.MarshalIndent(background, "", "  ")
		if err == nil {
			instruction += "\n\n## Shared Context\n" +
				"Supplemental data from previous steps:\n```json\n" +
				string(encoded) + "\n```"
		}
	}
	return instruction, nil
}

// executeCall runs one tool call, folding transport errors into a normalized
// failure result so the loop has a uniform view.
func (w *Worker) executeCall(ctx context.Context, call llm.ToolCall) *mcpclient.ToolResult {
	var args map[string]any
	if len(call.Args) > 0 {
		if err := json.Unmarshal(call.Args, &args); err != nil {
			w.logger.Warn("tool call arguments not an object",
				zap.String("tool", call.Name), zap.Error(err))
		}
	}
	w.notify("calling tool: " + call.Name)
	result, err := w.client.CallTool(ctx, call.Name, args)
	if err != nil {
		return &mcpclient.ToolResult{
			Content:      err.Error(),
			IsError:      true,
			ErrorMessage: err.Error(),
		}
	}
	return result
}

// checkDecision is the verdict expected from the check persona.
type checkDecision struct {
	Action      string `json:"action"`
	Instruction string `json:"instruction"`
}

// checkFinished asks the endpoint's check persona whether the tool output
// completes the step. A missing persona or an unparseable verdict degrades
// to plain iteration.
func (w *Worker) checkFinished(ctx context.Context, backend llm.Backend, outputs []llm.ToolOutput) (bool, string) {
	var content strings.Builder
	for _, out := range outputs {
		content.WriteString(out.Content)
		content.WriteString("\n")
	}
	question, err := w.client.GetPrompt(ctx, checkFinishedPersona, map[string]string{
		"content": content.String(),
	})
	if err != nil {
		return false, ""
	}

	res, err := backend.Generate(ctx, &llm.GenerateRequest{
		Prompt:     question,
		ToolChoice: llm.ToolChoice{Mode: llm.ToolChoiceNone},
	})
	if err != nil {
		return false, ""
	}

	var decision checkDecision
	if err := json.Unmarshal([]byte(ExtractCodeBlock(res.Text)), &decision); err != nil {
		return false, ""
	}
	switch strings.ToLower(decision.Action) {
	case "finish", "finished", "success", "done":
		return true, ""
	}
	return false, decision.Instruction
}

func (w *Worker) notify(msg string) {
	if w.ui != nil {
		w.ui.Log(msg)
	}
}

// toolChoice derives the tool-choice mode from the step declaration: pinned
// tool forces that tool, allow_tools=false disables the catalog entirely.
func toolChoice(step *plan.Step) llm.ToolChoice {
	if step.Spec.Tool != "" {
		return llm.ToolChoice{Mode: llm.ToolChoiceForced, Allowed: []string{step.Spec.Tool}}
	}
	if !step.AllowTools() {
		return llm.ToolChoice{Mode: llm.ToolChoiceNone}
	}
	return llm.ToolChoice{Mode: llm.ToolChoiceAuto}
}

// synthesizeForcedCall rebuilds a tool call from text output when the model
// emitted the arguments as a fenced JSON object instead of calling the
// function.
func synthesizeForcedCall(tool, text string) (llm.ToolCall, bool) {
	block := ExtractCodeBlock(text)
	var args map[string]any
	if err := json.Unmarshal([]byte(block), &args); err != nil {
		return llm.ToolCall{}, false
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return llm.ToolCall{}, false
	}
	return llm.ToolCall{ID: "forced-0", Name: tool, Args: raw}, true
}

// stringifyArgs renders persona argument values as strings; the prompt
// protocol only carries string arguments.
func stringifyArgs(args map[string]any) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		switch val := v.(type) {
		case string:
			out[k] = val
		default:
			if raw, err := json.Marshal(v); err == nil {
				out[k] = string(raw)
			} else {
				out[k] = fmt.Sprintf("%v", v)
			}
		}
	}
	return out
}
