package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/planweave/planweave/agent"
	"github.com/planweave/planweave/llm"
	"github.com/planweave/planweave/plan"
)

// RecoveryDecision is the advisor's verdict: which earlier step to rewind to
// and why.
type RecoveryDecision struct {
	AgentName       string `json:"agent_name"`
	TaskDescription string `json:"task_description"`
	Reason          string `json:"reason"`
}

// defaultAdvisorRetries bounds the re-ask loop when the advisor's output does
// not decode or names an unknown step.
const defaultAdvisorRetries = 3

// Advisor picks a rollback target among earlier steps by consulting the
// text-generation provider. The consultation runs without tools; the answer
// must be a fenced JSON object.
type Advisor struct {
	factory    llm.BackendFactory
	maxRetries int
	logger     *zap.Logger
}

// NewAdvisor creates a recovery advisor.
func NewAdvisor(factory llm.BackendFactory, logger *zap.Logger) *Advisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Advisor{
		factory:    factory,
		maxRetries: defaultAdvisorRetries,
		logger:     logger.With(zap.String("component", "recovery_advisor")),
	}
}

// Decide asks the provider which step to rewind to after failedStep failed
// with errMsg. history carries the reasons of earlier recoveries of the same
// step so repeated failures accumulate hints. Malformed or invalid answers
// are re-asked with the validation error embedded; after the retry cap the
// error is fatal.
func (a *Advisor) Decide(ctx context.Context, p *plan.Plan, failedStep, errMsg string, history []string) (*RecoveryDecision, error) {
	backend, err := a.factory()
	if err != nil {
		return nil, fmt.Errorf("create advisor backend: %w", err)
	}
	if err := backend.Initialize(ctx, nil); err != nil {
		return nil, fmt.Errorf("initialize advisor backend: %w", err)
	}

	prompt := a.buildPrompt(p, failedStep, errMsg, history)
	var lastErr error
	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		res, err := backend.Generate(ctx, &llm.GenerateRequest{
			Prompt:     prompt,
			ToolChoice: llm.ToolChoice{Mode: llm.ToolChoiceNone},
		})
		if err != nil {
			return nil, fmt.Errorf("advisor generate: %w", err)
		}

		decision, err := decodeDecision(res.Text, p, failedStep)
		if err == nil {
			a.logger.Info("recovery decision",
				zap.String("failed_step", failedStep),
				zap.String("target", decision.AgentName),
				zap.String("reason", decision.Reason),
			)
			return decision, nil
		}
		lastErr = &ProtocolError{Attempt: attempt, Cause: err}
		a.logger.Warn("invalid recovery decision, re-asking",
			zap.Int("attempt", attempt), zap.Error(err))
		prompt = fmt.Sprintf(
			"Your previous answer was invalid: %v.\n"+
				"Answer again with only a fenced JSON object of the form "+
				"{\"agent_name\": ..., \"task_description\": ..., \"reason\": ...}.", err)
	}
	return nil, &FatalError{Reason: "recovery advisor could not resolve a valid target", Last: lastErr}
}

// buildPrompt enumerates the steps from the first through the failing one so
// the provider can only be steered toward steps that have already run.
func (a *Advisor) buildPrompt(p *plan.Plan, failedStep, errMsg string, history []string) string {
	var b strings.Builder
	b.WriteString("A workflow step failed and execution must rewind to an earlier step.\n\n")
	b.WriteString("Steps executed so far, in order:\n")
	for _, step := range p.StepsThrough(failedStep) {
		fmt.Fprintf(&b, "- %s: %s\n", step.Name(), step.Description())
	}
	fmt.Fprintf(&b, "\nThe failing step is %q. Error:\n%s\n", failedStep, errMsg)
	if len(history) > 0 {
		b.WriteString("\nEarlier recovery attempts for this step:\n")
		for _, h := range history {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}
	b.WriteString("\nChoose the step to restart from and respond with only a fenced JSON object:\n")
	b.WriteString("```json\n{\"agent_name\": \"<step name>\", \"task_description\": \"<what to redo>\", \"reason\": \"<why>\"}\n```\n")
	return b.String()
}

// decodeDecision parses and validates an advisor answer. The chosen step must
// be one of the steps from the first through the failing one.
func decodeDecision(text string, p *plan.Plan, failedStep string) (*RecoveryDecision, error) {
	block := agent.ExtractCodeBlock(text)
	var decision RecoveryDecision
	if err := json.Unmarshal([]byte(block), &decision); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}
	if decision.AgentName == "" {
		return nil, fmt.Errorf("decision names no step")
	}
	if decision.TaskDescription == "" {
		return nil, fmt.Errorf("decision carries no task description")
	}
	for _, step := range p.StepsThrough(failedStep) {
		if step.Name() == decision.AgentName {
			return &decision, nil
		}
	}
	return nil, fmt.Errorf("decision names unknown step %q", decision.AgentName)
}
