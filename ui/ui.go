// Package ui is the contract between the engine and whatever front end is
// rendering a run. The engine only emits lifecycle events and, on failure,
// asks for one of a fixed set of decisions; rendering and input collection
// live entirely behind this interface.
package ui

// DecisionAction is the operator's choice when a step fails.
type DecisionAction string

const (
	// ActionRetry re-runs the failed step as-is.
	ActionRetry DecisionAction = "retry"
	// ActionAssist re-runs the failed step with an operator-supplied hint
	// merged into the error message.
	ActionAssist DecisionAction = "assist"
	// ActionAuto delegates the choice of rollback target to the recovery
	// advisor.
	ActionAuto DecisionAction = "auto"
	// ActionQuit aborts the run immediately.
	ActionQuit DecisionAction = "quit"
)

// Decision is the operator's answer to a failure prompt.
type Decision struct {
	Action DecisionAction
	// Hint is the free-text guidance supplied with ActionAssist.
	Hint string
}

// Interface receives lifecycle events and collects operator choices.
// Implementations must treat every callback as fire-and-forget except
// AskDecision, which blocks the run until answered.
type Interface interface {
	OnStepStart(name, description string, inputs map[string]any)
	OnStepFinish(name, result, errMsg string, metadata map[string]any)
	OnWorkflowComplete(status string)
	Log(message string)

	// AskDecision blocks until the operator picks what to do about a
	// failed step.
	AskDecision(failedStep, errMsg string) Decision
}
