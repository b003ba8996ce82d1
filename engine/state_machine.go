package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/planweave/planweave/plan"
)

// Outcome labels the result of one executed cycle and selects the next
// transition.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Runner executes a single step of its kind. Implementations return the
// step's textual result and metadata; execution problems come back as err
// and are folded into a failure outcome, they do not abort the run.
type Runner interface {
	Run(ctx context.Context, step *plan.Step, scope *Context) (result string, metadata map[string]any, err error)
}

// StepTelemetry is the append-only record of one executed cycle.
type StepTelemetry struct {
	StepName  string         `json:"step"`
	Result    string         `json:"result"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Outcome   Outcome        `json:"outcome"`
	NextState string         `json:"next_state"`
}

// Option configures a StateMachine.
type Option func(*StateMachine)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *StateMachine) { m.logger = logger }
}

// WithTemplateResolver replaces the default input template resolver.
func WithTemplateResolver(r TemplateResolver) Option {
	return func(m *StateMachine) { m.resolver = r }
}

// WithEmptyResultSuccess makes an empty-but-error-free result count as
// success. The default preserves the historical behavior: empty is failure.
func WithEmptyResultSuccess() Option {
	return func(m *StateMachine) { m.emptyIsFailure = false }
}

// StateMachine holds the compiled graph and the current state name, and
// executes exactly one step per RunCycle call. The graph may contain cycles
// (recovery rewinds into earlier states); termination is bounded by the
// orchestrator's attempt budget, never by graph shape.
type StateMachine struct {
	states     map[string]*plan.Step
	blackboard *Context
	runners    map[plan.Kind]Runner
	current    string

	resolver       TemplateResolver
	emptyIsFailure bool
	logger         *zap.Logger
	tracer         trace.Tracer
}

// NewStateMachine wires a compiled plan to its runners and blackboard.
func NewStateMachine(p *plan.Plan, blackboard *Context, runners map[plan.Kind]Runner, opts ...Option) *StateMachine {
	m := &StateMachine{
		states:         p.States(),
		blackboard:     blackboard,
		runners:        runners,
		current:        p.Initial(),
		resolver:       NewTextResolver(),
		emptyIsFailure: true,
		logger:         zap.NewNop(),
		tracer:         otel.Tracer("planweave/engine"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "state_machine"))
	return m
}

// Current returns the current state name.
func (m *StateMachine) Current() string { return m.current }

// SetCurrent rewinds or advances the machine to a named state.
func (m *StateMachine) SetCurrent(name string) error {
	if _, ok := m.states[name]; !ok {
		return fmt.Errorf("unknown state %q", name)
	}
	m.current = name
	return nil
}

// Blackboard returns the run context the machine mutates.
func (m *StateMachine) Blackboard() *Context { return m.blackboard }

// RunCycle executes the current step and computes the next state.
// It returns (nil, true, nil) when the current state is terminal; no runner
// is invoked in that case.
func (m *StateMachine) RunCycle(ctx context.Context) (*StepTelemetry, bool, error) {
	step, ok := m.states[m.current]
	if !ok {
		return nil, false, fmt.Errorf("current state %q not in graph", m.current)
	}
	if step.Kind() == plan.KindFinal {
		m.logger.Debug("terminal state reached", zap.String("state", m.current))
		return nil, true, nil
	}

	runner, ok := m.runners[step.Kind()]
	if !ok {
		return nil, false, fmt.Errorf("no runner registered for step kind %q", step.Kind())
	}

	ctx, span := m.tracer.Start(ctx, "engine.cycle",
		trace.WithAttributes(
			attribute.String("step.name", step.Name()),
			attribute.String("step.kind", string(step.Kind())),
		))
	defer span.End()

	// Build the execution scope: the blackboard overlaid with the step's
	// resolved input overrides. Overrides win on key conflict but never
	// leak back except through the writeback below.
	resolved, err := m.resolver.Resolve(step.Spec.Inputs, m.blackboard)
	if err != nil {
		return nil, false, fmt.Errorf("step %q: %w", step.Name(), err)
	}
	scope := m.blackboard.Clone()
	scope.MergeStepInputs(resolved)

	result, metadata, runErr := runner.Run(ctx, step, scope)
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}

	m.writeBack(step.Name(), result, errMsg)

	outcome := OutcomeFailure
	if errMsg == "" && (result != "" || !m.emptyIsFailure) {
		outcome = OutcomeSuccess
	}

	next := m.nextState(step, outcome)
	prev := m.current
	m.current = next

	m.logger.Info("transition",
		zap.String("step", prev),
		zap.String("outcome", string(outcome)),
		zap.String("next", next),
	)
	span.SetAttributes(attribute.String("step.outcome", string(outcome)))

	return &StepTelemetry{
		StepName:  step.Name(),
		Result:    result,
		Error:     errMsg,
		Metadata:  metadata,
		Outcome:   outcome,
		NextState: next,
	}, false, nil
}

// writeBack publishes a cycle's outputs to the blackboard: the transient
// "result", the step-scoped "<step>_result", the previous-result carrier,
// and the error message. Results that look like serialized objects are
// stored parsed so later templates can address their fields.
func (m *StateMachine) writeBack(stepName, result, errMsg string) {
	m.blackboard.Set(KeyErrorMessage, errMsg)
	parsed := parseResult(result)
	m.blackboard.Set(KeyResult, parsed)
	if result != "" {
		m.blackboard.Set(KeyPreviousResult, result)
		m.blackboard.Set(stepName+resultSuffix, parsed)
	}
}

// parseResult attempts a structured-data parse of a result string, returning
// the parsed form when it decodes to an object or array, the raw string
// otherwise.
func parseResult(result string) any {
	trimmed := strings.TrimSpace(result)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return result
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return result
	}
	return parsed
}

// nextState reads the step's transition for the outcome, falling back to
// the matching terminal when unspecified.
func (m *StateMachine) nextState(step *plan.Step, outcome Outcome) string {
	tr := step.Spec.Transitions
	if tr != nil {
		if outcome == OutcomeSuccess && tr.Success != "" {
			return tr.Success
		}
		if outcome == OutcomeFailure && tr.Failure != "" {
			return tr.Failure
		}
	}
	if outcome == OutcomeSuccess {
		return plan.StateSuccess
	}
	return plan.StateFailed
}
