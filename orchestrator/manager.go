// Package orchestrator drives a compiled plan to completion: persona
// validation, the cycle loop, the attempt budget, the failure-recovery
// policy and best-effort result persistence.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/planweave/planweave/agent"
	"github.com/planweave/planweave/engine"
	"github.com/planweave/planweave/internal/metrics"
	"github.com/planweave/planweave/llm"
	"github.com/planweave/planweave/mcpclient"
	"github.com/planweave/planweave/plan"
	"github.com/planweave/planweave/resultsink"
	"github.com/planweave/planweave/ui"
)

// StatusFailed is the run status of an aborted run: budget exhausted,
// unrecoverable advisor failure, or operator quit.
const StatusFailed = "Failed"

// defaultMaxAttempts is the run-wide failure budget when neither the context
// nor an option sets one.
const defaultMaxAttempts = 3

// errQuit aborts the run on operator request.
var errQuit = errors.New("operator quit")

// RunReport is the in-process summary of one finished run.
type RunReport struct {
	RunID      string
	Status     string
	FinalState string
	Steps      []engine.StepTelemetry
	Attempts   int
	Duration   time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithUI attaches a front end for progress events and failure menus.
func WithUI(u ui.Interface) Option {
	return func(m *Manager) { m.ui = u }
}

// WithSink attaches a result sink; persistence is best-effort.
func WithSink(s resultsink.Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithMaxAttempts sets the default run-wide failure budget. A "max_attempts"
// key in the run context still takes precedence.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithRunners replaces the default runner table; used by tests and by
// embedders with custom step kinds.
func WithRunners(runners map[plan.Kind]engine.Runner) Option {
	return func(m *Manager) { m.runners = runners }
}

// WithAdvisor replaces the default recovery advisor.
func WithAdvisor(a *Advisor) Option {
	return func(m *Manager) { m.advisor = a }
}

// WithEngineOptions forwards options to the state machine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(m *Manager) { m.engineOpts = append(m.engineOpts, opts...) }
}

// Manager owns one plan and executes runs of it. The run context is
// exclusively owned by the Manager for the run's lifetime; steps execute
// strictly sequentially.
type Manager struct {
	plan    *plan.Plan
	client  mcpclient.Client
	factory llm.BackendFactory

	runners     map[plan.Kind]engine.Runner
	advisor     *Advisor
	sink        resultsink.Sink
	ui          ui.Interface
	metrics     *metrics.Collector
	maxAttempts int
	engineOpts  []engine.Option
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewManager wires a compiled plan to its collaborators.
func NewManager(p *plan.Plan, client mcpclient.Client, factory llm.BackendFactory, opts ...Option) *Manager {
	m := &Manager{
		plan:        p,
		client:      client,
		factory:     factory,
		maxAttempts: defaultMaxAttempts,
		logger:      zap.NewNop(),
		tracer:      otel.Tracer("planweave/orchestrator"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.runners == nil {
		m.runners = map[plan.Kind]engine.Runner{
			plan.KindAgent: agent.NewWorker(client, factory,
				agent.WithWorkerLogger(m.logger), agent.WithWorkerUI(m.ui)),
			plan.KindTool: agent.NewToolRunner(client, m.logger),
		}
	}
	if m.advisor == nil {
		m.advisor = NewAdvisor(factory, m.logger)
	}
	m.logger = m.logger.With(zap.String("component", "manager"))
	return m
}

// Run executes the plan once. Global plan inputs are merged wherever the
// caller left a key absent; caller-supplied values always win.
func (m *Manager) Run(ctx context.Context, initial map[string]any) (*RunReport, error) {
	runID := uuid.NewString()
	start := time.Now()

	ctx, span := m.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("plan.name", m.plan.Name),
		))
	defer span.End()

	blackboard := engine.NewContext(nil)
	for k, v := range initial {
		blackboard.Set(k, v)
	}
	blackboard.MergeAbsent(m.plan.GlobalInputs())

	if err := m.validatePersonas(ctx); err != nil {
		return nil, err
	}

	machine := engine.NewStateMachine(m.plan, blackboard, m.runners,
		append([]engine.Option{engine.WithLogger(m.logger)}, m.engineOpts...)...)

	maxAttempts := m.maxAttempts
	if v, ok := contextInt(blackboard.Get("max_attempts", nil)); ok && v > 0 {
		maxAttempts = v
	}

	m.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("plan", m.plan.Name),
		zap.Int("max_attempts", maxAttempts),
	)

	var telemetry []engine.StepTelemetry
	history := make(map[string][]string)
	stepFailures := make(map[string]int)
	attempts := 0
	status := ""
	var runErr error

	for {
		stepName := machine.Current()
		m.notifyStepStart(stepName)

		cycleStart := time.Now()
		tel, finished, err := machine.RunCycle(ctx)
		if err != nil {
			// Infrastructure failure, not a step outcome: the graph or the
			// runner table is broken and no transition was computed.
			status = StatusFailed
			runErr = err
			break
		}
		if finished {
			status = machine.Current()
			break
		}

		telemetry = append(telemetry, *tel)
		m.recordCycle(tel, time.Since(cycleStart))
		m.notifyStepFinish(tel)

		if tel.Outcome != engine.OutcomeFailure {
			continue
		}
		if tel.NextState != plan.StateFailed {
			// The plan routes this failure to an explicit branch; follow it
			// instead of invoking recovery.
			continue
		}

		attempts++
		stepFailures[tel.StepName]++

		limit, count := maxAttempts, attempts
		if step, ok := m.plan.Step(tel.StepName); ok && step.Spec.MaxAttempts > 0 {
			// A step-level budget overrides the run-wide one for failures of
			// that step.
			limit, count = step.Spec.MaxAttempts, stepFailures[tel.StepName]
		}
		if count >= limit {
			status = StatusFailed
			runErr = &FatalError{Reason: fmt.Sprintf("attempt budget of %d exhausted", limit),
				Last: errors.New(tel.Error)}
			break
		}
		if err := m.recover(ctx, machine, tel, history); err != nil {
			status = StatusFailed
			runErr = err
			break
		}
	}

	report := &RunReport{
		RunID:      runID,
		Status:     status,
		FinalState: machine.Current(),
		Steps:      telemetry,
		Attempts:   attempts,
		Duration:   time.Since(start),
	}

	if m.metrics != nil {
		m.metrics.RecordRun(m.plan.Name, status, report.Duration)
	}
	if m.ui != nil {
		m.ui.OnWorkflowComplete(status)
	}
	m.persist(ctx, report)

	span.SetAttributes(attribute.String("run.status", status))
	m.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.String("status", status),
		zap.Int("attempts", attempts),
		zap.Duration("duration", report.Duration),
	)
	if runErr != nil && !errors.Is(runErr, errQuit) {
		return report, runErr
	}
	return report, nil
}

// validatePersonas checks every agent step's prompt against the endpoint's
// persona catalog and caches the accepted argument names for input
// partitioning. Any miss fails the run before a single step executes.
func (m *Manager) validatePersonas(ctx context.Context) error {
	steps := m.plan.AgentSteps()
	if len(steps) == 0 {
		return nil
	}
	prompts, err := m.client.ListPrompts(ctx)
	if err != nil {
		return fmt.Errorf("list personas: %w", err)
	}
	byName := make(map[string]mcpclient.PromptInfo, len(prompts))
	for _, p := range prompts {
		byName[p.Name] = p
	}
	for _, step := range steps {
		if step.Spec.Prompt == "" {
			return &plan.ValidationError{Path: step.Name(), Reason: "agent step names no prompt"}
		}
		info, ok := byName[step.Spec.Prompt]
		if !ok {
			return &plan.ValidationError{
				Path:   step.Name(),
				Reason: fmt.Sprintf("persona %q not offered by endpoint", step.Spec.Prompt),
			}
		}
		step.SetPromptArgs(info.Arguments)
	}
	return nil
}

// recover applies the failure-recovery policy for one failed cycle. In
// interactive deployments the operator picks from a fixed menu first; the
// auto path consults the advisor, except for the first declared step which
// always gets a hard reset.
func (m *Manager) recover(ctx context.Context, machine *engine.StateMachine, tel *engine.StepTelemetry, history map[string][]string) error {
	failed := tel.StepName

	if m.ui != nil {
		decision := m.ui.AskDecision(failed, tel.Error)
		switch decision.Action {
		case ui.ActionQuit:
			return errQuit
		case ui.ActionRetry:
			return m.retryInPlace(machine, failed, tel.Error)
		case ui.ActionAssist:
			reason := tel.Error
			if decision.Hint != "" {
				reason += "\nOperator hint: " + decision.Hint
			}
			return m.retryInPlace(machine, failed, reason)
		}
		// ui.ActionAuto falls through to the advisor path.
	}

	if failed == m.plan.Initial() {
		// Nothing upstream of the first step to rewind into.
		machine.Blackboard().Reset()
		return m.rewind(machine, failed, m.plan.Initial(), tel.Error)
	}

	decision, err := m.advisor.Decide(ctx, m.plan, failed, tel.Error, history[failed])
	if err != nil {
		return err
	}
	history[failed] = append(history[failed], decision.Reason)

	reason := fmt.Sprintf("Previous attempt failed: %s. %s", decision.Reason, decision.TaskDescription)
	return m.rewind(machine, failed, decision.AgentName, reason)
}

// retryInPlace re-runs the failed step without touching the rest of the
// blackboard, so upstream step results stay available to the retried step's
// input templates. Only error_message is refreshed.
func (m *Manager) retryInPlace(machine *engine.StateMachine, failed, reason string) error {
	if err := machine.SetCurrent(failed); err != nil {
		return &FatalError{Reason: "retry target not in graph", Last: err}
	}
	machine.Blackboard().Set(engine.KeyErrorMessage, reason)

	if m.metrics != nil {
		m.metrics.RecordRecovery(failed, failed)
	}
	m.logger.Info("retrying step in place", zap.String("step", failed))
	return nil
}

// rewind erases every step output from the context, moves the machine to the
// target state and seeds error_message so the rewound step's next execution
// is informed about the prior failure.
func (m *Manager) rewind(machine *engine.StateMachine, failed, target, reason string) error {
	machine.Blackboard().Reset()
	if err := machine.SetCurrent(target); err != nil {
		return &FatalError{Reason: "recovery target not in graph", Last: err}
	}
	machine.Blackboard().Set(engine.KeyErrorMessage, reason)

	if m.metrics != nil {
		m.metrics.RecordRecovery(failed, target)
	}
	m.logger.Info("rewound",
		zap.String("failed_step", failed),
		zap.String("target", target),
	)
	return nil
}

// persist saves the run snapshot; absence of a sink skips persistence and
// sink errors only warn.
func (m *Manager) persist(ctx context.Context, report *RunReport) {
	if m.sink == nil {
		return
	}
	snap := &resultsink.Snapshot{
		RunID:      report.RunID,
		PlanName:   m.plan.Name,
		PlanSource: m.plan.Source,
		Status:     report.Status,
		Steps:      report.Steps,
		Metadata: map[string]any{
			"attempts":    report.Attempts,
			"final_state": report.FinalState,
			"duration_ms": report.Duration.Milliseconds(),
		},
		CreatedAt: time.Now(),
	}
	if err := m.sink.Save(ctx, snap); err != nil {
		m.logger.Warn("persist run snapshot", zap.Error(err))
	}
}

func (m *Manager) notifyStepStart(name string) {
	if m.ui == nil {
		return
	}
	if step, ok := m.plan.Step(name); ok && step.Kind() != plan.KindFinal {
		m.ui.OnStepStart(name, step.Description(), step.Spec.Inputs)
	}
}

func (m *Manager) notifyStepFinish(tel *engine.StepTelemetry) {
	if m.ui != nil {
		m.ui.OnStepFinish(tel.StepName, tel.Result, tel.Error, tel.Metadata)
	}
}

func (m *Manager) recordCycle(tel *engine.StepTelemetry, duration time.Duration) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordCycle(tel.StepName, string(tel.Outcome), duration)
	if tel.Metadata == nil {
		return
	}
	prompt, _ := asInt(tel.Metadata["prompt_tokens"])
	completion, _ := asInt(tel.Metadata["completion_tokens"])
	if prompt > 0 || completion > 0 {
		provider, _ := tel.Metadata["provider"].(string)
		m.metrics.RecordTokens(provider, prompt, completion)
	}
	if calls, ok := tel.Metadata["tool_calls"].([]map[string]any); ok {
		for _, call := range calls {
			tool, _ := call["tool"].(string)
			isErr, _ := call["is_error"].(bool)
			m.metrics.RecordToolCall(tool, isErr)
		}
	}
}

// contextInt coerces a context value into an int. The run context is seeded
// from YAML and from CLI --input pairs, so numeric overrides may arrive as
// strings or floats.
func contextInt(v any) (int, bool) {
	if s, ok := v.(string); ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return asInt(v)
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
