// Package plan loads declarative workflow plans and compiles them into the
// directed state graph executed by the engine. A plan is an ordered list of
// named steps; compilation injects linear default transitions, adds the two
// reserved terminal states, and marks the first declared step initial.
package plan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Kind is the closed set of step kinds. Execution strategy is resolved by
// kind through a lookup table, never by reflection.
type Kind string

const (
	// KindAgent delegates the step to an LLM persona with tool access.
	KindAgent Kind = "agent"
	// KindTool invokes a single named tool directly, no LLM involved.
	KindTool Kind = "tool"
	// KindFinal marks a terminal state; the engine never executes it.
	KindFinal Kind = "final"
)

// Reserved terminal state names. They are always present in a compiled graph
// and may not be redeclared as user steps.
const (
	StateSuccess = "success"
	StateFailed  = "failed"
)

// Transitions names the next state for each outcome of a step.
type Transitions struct {
	Success string `yaml:"success,omitempty" json:"success,omitempty"`
	Failure string `yaml:"failure,omitempty" json:"failure,omitempty"`
}

// StepSpec is one entry of the declarative step list.
type StepSpec struct {
	Name        string         `yaml:"name" json:"name"`
	Type        Kind           `yaml:"type,omitempty" json:"type,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Prompt      string         `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Tool        string         `yaml:"tool,omitempty" json:"tool,omitempty"`
	AllowTools  *bool          `yaml:"allow_tools,omitempty" json:"allow_tools,omitempty"`
	Args        map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
	Inputs      map[string]any `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Instruction string         `yaml:"instruction,omitempty" json:"instruction,omitempty"`
	MaxAttempts int            `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	Transitions *Transitions   `yaml:"transitions,omitempty" json:"transitions,omitempty"`
}

// Document is the raw plan document as authored in YAML or JSON.
type Document struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Inputs      map[string]any `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Steps       []StepSpec     `yaml:"steps" json:"steps"`
}

// Step is one node of the compiled state graph.
type Step struct {
	Spec    StepSpec
	Initial bool

	// promptArgs is the set of argument names the step's persona accepts.
	// It is synced by the orchestrator after persona validation; nil means
	// the schema is unknown and partitioning falls back to pass-through.
	promptArgs map[string]struct{}
}

func (s *Step) Name() string { return s.Spec.Name }

func (s *Step) Kind() Kind {
	if s.Spec.Type == "" {
		return KindAgent
	}
	return s.Spec.Type
}

// Description returns the authored description, or a generated one so
// recovery prompts always have something to enumerate.
func (s *Step) Description() string {
	if s.Spec.Description != "" {
		return s.Spec.Description
	}
	return fmt.Sprintf("Action: %s", s.Spec.Name)
}

func (s *Step) AllowTools() bool {
	if s.Spec.AllowTools == nil {
		return true
	}
	return *s.Spec.AllowTools
}

// SetPromptArgs records which argument names the step's persona accepts.
func (s *Step) SetPromptArgs(names []string) {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	s.promptArgs = set
}

// partitionIgnored are context keys never forwarded to a persona, neither as
// arguments nor as background.
var partitionIgnored = map[string]struct{}{
	"result":        {},
	"error_message": {},
	"max_attempts":  {},
}

// PartitionInputs splits a context snapshot into direct persona arguments and
// supplemental background. Without a synced schema everything is treated as
// an argument, matching the pre-validation fallback.
func (s *Step) PartitionInputs(full map[string]any) (args map[string]any, background map[string]any) {
	if s.promptArgs == nil {
		return full, map[string]any{}
	}
	args = make(map[string]any)
	background = make(map[string]any)
	for k, v := range full {
		if _, ok := s.promptArgs[k]; ok {
			args[k] = v
			continue
		}
		if _, ok := partitionIgnored[k]; !ok {
			background[k] = v
		}
	}
	return args, background
}

// Plan is a validated, compiled workflow. It is immutable for the duration
// of a run; only persona argument schemas are synced in after validation.
type Plan struct {
	Source      string
	Name        string
	Description string

	globalInputs map[string]any
	states       map[string]*Step
	order        []string
}

// Load reads, validates and compiles a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return FromBytes(data, path)
}

// FromBytes validates and compiles a raw YAML or JSON plan document.
// Compilation is deterministic: the same bytes always yield the same graph.
func FromBytes(data []byte, source string) (*Plan, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("parse document: %v", err)}
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("decode document: %v", err)}
	}
	return FromDocument(&doc, source)
}

// FromDocument compiles an already-decoded document. Callers constructing
// plans programmatically should still expect full validation.
func FromDocument(doc *Document, source string) (*Plan, error) {
	if source == "" {
		source = "memory"
	}
	states, order, err := compile(doc.Steps)
	if err != nil {
		return nil, err
	}
	// Transition targets are checked after default injection so steps that
	// rely on injected defaults are not falsely rejected.
	if err := validateTransitions(states, order); err != nil {
		return nil, err
	}

	inputs := doc.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	return &Plan{
		Source:       source,
		Name:         doc.Name,
		Description:  doc.Description,
		globalInputs: inputs,
		states:       states,
		order:        order,
	}, nil
}

// GlobalInputs returns a copy of the plan-level inputs.
func (p *Plan) GlobalInputs() map[string]any {
	out := make(map[string]any, len(p.globalInputs))
	for k, v := range p.globalInputs {
		out[k] = v
	}
	return out
}

// States returns the compiled graph, terminals included.
func (p *Plan) States() map[string]*Step { return p.states }

// Step looks up a state by name.
func (p *Plan) Step(name string) (*Step, bool) {
	s, ok := p.states[name]
	return s, ok
}

// Order returns the user step names in declaration order.
func (p *Plan) Order() []string { return p.order }

// Initial returns the name of the step flagged initial.
func (p *Plan) Initial() string {
	for _, name := range p.order {
		if p.states[name].Initial {
			return name
		}
	}
	if len(p.order) > 0 {
		return p.order[0]
	}
	return StateFailed
}

// IndexOf returns the declaration index of a step, or -1.
func (p *Plan) IndexOf(name string) int {
	for i, n := range p.order {
		if n == name {
			return i
		}
	}
	return -1
}

// StepsThrough returns the steps from the first declared through the named
// one, inclusive, in declaration order.
func (p *Plan) StepsThrough(name string) []*Step {
	var out []*Step
	for _, n := range p.order {
		out = append(out, p.states[n])
		if n == name {
			break
		}
	}
	return out
}

// AgentSteps returns the agent-kind steps in declaration order.
func (p *Plan) AgentSteps() []*Step {
	var out []*Step
	for _, n := range p.order {
		if s := p.states[n]; s.Kind() == KindAgent {
			out = append(out, s)
		}
	}
	return out
}
