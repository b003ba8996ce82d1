package plan

import (
	"fmt"
	"reflect"
	"testing"

	"pgregory.net/rapid"
)

// genDocument produces arbitrary valid plan documents: unique step names,
// optional explicit transitions targeting declared steps or terminals.
func genDocument(t *rapid.T) *Document {
	n := rapid.IntRange(1, 8).Draw(t, "steps")
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("step%d", i)
	}
	targets := append(append([]string{}, names...), StateSuccess, StateFailed)

	doc := &Document{Name: "generated"}
	for i, name := range names {
		spec := StepSpec{Name: name}
		if rapid.Bool().Draw(t, fmt.Sprintf("explicit%d", i)) {
			spec.Transitions = &Transitions{
				Success: rapid.SampledFrom(targets).Draw(t, fmt.Sprintf("succ%d", i)),
				Failure: rapid.SampledFrom(targets).Draw(t, fmt.Sprintf("fail%d", i)),
			}
		}
		doc.Steps = append(doc.Steps, spec)
	}
	return doc
}

// Compiling the same document twice must produce identical graphs.
func TestCompile_Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		doc := genDocument(t)

		first, err := FromDocument(doc, "mem")
		if err != nil {
			t.Fatalf("compile: %v", err)
		}
		second, err := FromDocument(doc, "mem")
		if err != nil {
			t.Fatalf("recompile: %v", err)
		}

		if !reflect.DeepEqual(first.Order(), second.Order()) {
			t.Fatalf("order differs: %v vs %v", first.Order(), second.Order())
		}
		for name, step := range first.States() {
			other, ok := second.Step(name)
			if !ok {
				t.Fatalf("state %q missing on recompile", name)
			}
			if !reflect.DeepEqual(step.Spec, other.Spec) {
				t.Fatalf("state %q differs: %+v vs %+v", name, step.Spec, other.Spec)
			}
		}
	})
}

// Every compiled graph has fully-resolved transitions and exactly one
// initial step: the first declared.
func TestCompile_GraphInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		doc := genDocument(t)

		p, err := FromDocument(doc, "mem")
		if err != nil {
			t.Fatalf("compile: %v", err)
		}

		if p.Initial() != doc.Steps[0].Name {
			t.Fatalf("initial is %q, want first declared %q", p.Initial(), doc.Steps[0].Name)
		}

		initials := 0
		for _, name := range p.Order() {
			step, _ := p.Step(name)
			if step.Initial {
				initials++
			}
			tr := step.Spec.Transitions
			if tr == nil {
				t.Fatalf("step %q has no transitions after compile", name)
			}
			for _, target := range []string{tr.Success, tr.Failure} {
				if target == "" {
					continue
				}
				if _, ok := p.Step(target); !ok {
					t.Fatalf("step %q transitions to unknown state %q", name, target)
				}
			}
		}
		if initials != 1 {
			t.Fatalf("want exactly one initial step, got %d", initials)
		}
	})
}
