package plan

import (
	"fmt"
	"sort"
	"strings"
)

// compile turns the declarative step list into a state graph. For each step
// lacking transitions it injects the linear default: success goes to the
// next declared step (or the success terminal), failure to the failed
// terminal. The first declared step is flagged initial.
func compile(specs []StepSpec) (map[string]*Step, []string, error) {
	states := map[string]*Step{
		StateSuccess: {Spec: StepSpec{Name: StateSuccess, Type: KindFinal}},
		StateFailed:  {Spec: StepSpec{Name: StateFailed, Type: KindFinal}},
	}

	order := make([]string, 0, len(specs))
	for i, spec := range specs {
		path := fmt.Sprintf("steps/%d/name", i)
		if spec.Name == StateSuccess || spec.Name == StateFailed {
			return nil, nil, &ValidationError{
				Path:   path,
				Reason: fmt.Sprintf("%q is a reserved terminal state", spec.Name),
			}
		}
		if _, dup := states[spec.Name]; dup {
			return nil, nil, &ValidationError{
				Path:   path,
				Reason: fmt.Sprintf("duplicate step name %q", spec.Name),
			}
		}

		if spec.Type == "" {
			spec.Type = KindAgent
		}
		if spec.Inputs == nil {
			spec.Inputs = map[string]any{}
		}
		if spec.Transitions == nil {
			next := StateSuccess
			if i+1 < len(specs) {
				next = specs[i+1].Name
			}
			spec.Transitions = &Transitions{Success: next, Failure: StateFailed}
		}

		states[spec.Name] = &Step{Spec: spec, Initial: i == 0}
		order = append(order, spec.Name)
	}

	return states, order, nil
}

// validateTransitions confirms every transition target resolves to a declared
// step or a terminal. It runs on the compiled graph, after default injection.
func validateTransitions(states map[string]*Step, order []string) error {
	valid := make([]string, 0, len(order)+2)
	valid = append(valid, order...)
	valid = append(valid, StateSuccess, StateFailed)
	sort.Strings(valid)

	targets := make(map[string]struct{}, len(valid))
	for _, name := range valid {
		targets[name] = struct{}{}
	}

	check := func(i int, outcome, target string) error {
		if target == "" {
			return nil
		}
		if _, ok := targets[target]; !ok {
			return &ValidationError{
				Path: fmt.Sprintf("steps/%d/transitions/%s", i, outcome),
				Reason: fmt.Sprintf("target %q is not a declared step; valid targets: %s",
					target, strings.Join(valid, ", ")),
			}
		}
		return nil
	}

	for i, name := range order {
		tr := states[name].Spec.Transitions
		if tr == nil {
			continue
		}
		if err := check(i, "success", tr.Success); err != nil {
			return err
		}
		if err := check(i, "failure", tr.Failure); err != nil {
			return err
		}
	}
	return nil
}
