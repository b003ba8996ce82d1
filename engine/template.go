package engine

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// TemplateResolver renders step input values against the current blackboard
// before a step executes. Implementations must be deterministic for a given
// context snapshot.
type TemplateResolver interface {
	// Resolve renders every string value in values as a template against the
	// context. Non-string values pass through untouched.
	Resolve(values map[string]any, c *Context) (map[string]any, error)
}

// TextResolver resolves templates with text/template. Context keys are
// addressed as {{.key}}; a reference to an absent key is an error rather
// than a silent "<no value>".
type TextResolver struct{}

// NewTextResolver returns the default resolver.
func NewTextResolver() *TextResolver { return &TextResolver{} }

func (r *TextResolver) Resolve(values map[string]any, c *Context) (map[string]any, error) {
	if len(values) == 0 {
		return map[string]any{}, nil
	}
	data := c.Snapshot()
	out := make(map[string]any, len(values))
	for k, v := range values {
		rendered, err := r.resolveValue(k, v, data)
		if err != nil {
			return nil, err
		}
		out[k] = rendered
	}
	return out, nil
}

func (r *TextResolver) resolveValue(name string, v any, data map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		if !strings.Contains(val, "{{") {
			return val, nil
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(val)
		if err != nil {
			return nil, fmt.Errorf("parse input template %q: %w", name, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("resolve input template %q: %w", name, err)
		}
		return buf.String(), nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			rendered, err := r.resolveValue(name+"."+k, inner, data)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			rendered, err := r.resolveValue(fmt.Sprintf("%s[%d]", name, i), inner, data)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}
