// Package engine holds the run-time core of a workflow: the blackboard
// context shared by all steps, the template resolver for step inputs, and
// the state machine that executes one step per cycle.
package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Reserved context keys written by the state machine each cycle.
const (
	KeyResult         = "result"
	KeyErrorMessage   = "error_message"
	KeyPreviousResult = "_previous_result"

	// resultSuffix marks per-step output keys ("<step>_result").
	resultSuffix = "_result"
)

// MissingInputError reports a required context key that is absent.
type MissingInputError struct {
	Key string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("required context key %q is missing", e.Key)
}

// Context is the mutable blackboard threaded through a run. It is owned
// exclusively by the orchestrator for the run's lifetime and carries no
// locking: steps execute strictly sequentially and never share it across
// goroutines.
type Context struct {
	data map[string]any
}

// NewContext creates a blackboard seeded with the given values.
func NewContext(initial map[string]any) *Context {
	data := make(map[string]any, len(initial))
	for k, v := range initial {
		data[k] = v
	}
	return &Context{data: data}
}

// Get returns the value for key, or def when absent.
func (c *Context) Get(key string, def any) any {
	if v, ok := c.data[key]; ok {
		return v
	}
	return def
}

// GetString returns the value for key rendered as a string, or "" when absent.
func (c *Context) GetString(key string) string {
	v, ok := c.data[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Set stores a value.
func (c *Context) Set(key string, value any) { c.data[key] = value }

// Has reports whether key is present.
func (c *Context) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Delete removes a key.
func (c *Context) Delete(key string) { delete(c.data, key) }

// Require returns the value for key or a MissingInputError.
func (c *Context) Require(key string) (any, error) {
	v, ok := c.data[key]
	if !ok {
		return nil, &MissingInputError{Key: key}
	}
	return v, nil
}

// MergeStepInputs overlays step-scoped values onto the blackboard. Step
// values win on key conflict; everything else is preserved.
func (c *Context) MergeStepInputs(values map[string]any) {
	for k, v := range values {
		c.data[k] = v
	}
}

// MergeAbsent copies values in only where the key is not already present.
// Used for plan global inputs, which never override caller-supplied values.
func (c *Context) MergeAbsent(values map[string]any) {
	for k, v := range values {
		if _, ok := c.data[k]; !ok {
			c.data[k] = v
		}
	}
}

// Reset clears the transient step outputs: "result", "error_message" and
// every "*_result" key (the per-step outputs and the previous-result
// carrier). Global inputs and all other keys are preserved.
func (c *Context) Reset() {
	delete(c.data, KeyResult)
	delete(c.data, KeyErrorMessage)
	for k := range c.data {
		if strings.HasSuffix(k, resultSuffix) {
			delete(c.data, k)
		}
	}
}

// Keys returns the present keys in sorted order.
func (c *Context) Keys() []string {
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a shallow copy of the blackboard data.
func (c *Context) Snapshot() map[string]any {
	out := make(map[string]any, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// Clone returns an independent shallow copy of the context, used to build
// the execution scope for a single cycle.
func (c *Context) Clone() *Context {
	return NewContext(c.data)
}

// Len returns the number of keys present.
func (c *Context) Len() int { return len(c.data) }
