package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestContext_GetSetRequire(t *testing.T) {
	c := NewContext(map[string]any{"project": "demo"})

	assert.Equal(t, "demo", c.Get("project", nil))
	assert.Equal(t, "fallback", c.Get("absent", "fallback"))
	assert.True(t, c.Has("project"))
	assert.False(t, c.Has("absent"))

	v, err := c.Require("project")
	require.NoError(t, err)
	assert.Equal(t, "demo", v)

	_, err = c.Require("absent")
	var missing *MissingInputError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "absent", missing.Key)
}

func TestContext_Reset(t *testing.T) {
	c := NewContext(map[string]any{
		"project":          "demo",
		"result":           "raw",
		"error_message":    "boom",
		"gather_result":    "stuff",
		"build_result":     map[string]any{"ok": true},
		"_previous_result": "stuff",
		"notes":            "kept",
	})

	c.Reset()

	// Only the transient outputs disappear: result, error_message and every
	// *_result key. Globals and arbitrary keys survive.
	assert.False(t, c.Has("result"))
	assert.False(t, c.Has("error_message"))
	assert.False(t, c.Has("gather_result"))
	assert.False(t, c.Has("build_result"))
	assert.False(t, c.Has("_previous_result"))
	assert.Equal(t, "demo", c.Get("project", nil))
	assert.Equal(t, "kept", c.Get("notes", nil))
}

func TestContext_MergeStepInputsOverrides(t *testing.T) {
	c := NewContext(map[string]any{"a": 1, "b": 2})
	c.MergeStepInputs(map[string]any{"b": 20, "c": 30})

	assert.Equal(t, 1, c.Get("a", nil))
	assert.Equal(t, 20, c.Get("b", nil))
	assert.Equal(t, 30, c.Get("c", nil))
}

func TestContext_MergeAbsentNeverOverrides(t *testing.T) {
	c := NewContext(map[string]any{"project": "caller"})
	c.MergeAbsent(map[string]any{"project": "plan", "region": "eu"})

	assert.Equal(t, "caller", c.Get("project", nil))
	assert.Equal(t, "eu", c.Get("region", nil))
}

func TestContext_CloneIsIndependent(t *testing.T) {
	c := NewContext(map[string]any{"a": 1})
	clone := c.Clone()
	clone.Set("a", 2)
	clone.Set("b", 3)

	assert.Equal(t, 1, c.Get("a", nil))
	assert.False(t, c.Has("b"))
}

// Reset followed by re-merging the global inputs reproduces the original
// global key set, whatever transient keys accumulated in between.
func TestContext_ResetRestoresGlobals(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		globals := rapid.MapOf(
			rapid.StringMatching(`[a-z]{1,8}`),
			rapid.Int(),
		).Draw(t, "globals")

		// Globals must not collide with the reserved transient names for
		// the round trip to be observable.
		delete(globals, "result")
		delete(globals, "error_message")
		for k := range globals {
			if len(k) > 7 && k[len(k)-7:] == "_result" {
				delete(globals, k)
			}
		}

		asAny := make(map[string]any, len(globals))
		for k, v := range globals {
			asAny[k] = v
		}
		c := NewContext(asAny)

		steps := rapid.IntRange(0, 5).Draw(t, "transients")
		for i := 0; i < steps; i++ {
			c.Set(fmt.Sprintf("step%d_result", i), i)
		}
		c.Set("result", "raw")
		c.Set("error_message", "boom")

		c.Reset()
		c.MergeAbsent(asAny)

		if c.Len() != len(globals) {
			t.Fatalf("want %d keys after reset, got %v", len(globals), c.Keys())
		}
		for k, v := range globals {
			if c.Get(k, nil) != v {
				t.Fatalf("global %q changed", k)
			}
		}
	})
}
