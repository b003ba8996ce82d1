package mcpclient

import (
	"encoding/json"
	"strings"
)

// ToolResult is the normalized, client-side view of one tool execution.
type ToolResult struct {
	// Content is the human-readable text, used for the UI and for feeding
	// the model.
	Content string
	// Data is the structured form when the content decodes to an object.
	Data map[string]any
	// IsError is the normalized success/failure flag.
	IsError bool
	// ErrorMessage carries the full content when IsError is set.
	ErrorMessage string
}

// failureMarkers are the textual fallback signals checked only when no
// structured signal decided the outcome.
var failureMarkers = []string{"❌", "STATUS: FAILURE", "CRITICAL ERROR"}

// Normalize classifies a raw tool response. Structured signals take
// priority: an explicit protocol error flag, then conventional exit-code
// and status fields inside parsed content. Text heuristics are a last
// resort for tools that only render human-readable output.
func Normalize(content string, structured any, protocolError bool) *ToolResult {
	result := &ToolResult{Content: content}

	if data, ok := structured.(map[string]any); ok {
		result.Data = data
	} else {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(content), &parsed); err == nil {
			result.Data = parsed
		}
	}

	switch {
	case protocolError:
		result.IsError = true
	case result.Data != nil:
		failed, signaled := structuredFailure(result.Data)
		result.IsError = failed
		if !signaled {
			// No recognized structured signal: text heuristics decide.
			result.IsError = textFailure(content)
		}
	default:
		result.IsError = textFailure(content)
	}

	if result.IsError {
		result.ErrorMessage = content
	}
	return result
}

// structuredFailure inspects the conventional signal fields. signaled
// reports whether any recognized field was present at all; only an
// unsignaled result falls through to text heuristics.
func structuredFailure(data map[string]any) (failed, signaled bool) {
	if code, ok := numberField(data, "returncode"); ok {
		signaled = true
		if code != 0 {
			return true, true
		}
	}
	if code, ok := numberField(data, "exit_code"); ok {
		signaled = true
		if code != 0 {
			return true, true
		}
	}
	if status, ok := data["status"].(string); ok {
		signaled = true
		switch strings.ToLower(status) {
		case "error", "failure", "failed":
			return true, true
		}
	}
	if isErr, ok := data["is_error"].(bool); ok {
		signaled = true
		if isErr {
			return true, true
		}
	}
	return false, signaled
}

func textFailure(content string) bool {
	for _, marker := range failureMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

func numberField(data map[string]any, key string) (float64, bool) {
	switch v := data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
