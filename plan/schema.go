package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// documentSchema is the structural contract for a plan document. Optional
// fields carry their defaults in the schema for documentation; default
// filling itself happens in compile, after validation.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "inputs": {"type": "object", "default": {}},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "type": {"type": "string", "enum": ["agent", "tool"], "default": "agent"},
          "description": {"type": "string"},
          "prompt": {"type": "string"},
          "tool": {"type": "string"},
          "allow_tools": {"type": "boolean", "default": true},
          "args": {"type": "object"},
          "inputs": {"type": "object"},
          "instruction": {"type": "string"},
          "max_attempts": {"type": "integer", "minimum": 1},
          "transitions": {
            "type": "object",
            "properties": {
              "success": {"type": "string"},
              "failure": {"type": "string"}
            },
            "additionalProperties": true
          }
        },
        "required": ["name"]
      }
    }
  },
  "required": ["name", "steps"]
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchema))
	if err != nil {
		panic(fmt.Sprintf("plan: parse embedded schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("plan.json", doc); err != nil {
		panic(fmt.Sprintf("plan: add embedded schema: %v", err))
	}
	schema, err := compiler.Compile("plan.json")
	if err != nil {
		panic(fmt.Sprintf("plan: compile embedded schema: %v", err))
	}
	return schema
}

// validateSchema checks a decoded document against the embedded JSON schema.
// The document is normalized through a JSON round trip first so YAML-typed
// values (int, map) match what the validator expects.
func validateSchema(raw any) error {
	buf, err := json.Marshal(raw)
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("document is not serializable: %v", err)}
	}
	normalized, err := jsonschema.UnmarshalJSON(bytes.NewReader(buf))
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("document is not valid JSON: %v", err)}
	}
	if err := compiledSchema.Validate(normalized); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			leaf := leafCause(ve)
			return &ValidationError{
				Path:   strings.Join(leaf.InstanceLocation, "/"),
				Reason: leaf.Error(),
			}
		}
		return &ValidationError{Reason: err.Error()}
	}
	return nil
}

// leafCause walks to the most specific cause of a validation failure.
func leafCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}
