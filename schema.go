package taskcore

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is a JSON Schema document compiled on first use. It is used both to instruct the oracle
// about the expected output shape and to validate what comes back.
type Schema struct {
	name string
	doc  map[string]any

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// NewSchema creates a Schema from a decoded JSON Schema document.
func NewSchema(name string, doc map[string]any) *Schema {
	return &Schema{name: name, doc: doc}
}

func (x *Schema) Name() string { return x.name }

// Document returns the raw JSON Schema document.
func (x *Schema) Document() map[string]any { return x.doc }

// String returns the document as indented JSON, suitable for embedding in a prompt.
func (x *Schema) String() string {
	raw, err := json.MarshalIndent(x.doc, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// Compile compiles the schema document. The result is cached.
func (x *Schema) Compile() error {
	x.once.Do(func() {
		x.compiled, x.err = compileSchema(x.name, x.doc)
	})
	return x.err
}

// Validate checks that data is a JSON document conforming to the schema.
func (x *Schema) Validate(data []byte) error {
	if err := x.Compile(); err != nil {
		return err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return goerr.Wrap(err, "document is not valid JSON", goerr.V("schema", x.name))
	}
	if err := x.compiled.Validate(inst); err != nil {
		return goerr.Wrap(err, "document does not match schema", goerr.V("schema", x.name))
	}
	return nil
}

// ValidateValue validates an already decoded value by encoding it first.
func (x *Schema) ValidateValue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return goerr.Wrap(err, "failed to encode value", goerr.V("schema", x.name))
	}
	return x.Validate(data)
}

func compileSchema(name string, doc map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, goerr.Wrap(ErrInvalidSchema, "failed to encode schema", goerr.V("schema", name), goerr.V("cause", err.Error()))
	}
	loaded, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, goerr.Wrap(ErrInvalidSchema, "failed to decode schema", goerr.V("schema", name), goerr.V("cause", err.Error()))
	}

	url := "mem://taskcore/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, loaded); err != nil {
		return nil, goerr.Wrap(ErrInvalidSchema, "failed to add schema resource", goerr.V("schema", name), goerr.V("cause", err.Error()))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, goerr.Wrap(ErrInvalidSchema, "failed to compile schema", goerr.V("schema", name), goerr.V("cause", err.Error()))
	}
	return compiled, nil
}

var stepProperties = map[string]any{
	"position":            map[string]any{"type": "integer", "minimum": 1},
	"description":         map[string]any{"type": "string", "minLength": 1},
	"acceptance_criteria": map[string]any{"type": "string"},
	"dependencies": map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "integer"},
	},
	"chosen_tool": map[string]any{"type": "string"},
	"tool_input":  map[string]any{"type": "object"},
}

// PlanSchema is the shape the oracle must return from plan generation.
var PlanSchema = NewSchema("plan", map[string]any{
	"type":     "object",
	"required": []any{"items"},
	"properties": map[string]any{
		"items": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type":       "object",
				"required":   []any{"position", "description", "acceptance_criteria"},
				"properties": stepProperties,
			},
		},
		"open_questions": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string", "minLength": 1},
		},
		"notes": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
})

// ThoughtSchema is the shape of one reasoning step.
var ThoughtSchema = NewSchema("thought", map[string]any{
	"type":     "object",
	"required": []any{"step_ref", "rationale", "action", "confidence"},
	"properties": map[string]any{
		"step_ref":         map[string]any{"type": "integer"},
		"rationale":        map[string]any{"type": "string"},
		"expected_outcome": map[string]any{"type": "string"},
		"confidence":       map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		"action": map[string]any{
			"type":     "object",
			"required": []any{"type"},
			"properties": map[string]any{
				"type": map[string]any{
					"type": "string",
					"enum": []any{string(ActionTypeToolCall), string(ActionTypeAskUser), string(ActionTypeComplete), string(ActionTypeReplan)},
				},
				"tool":       map[string]any{"type": "string"},
				"input":      map[string]any{"type": "object"},
				"question":   map[string]any{"type": "string"},
				"answer_key": map[string]any{"type": "string"},
				"summary":    map[string]any{"type": "string"},
			},
		},
	},
})

// StrategySchema is the shape of a recovery strategy proposed for a failed task.
var StrategySchema = NewSchema("strategy", map[string]any{
	"type":     "object",
	"required": []any{"type", "rationale", "confidence"},
	"properties": map[string]any{
		"type": map[string]any{
			"type": "string",
			"enum": []any{string(StrategyRetryWithParams), string(StrategySwapTool), string(StrategyDecompose)},
		},
		"rationale":  map[string]any{"type": "string"},
		"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		"modifications": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"chosen_tool": map[string]any{"type": "string"},
				"tool_input":  map[string]any{"type": "object"},
				"steps": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":       "object",
						"required":   []any{"description", "acceptance_criteria"},
						"properties": stepProperties,
					},
				},
			},
		},
	},
})
