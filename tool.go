package taskcore

import (
	"context"
	"regexp"

	"github.com/m-mizutani/goerr/v2"
)

// ToolSpec describes a tool to the oracle and to the ToolRunner.
type ToolSpec struct {
	// Name must be unique across all tools registered to a runner.
	Name        string
	Description string

	// Parameters and Required describe the input object. They are ignored when InputSchema is set.
	Parameters map[string]*Parameter
	Required   []string

	// InputSchema is a raw JSON Schema for the input object. Tools imported from other systems
	// (e.g. MCP servers) provide their schema this way.
	InputSchema map[string]any
}

// Validate validates the tool specification.
func (s *ToolSpec) Validate() error {
	eb := goerr.NewBuilder(goerr.V("tool", s.Name))
	if s.Name == "" {
		return eb.Wrap(ErrInvalidTool, "name is required")
	}
	if s.InputSchema != nil {
		return nil
	}

	for name, param := range s.Parameters {
		if err := param.Validate(); err != nil {
			return eb.Wrap(err, "invalid parameter", goerr.V("parameter", name))
		}
	}
	for _, req := range s.Required {
		if _, ok := s.Parameters[req]; !ok {
			return eb.Wrap(ErrInvalidTool, "required parameter is not defined", goerr.V("parameter", req))
		}
	}

	return nil
}

// JSONSchema returns the JSON Schema of the tool's input object.
func (s *ToolSpec) JSONSchema() map[string]any {
	if s.InputSchema != nil {
		return s.InputSchema
	}

	props := make(map[string]any, len(s.Parameters))
	for name, p := range s.Parameters {
		props[name] = p.JSONSchema()
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		schema["required"] = toAnySlice(s.Required)
	}
	return schema
}

// ParameterType is the JSON type of a parameter.
type ParameterType string

const (
	TypeString  ParameterType = "string"
	TypeNumber  ParameterType = "number"
	TypeInteger ParameterType = "integer"
	TypeBoolean ParameterType = "boolean"
	TypeArray   ParameterType = "array"
	TypeObject  ParameterType = "object"
)

// Parameter is the specification of one input value of a tool.
type Parameter struct {
	Title       string
	Type        ParameterType
	Description string

	// Required lists required field names when Type is TypeObject.
	Required   []string
	Enum       []string
	Properties map[string]*Parameter
	Items      *Parameter

	Minimum *float64
	Maximum *float64

	MinLength *int
	MaxLength *int
	Pattern   string

	MinItems *int
	MaxItems *int

	Default any
}

// Validate validates the parameter.
func (p *Parameter) Validate() error {
	eb := goerr.NewBuilder(goerr.V("type", p.Type))

	switch p.Type {
	case "":
		return eb.Wrap(ErrInvalidParameter, "type is required")

	case TypeObject:
		if p.Properties == nil {
			return eb.Wrap(ErrInvalidParameter, "properties is required for object type")
		}
		for name, prop := range p.Properties {
			if err := prop.Validate(); err != nil {
				return eb.Wrap(err, "invalid property", goerr.V("property", name))
			}
		}
		for _, req := range p.Required {
			if _, ok := p.Properties[req]; !ok {
				return eb.Wrap(ErrInvalidParameter, "required field not found in properties", goerr.V("field", req))
			}
		}

	case TypeArray:
		if p.Items == nil {
			return eb.Wrap(ErrInvalidParameter, "items is required for array type")
		}
		if err := p.Items.Validate(); err != nil {
			return eb.Wrap(err, "invalid items")
		}
		if p.MinItems != nil && p.MaxItems != nil && *p.MinItems > *p.MaxItems {
			return eb.Wrap(ErrInvalidParameter, "minItems must be less than or equal to maxItems")
		}

	case TypeNumber, TypeInteger:
		if p.Minimum != nil && p.Maximum != nil && *p.Minimum > *p.Maximum {
			return eb.Wrap(ErrInvalidParameter, "minimum must be less than or equal to maximum")
		}

	case TypeString:
		if p.MinLength != nil && p.MaxLength != nil && *p.MinLength > *p.MaxLength {
			return eb.Wrap(ErrInvalidParameter, "minLength must be less than or equal to maxLength")
		}
		if p.Pattern != "" {
			if _, err := regexp.Compile(p.Pattern); err != nil {
				return eb.Wrap(ErrInvalidParameter, "invalid pattern", goerr.V("pattern", p.Pattern))
			}
		}

	case TypeBoolean:

	default:
		return eb.Wrap(ErrInvalidParameter, "unknown type")
	}

	return nil
}

// JSONSchema converts the parameter into a JSON Schema fragment.
func (p *Parameter) JSONSchema() map[string]any {
	s := map[string]any{"type": string(p.Type)}
	if p.Title != "" {
		s["title"] = p.Title
	}
	if p.Description != "" {
		s["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		s["enum"] = toAnySlice(p.Enum)
	}
	if p.Properties != nil {
		props := make(map[string]any, len(p.Properties))
		for name, prop := range p.Properties {
			props[name] = prop.JSONSchema()
		}
		s["properties"] = props
	}
	if len(p.Required) > 0 {
		s["required"] = toAnySlice(p.Required)
	}
	if p.Items != nil {
		s["items"] = p.Items.JSONSchema()
	}
	if p.Minimum != nil {
		s["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		s["maximum"] = *p.Maximum
	}
	if p.MinLength != nil {
		s["minLength"] = *p.MinLength
	}
	if p.MaxLength != nil {
		s["maxLength"] = *p.MaxLength
	}
	if p.Pattern != "" {
		s["pattern"] = p.Pattern
	}
	if p.MinItems != nil {
		s["minItems"] = *p.MinItems
	}
	if p.MaxItems != nil {
		s["maxItems"] = *p.MaxItems
	}
	if p.Default != nil {
		s["default"] = p.Default
	}
	return s
}

func toAnySlice(v []string) []any {
	out := make([]any, len(v))
	for i := range v {
		out[i] = v[i]
	}
	return out
}

// Tool is a pluggable action the oracle can choose. Run returns a result object that should contain a
// boolean "success" field; a missing field is treated as failure.
type Tool interface {
	Spec() *ToolSpec
	Run(ctx context.Context, args map[string]any) (map[string]any, error)
}

// ToolSet is a group of tools served by one backend, such as an MCP server.
type ToolSet interface {
	Specs(ctx context.Context) ([]*ToolSpec, error)
	Run(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}
