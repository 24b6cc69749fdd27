// Package schema describes JSON Schema documents used for tool input
// schemas and typed-output response schemas, and validates values against
// them using github.com/santhosh-tekuri/jsonschema/v6.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const URL = "http://json-schema.org/draft-07/schema#"

type Type string

const (
	String Type = "string"
	Number Type = "number"
	Bool   Type = "boolean"
	Array  Type = "array"
	Object Type = "object"
)

// JSON is a way to describe a JSON Schema document as a Go value, mirroring
// the subset of the draft used across providers' tool/response-format APIs.
type JSON struct {
	Type                 interface{}      `json:"type,omitzero"` // Type or []interface{} for union types like ["string", "null"]
	Description          string           `json:"description,omitzero"`
	Properties           map[string]*JSON `json:"properties,omitzero"`
	Items                *JSON            `json:"items,omitzero"`
	Enum                 []string         `json:"enum,omitzero"`
	Required             []string         `json:"required,omitzero"`
	AdditionalProperties *bool            `json:"additionalProperties,omitzero"`
	Schema               string           `json:"$schema,omitzero"`
	OneOf                []*JSON          `json:"oneOf,omitzero"`
	AnyOf                []*JSON          `json:"anyOf,omitzero"`
	AllOf                []*JSON          `json:"allOf,omitzero"`
}

// AsMap renders the schema as a plain map, the representation used by
// part.ToolDef.InputSchema and by adapters that hand the schema to a
// provider SDK verbatim.
func (j *JSON) AsMap() (map[string]any, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("schema: unmarshal to map: %w", err)
	}
	return m, nil
}

// Compiled wraps a compiled jsonschema.Schema for repeated validation.
type Compiled struct {
	schema *jsonschema.Schema
}

// Compile parses and compiles a schema document (as produced by AsMap or
// supplied directly by a caller) so it can be used to validate values
// repeatedly without re-parsing.
func Compile(doc map[string]any) (*Compiled, error) {
	if doc == nil {
		return nil, fmt.Errorf("schema: nil document")
	}
	c := jsonschema.NewCompiler()
	const resourceURL = "mem://agentrt/schema.json"
	if err := c.AddResource(resourceURL, doc); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}
	compiled, err := c.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}
	return &Compiled{schema: compiled}, nil
}

// Validate checks value (typically the result of json.Unmarshal into
// map[string]any/[]any/string/float64/bool/nil) against the compiled schema.
func (c *Compiled) Validate(value any) error {
	if c == nil || c.schema == nil {
		return nil
	}
	if err := c.schema.Validate(value); err != nil {
		return fmt.Errorf("schema: validation failed: %w", err)
	}
	return nil
}

// ValidateJSON decodes raw JSON text and validates it against the compiled schema.
func (c *Compiled) ValidateJSON(raw string) error {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return fmt.Errorf("schema: invalid JSON: %w", err)
	}
	return c.Validate(v)
}
