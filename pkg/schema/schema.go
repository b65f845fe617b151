// Package schema compiles MCP tool input schemas and converts them to
// the parameter descriptor form used by agent tooling surfaces.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Parameter describes one tool parameter extracted from an input schema.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// Compile compiles an MCP inputSchema document under a synthetic URL
// derived from the tool name.
func Compile(tool string, document map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("schema: serialize %q: %w", tool, err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://warden.schemas.local/tools/%s.schema.json", tool)
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema: load %q: %w", tool, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema: compile %q: %w", tool, err)
	}
	return compiled, nil
}

// ValidateParams checks params against the tool's compiled schema. A nil
// schema accepts anything. Params are normalized through a JSON
// round-trip first; the validator only understands the decoded-JSON
// value forms, and callers hand us maps holding arbitrary Go scalars.
func ValidateParams(compiled *jsonschema.Schema, params map[string]any) error {
	if compiled == nil {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("schema: serialize parameters: %w", err)
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("schema: normalize parameters: %w", err)
	}
	if err := compiled.Validate(value); err != nil {
		return fmt.Errorf("schema: parameter validation: %w", err)
	}
	return nil
}

// Parameters flattens the top-level property list of an object schema
// into descriptors, sorted by name. Non-object schemas and schemas
// without properties yield an empty slice.
func Parameters(document map[string]any) []Parameter {
	props, ok := document["properties"].(map[string]any)
	if !ok {
		return []Parameter{}
	}
	required := map[string]bool{}
	if list, ok := document["required"].([]any); ok {
		for _, entry := range list {
			if name, ok := entry.(string); ok {
				required[name] = true
			}
		}
	}

	params := make([]Parameter, 0, len(props))
	for name, raw := range props {
		p := Parameter{Name: name, Required: required[name]}
		if prop, ok := raw.(map[string]any); ok {
			if t, ok := prop["type"].(string); ok {
				p.Type = t
			}
			if d, ok := prop["description"].(string); ok {
				p.Description = d
			}
		}
		params = append(params, p)
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
	return params
}
