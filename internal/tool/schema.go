// internal/tool/schema.go
package tool

import (
	"encoding/json"
	"fmt"
)

// Schema is a small JSON-schema subset covering what tool argument
// objects need: an object with typed properties, some required.
type Schema struct {
	Properties map[string]Property
	Required   []string
}

// Property describes a single argument.
type Property struct {
	Type        string // "string", "number", "integer", "boolean", "array"
	Description string
	Items       string   // element type when Type is "array"
	ItemsEnum   []string // allowed element values when non-empty
	Enum        []string // allowed values when non-empty
}

// MarshalJSONSchema renders the schema in the wire format the reasoning
// engine expects.
func (s *Schema) MarshalJSONSchema() json.RawMessage {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Type == "array" && p.Items != "" {
			items := map[string]any{"type": p.Items}
			if len(p.ItemsEnum) > 0 {
				items["enum"] = p.ItemsEnum
			}
			prop["items"] = items
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}

	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}

	data, err := json.Marshal(out)
	if err != nil {
		// Schemas are built from literals; marshal cannot fail.
		panic(err)
	}
	return data
}

// Validate checks that args is a JSON object containing every required
// property with a compatible type. Unknown properties are allowed.
func (s *Schema) Validate(args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(args, &m); err != nil {
		return fmt.Errorf("arguments are not a JSON object: %w", err)
	}

	for _, name := range s.Required {
		if _, ok := m[name]; !ok {
			return fmt.Errorf("missing required argument %q", name)
		}
	}

	for name, raw := range m {
		p, ok := s.Properties[name]
		if !ok {
			continue
		}
		if err := checkType(name, p, raw); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name string, p Property, raw json.RawMessage) error {
	switch p.Type {
	case "string":
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("argument %q must be a string", name)
		}
		if len(p.Enum) > 0 {
			for _, allowed := range p.Enum {
				if v == allowed {
					return nil
				}
			}
			return fmt.Errorf("argument %q must be one of %v", name, p.Enum)
		}
	case "number":
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("argument %q must be a number", name)
		}
	case "integer":
		var v int64
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("argument %q must be an integer", name)
		}
	case "boolean":
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("argument %q must be a boolean", name)
		}
	case "array":
		var v []json.RawMessage
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("argument %q must be an array", name)
		}
		if p.Items != "" {
			elem := Property{Type: p.Items, Enum: p.ItemsEnum}
			for i, item := range v {
				if err := checkType(fmt.Sprintf("%s[%d]", name, i), elem, item); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
