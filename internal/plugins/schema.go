package plugins

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Property is one field of a plugin config schema.
type Property struct {
	Type        string
	Description string
	Default     any
	Enum        []string
}

// Field helpers for the common property types.
func String(desc string) Property  { return Property{Type: "string", Description: desc} }
func Integer(desc string) Property { return Property{Type: "integer", Description: desc} }
func Boolean(desc string) Property { return Property{Type: "boolean", Description: desc} }

// WithDefault returns p with a default value.
func (p Property) WithDefault(v any) Property {
	p.Default = v
	return p
}

// OneOf returns p restricted to values.
func (p Property) OneOf(values ...string) Property {
	p.Enum = values
	return p
}

func (p Property) schema() map[string]any {
	out := map[string]any{"type": p.Type, "description": p.Description}
	if p.Default != nil {
		out["default"] = p.Default
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	return out
}

// Schema builds an object JSON schema from properties.
func Schema(props map[string]Property, required ...string) map[string]any {
	properties := make(map[string]any, len(props))
	for name, p := range props {
		properties[name] = p.schema()
	}
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// Decode unmarshals a plugin config into dst. Unknown fields are rejected so
// a misspelled key fails at start-up instead of being ignored. An empty config
// decodes as {}.
func Decode(plugin string, raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decoding %s config: %w", plugin, err)
	}
	return nil
}

// Seconds converts a config value in seconds to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
