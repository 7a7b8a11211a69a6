package payloads

import (
	"encoding/json"
	"fmt"
)

// Accessor extracts one payload value from a snapshot. Returning an error
// aborts the build; nothing is sent for a snapshot that cannot be fully
// rendered.
type Accessor func(snapshot OrderSnapshot) (any, error)

// Field binds a payload key to its accessor.
type Field struct {
	Name string
	Get  Accessor
}

// Schema is an explicit, registered list of payload fields. Builders declare
// every field and its extraction up front; there is no struct-tag reflection
// and no way to emit a key that was not registered.
type Schema struct {
	name   string
	fields []Field
}

// NewSchema builds a schema after checking the registration is well formed.
func NewSchema(name string, fields ...Field) (*Schema, error) {
	if name == "" {
		return nil, fmt.Errorf("schema name required")
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("schema %s: at least one field required", name)
	}
	seen := make(map[string]bool, len(fields))
	for _, field := range fields {
		if field.Name == "" {
			return nil, fmt.Errorf("schema %s: field with empty name", name)
		}
		if field.Get == nil {
			return nil, fmt.Errorf("schema %s: field %s has no accessor", name, field.Name)
		}
		if seen[field.Name] {
			return nil, fmt.Errorf("schema %s: duplicate field %s", name, field.Name)
		}
		seen[field.Name] = true
	}
	return &Schema{name: name, fields: fields}, nil
}

// Name identifies the schema in errors and logs.
func (s *Schema) Name() string {
	return s.name
}

// FieldNames lists the registered keys in declaration order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.fields))
	for i, field := range s.fields {
		names[i] = field.Name
	}
	return names
}

// Build renders the snapshot through every registered accessor and returns
// the marshaled payload.
func (s *Schema) Build(snapshot OrderSnapshot) (json.RawMessage, error) {
	out := make(map[string]any, len(s.fields))
	for _, field := range s.fields {
		value, err := field.Get(snapshot)
		if err != nil {
			return nil, fmt.Errorf("schema %s: field %s: %w", s.name, field.Name, err)
		}
		out[field.Name] = value
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("schema %s: marshal: %w", s.name, err)
	}
	return raw, nil
}
