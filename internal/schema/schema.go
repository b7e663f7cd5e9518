package schema

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field describes a single named column of a schema.
type Field struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Pattern     string    `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Values      []string  `json:"values,omitempty" yaml:"values,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// Schema is an ordered set of typed fields with key and index declarations.
type Schema struct {
	ID          string   `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []Field  `json:"fields" yaml:"fields"`
	PrimaryKey  []string `json:"primaryKey" yaml:"primaryKey"`
	Indexes     []string `json:"indexes,omitempty" yaml:"indexes,omitempty"`
}

// Validate checks the schema's internal consistency: it must declare at
// least one field, every field needs a name and a known type, field names
// must be unique, and every primary-key and index name must refer to a
// declared field.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema has no name")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %q declares no fields", s.Name)
	}

	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema %q has a field with no name", s.Name)
		}
		if !f.Type.IsValid() {
			return fmt.Errorf("schema %q field %q has unknown type %q", s.Name, f.Name, f.Type)
		}
		key := strings.ToLower(f.Name)
		if seen[key] {
			return fmt.Errorf("schema %q declares field %q twice", s.Name, f.Name)
		}
		seen[key] = true
	}

	if len(s.PrimaryKey) == 0 {
		return fmt.Errorf("schema %q declares no primary key", s.Name)
	}
	for _, pk := range s.PrimaryKey {
		if !seen[strings.ToLower(pk)] {
			return fmt.Errorf("schema %q primary key %q is not a declared field", s.Name, pk)
		}
	}
	for _, idx := range s.Indexes {
		if !seen[strings.ToLower(idx)] {
			return fmt.Errorf("schema %q index %q is not a declared field", s.Name, idx)
		}
	}

	return nil
}

// FieldByName returns the declared field matching name case-insensitively,
// or nil.
func (s *Schema) FieldByName(name string) *Field {
	for i := range s.Fields {
		if strings.EqualFold(s.Fields[i].Name, name) {
			return &s.Fields[i]
		}
	}
	return nil
}

// FieldNames returns the declared field names in order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// HasField reports whether name refers to a declared field
// (case-insensitively).
func (s *Schema) HasField(name string) bool {
	return s.FieldByName(name) != nil
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	c := *s
	c.Fields = append([]Field(nil), s.Fields...)
	for i := range c.Fields {
		c.Fields[i].Values = append([]string(nil), s.Fields[i].Values...)
	}
	c.PrimaryKey = append([]string(nil), s.PrimaryKey...)
	c.Indexes = append([]string(nil), s.Indexes...)
	return &c
}

// Load reads a schema definition from a YAML (or JSON, which YAML subsumes)
// stream and validates it.
func Load(r io.Reader) (*Schema, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}

	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFile reads a schema definition from a file.
func LoadFile(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema file: %w", err)
	}
	defer f.Close()
	return Load(f)
}
