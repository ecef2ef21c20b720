package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// FieldID is the canonical string key of a field. Templates may carry numeric
// ids; they are normalized to their decimal string form when decoded.
type FieldID string

// FieldKey normalizes a string or numeric identifier to its canonical key.
func FieldKey(id any) string {
	switch v := id.(type) {
	case FieldID:
		return string(v)
	case string:
		return v
	case nil:
		return ""
	}
	if s, err := scalarString(id); err == nil {
		return s
	}
	return fmt.Sprint(id)
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (id *FieldID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FieldID(s)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("field id: %s is neither a string nor a number", data)
	}
	*id = FieldID(formatFloat(f))
	return nil
}

// UnmarshalYAML accepts any scalar node. Numbers are normalized the same way
// as in JSON, so 1.0 and 1 name the same field.
func (id *FieldID) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("field id: line %d: expected a scalar", node.Line)
	}
	switch node.ShortTag() {
	case "!!int", "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return fmt.Errorf("field id: line %d: %w", node.Line, err)
		}
		*id = FieldID(formatFloat(f))
	default:
		*id = FieldID(node.Value)
	}
	return nil
}

// Field is a single input of a template section.
type Field struct {
	ID       FieldID   `json:"id"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	Options  []string  `json:"options,omitempty"`
	Default  Value     `json:"default,omitempty"`
	Value    Value     `json:"value,omitempty"`
}

// fieldWire is the loosely typed form a field takes in JSON and YAML documents.
type fieldWire struct {
	ID       FieldID   `json:"id" yaml:"id"`
	Label    string    `json:"label" yaml:"label"`
	Type     FieldType `json:"type" yaml:"type"`
	Required bool      `json:"required" yaml:"required"`
	Options  []string  `json:"options" yaml:"options"`
	Default  any       `json:"default" yaml:"default"`
	Value    any       `json:"value" yaml:"value"`
}

func (w fieldWire) field() (Field, error) {
	f := Field{
		ID:       w.ID,
		Label:    w.Label,
		Type:     w.Type,
		Required: w.Required,
		Options:  w.Options,
	}
	var err error
	if f.Default, err = w.Type.Coerce(w.Default); err != nil {
		return Field{}, fmt.Errorf("field %q default: %w", w.ID, err)
	}
	if f.Value, err = w.Type.Coerce(w.Value); err != nil {
		return Field{}, fmt.Errorf("field %q value: %w", w.ID, err)
	}
	return f, nil
}

// UnmarshalJSON decodes a field and converts default and value to the
// variant matching the field type.
func (f *Field) UnmarshalJSON(data []byte) error {
	var w fieldWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	decoded, err := w.field()
	if err != nil {
		return err
	}
	*f = decoded
	return nil
}

// UnmarshalYAML is the YAML counterpart of UnmarshalJSON.
func (f *Field) UnmarshalYAML(node *yaml.Node) error {
	var w fieldWire
	if err := node.Decode(&w); err != nil {
		return err
	}
	decoded, err := w.field()
	if err != nil {
		return err
	}
	*f = decoded
	return nil
}

// Initial is the value an editing surface starts from: the stored value,
// else the default, else the type's zero value.
func (f Field) Initial() Value {
	if f.Value != nil {
		return f.Value
	}
	if f.Default != nil {
		return f.Default
	}
	return f.Type.Zero()
}

// Key returns the canonical field key.
func (f Field) Key() string { return string(f.ID) }

// Section is an ordered group of fields shown as one wizard step.
type Section struct {
	ID     string  `json:"id" yaml:"id"`
	Title  string  `json:"title" yaml:"title"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// Field returns the field with the given canonical key.
func (s Section) Field(key string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Key() == key {
			return f, true
		}
	}
	return Field{}, false
}

// RequestData is either a catalog template or the live document being filled in.
type RequestData struct {
	ID       string    `json:"id" yaml:"id"`
	Title    string    `json:"title" yaml:"title"`
	Sections []Section `json:"sections" yaml:"sections"`
}

// Section returns the section with the given id.
func (r RequestData) Section(id string) (Section, bool) {
	for _, s := range r.Sections {
		if s.ID == id {
			return s, true
		}
	}
	return Section{}, false
}

// Clone returns a deep copy that shares no section, field, or option storage
// with r.
func (r RequestData) Clone() RequestData {
	out := RequestData{ID: r.ID, Title: r.Title}
	if r.Sections == nil {
		return out
	}
	out.Sections = make([]Section, len(r.Sections))
	for i, s := range r.Sections {
		out.Sections[i] = s.Clone()
	}
	return out
}

// Clone returns a deep copy of the section.
func (s Section) Clone() Section {
	out := Section{ID: s.ID, Title: s.Title}
	if s.Fields == nil {
		return out
	}
	out.Fields = make([]Field, len(s.Fields))
	for i, f := range s.Fields {
		out.Fields[i] = f
		if f.Options != nil {
			out.Fields[i].Options = append([]string(nil), f.Options...)
		}
	}
	return out
}
