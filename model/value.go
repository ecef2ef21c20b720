package model

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// FieldType enumerates the supported input kinds of a template field.
type FieldType string

const (
	FieldText   FieldType = "text"
	FieldNumber FieldType = "number"
	FieldRadio  FieldType = "radio"
	FieldToggle FieldType = "toggle"
)

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldNumber, FieldRadio, FieldToggle:
		return true
	}
	return false
}

// Zero returns the value a field of this type starts with when neither a
// stored value nor a default is present.
func (t FieldType) Zero() Value {
	switch t {
	case FieldNumber:
		return NumberValue("0")
	case FieldToggle:
		return ToggleValue(false)
	case FieldRadio:
		return ChoiceValue("")
	default:
		return TextValue("")
	}
}

// Coerce converts a loosely typed input (decoded JSON, YAML, or a terminal
// answer) into the strictly typed variant for this field type. A nil input
// yields a nil Value. Composite inputs are rejected.
func (t FieldType) Coerce(v any) (Value, error) {
	if v == nil {
		return nil, nil
	}
	if existing, ok := v.(Value); ok {
		if existing.Type() == t {
			return existing, nil
		}
		v = existing.Raw()
	}

	switch t {
	case FieldToggle:
		return coerceToggle(v)
	case FieldNumber:
		s, err := scalarString(v)
		if err != nil {
			return nil, err
		}
		return NumberValue(strings.TrimSpace(s)), nil
	case FieldRadio:
		s, err := scalarString(v)
		if err != nil {
			return nil, err
		}
		return ChoiceValue(s), nil
	case FieldText, "":
		s, err := scalarString(v)
		if err != nil {
			return nil, err
		}
		return TextValue(s), nil
	}
	return nil, fmt.Errorf("unknown field type %q", t)
}

// Value is the tagged variant held in Field.Value and Field.Default. Every
// implementation is an immutable scalar, so Values may be shared between
// snapshots without copying.
type Value interface {
	Type() FieldType
	// Empty reports whether the value counts as "not provided" for required
	// field validation.
	Empty() bool
	String() string
	// Raw returns the plain Go representation used on the wire.
	Raw() any
}

// TextValue is the value of a text field.
type TextValue string

func (v TextValue) Type() FieldType { return FieldText }
func (v TextValue) Empty() bool     { return v == "" }
func (v TextValue) String() string  { return string(v) }
func (v TextValue) Raw() any        { return string(v) }

// NumberValue is the value of a number field. It keeps the entered text so
// that an in-progress, not yet valid entry survives until validation.
type NumberValue string

var digitsPattern = regexp.MustCompile(`^\d+$`)

func (v NumberValue) Type() FieldType { return FieldNumber }
func (v NumberValue) Empty() bool     { return v == "" }
func (v NumberValue) String() string  { return string(v) }

// Valid reports whether the text is a non-negative integer.
func (v NumberValue) Valid() bool { return digitsPattern.MatchString(string(v)) }

// Int64 parses the value. It fails for text that is not a valid number.
func (v NumberValue) Int64() (int64, error) {
	if !v.Valid() {
		return 0, fmt.Errorf("%q is not a number", string(v))
	}
	return strconv.ParseInt(string(v), 10, 64)
}

func (v NumberValue) Raw() any {
	if n, err := v.Int64(); err == nil {
		return n
	}
	return string(v)
}

// MarshalJSON writes valid numbers as JSON numbers and anything else as a
// string. Leading zeros are dropped since JSON does not allow them.
func (v NumberValue) MarshalJSON() ([]byte, error) {
	if v.Valid() {
		return []byte(v.canonical()), nil
	}
	return json.Marshal(string(v))
}

func (v NumberValue) canonical() string {
	digits := strings.TrimLeft(string(v), "0")
	if digits == "" {
		return "0"
	}
	return digits
}

// ChoiceValue is the selected option of a radio field.
type ChoiceValue string

func (v ChoiceValue) Type() FieldType { return FieldRadio }
func (v ChoiceValue) Empty() bool     { return v == "" }
func (v ChoiceValue) String() string  { return string(v) }
func (v ChoiceValue) Raw() any        { return string(v) }

// ToggleValue is the value of a toggle field. It is never empty.
type ToggleValue bool

func (v ToggleValue) Type() FieldType { return FieldToggle }
func (v ToggleValue) Empty() bool     { return false }
func (v ToggleValue) String() string  { return strconv.FormatBool(bool(v)) }
func (v ToggleValue) Raw() any        { return bool(v) }

// EqualValues compares two values by variant and content. Two nil values are equal.
func EqualValues(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Type() == b.Type() && a.String() == b.String()
}

func coerceToggle(v any) (Value, error) {
	switch t := v.(type) {
	case bool:
		return ToggleValue(t), nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return nil, fmt.Errorf("toggle: %q is not a boolean", t)
		}
		return ToggleValue(b), nil
	case float64:
		return ToggleValue(t != 0), nil
	case int:
		return ToggleValue(t != 0), nil
	case int64:
		return ToggleValue(t != 0), nil
	}
	return nil, fmt.Errorf("toggle: unsupported value of type %T", v)
}

func scalarString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float32:
		return formatFloat(float64(t)), nil
	case float64:
		return formatFloat(t), nil
	case json.Number:
		return t.String(), nil
	case fmt.Stringer:
		return t.String(), nil
	}
	return "", fmt.Errorf("unsupported value of type %T", v)
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
