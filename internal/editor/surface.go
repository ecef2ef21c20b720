// Package editor implements the editing surface of one wizard section: it
// holds the section's field values, validates them before navigation, and
// hosts the auto-save engine that persists edits in the background.
package editor

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pitabwire/intake/internal/autosave"
	"github.com/pitabwire/intake/model"
)

// Validation error codes carried in model.FieldError.
const (
	CodeRequired = "REQUIRED"
	CodePattern  = "PATTERN"
	CodeInvalid  = "INVALID"
)

// RadioOption is one choice of a radio field.
type RadioOption struct {
	ID    string `json:"id"`
	Value string `json:"value"`
	Label string `json:"label"`
}

// Surface edits one section. It is safe for concurrent use.
type Surface struct {
	section   model.Section
	requestID string
	engine    *autosave.Engine

	mu     sync.Mutex
	values map[string]model.Value
}

// New builds a surface whose fields start at value, else default, else the
// type's zero value. Those starting values also seed the auto-save cache.
func New(section model.Section, requestID string, saver autosave.Saver, cfg model.AutoSaveConfig, opts ...autosave.Option) *Surface {
	values := make(map[string]model.Value, len(section.Fields))
	for _, f := range section.Fields {
		values[f.Key()] = f.Initial()
	}

	opts = append([]autosave.Option{autosave.WithInitial(values)}, opts...)
	return &Surface{
		section:   section.Clone(),
		requestID: requestID,
		engine:    autosave.New(saver, requestID, cfg, opts...),
		values:    values,
	}
}

// Section returns the section being edited.
func (s *Surface) Section() model.Section {
	return s.section.Clone()
}

// Set stores a new value for a field and notifies the auto-save engine.
func (s *Surface) Set(fieldID string, raw any) error {
	f, ok := s.section.Field(fieldID)
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("field %q is not part of section %q", fieldID, s.section.ID))
	}

	v, err := f.Type.Coerce(raw)
	if err != nil {
		return model.NewBadRequestError(fmt.Sprintf("field %q: %v", fieldID, err))
	}
	if v == nil {
		v = f.Type.Zero()
	}

	s.mu.Lock()
	s.values[fieldID] = v
	snapshot := s.copyLocked()
	s.mu.Unlock()

	s.engine.Notify(snapshot)
	return nil
}

// Value returns the current value of a field.
func (s *Surface) Value(fieldID string) (model.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[fieldID]
	return v, ok
}

// Values returns a copy of all current values keyed by field id.
func (s *Surface) Values() map[string]model.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Edits returns the current values in the form the store applies.
func (s *Surface) Edits() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *Surface) copyLocked() map[string]model.Value {
	out := make(map[string]model.Value, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Validate checks every field in section order.
func (s *Surface) Validate() []model.FieldError {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []model.FieldError
	for _, f := range s.section.Fields {
		if fe, ok := validateField(f, s.values[f.Key()]); !ok {
			errs = append(errs, fe)
		}
	}
	return errs
}

// ValidateField returns the message for one field, or "" when it is valid.
func (s *Surface) ValidateField(fieldID string) string {
	f, ok := s.section.Field(fieldID)
	if !ok {
		return ""
	}
	v, _ := s.Value(fieldID)
	if fe, ok := validateField(f, v); !ok {
		return fe.Message
	}
	return ""
}

// CheckValue validates a candidate value for a field without storing it.
func (s *Surface) CheckValue(fieldID string, raw any) string {
	f, ok := s.section.Field(fieldID)
	if !ok {
		return ""
	}
	v, err := f.Type.Coerce(raw)
	if err != nil {
		return "Please check this field"
	}
	if fe, ok := validateField(f, v); !ok {
		return fe.Message
	}
	return ""
}

// Next returns the values when the section is valid.
func (s *Surface) Next() (map[string]any, error) {
	if errs := s.Validate(); len(errs) > 0 {
		return nil, model.NewValidationError(errs)
	}
	return s.Edits(), nil
}

// Submit is Next for the last section.
func (s *Surface) Submit() (map[string]any, error) {
	return s.Next()
}

// Previous returns the values without validating them.
func (s *Surface) Previous() map[string]any {
	return s.Edits()
}

// RadioOptions lists the choices of a radio field with ids "<field>_<index>".
func (s *Surface) RadioOptions(fieldID string) []RadioOption {
	f, ok := s.section.Field(fieldID)
	if !ok {
		return nil
	}
	return RadioOptions(f)
}

// RadioOptions lists the choices of a field.
func RadioOptions(f model.Field) []RadioOption {
	if len(f.Options) == 0 {
		return nil
	}
	out := make([]RadioOption, len(f.Options))
	for i, opt := range f.Options {
		out[i] = RadioOption{ID: fmt.Sprintf("%s_%d", f.Key(), i), Value: opt, Label: opt}
	}
	return out
}

// SaveState returns the auto-save status.
func (s *Surface) SaveState() model.SaveState {
	return s.engine.State()
}

// AutoSaveActive reports whether edits are persisted in the background.
func (s *Surface) AutoSaveActive() bool {
	return s.engine.Active()
}

// Flush saves pending edits without waiting for the debounce window.
func (s *Surface) Flush() {
	s.engine.Flush()
}

// Close stops background saving.
func (s *Surface) Close() {
	s.engine.Close()
}

func validateField(f model.Field, v model.Value) (model.FieldError, bool) {
	empty := v == nil || v.Empty()

	if f.Required && empty {
		return model.FieldError{Field: f.Key(), Code: CodeRequired, Message: RequiredMessage(f.Label)}, false
	}
	if empty {
		return model.FieldError{}, true
	}

	switch f.Type {
	case model.FieldNumber:
		if n, ok := v.(model.NumberValue); !ok || !n.Valid() {
			return model.FieldError{
				Field:   f.Key(),
				Code:    CodePattern,
				Message: fmt.Sprintf("Please enter a valid number for %s", strings.ToLower(f.Label)),
			}, false
		}
	case model.FieldRadio:
		if !contains(f.Options, v.String()) {
			return model.FieldError{Field: f.Key(), Code: CodeInvalid, Message: "Please check this field"}, false
		}
	}
	return model.FieldError{}, true
}

// RequiredMessage is the message shown for an empty required field.
func RequiredMessage(label string) string {
	lower := strings.ToLower(label)
	if strings.Contains(lower, "name") {
		return "Please enter a " + lower
	}
	return label + " is required"
}

func contains(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}
