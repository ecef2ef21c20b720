package catalog

import (
	"fmt"
	"strings"

	"github.com/pitabwire/intake/model"
)

// VError describes a single validation error in a template.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// JoinErrors renders validation errors as one error, or nil.
func JoinErrors(errs []VError) error {
	if len(errs) == 0 {
		return nil
	}
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return fmt.Errorf("catalog: %d invalid template entries: %s", len(errs), strings.Join(parts, "; "))
}

// Validate checks templates structurally: ids present and unique at every
// level, known field types, radio fields with options, and radio defaults
// that name one of their options.
func Validate(templates []model.RequestData) []VError {
	var errs []VError
	seen := make(map[string]bool, len(templates))

	for i, t := range templates {
		prefix := fmt.Sprintf("templates[%d]", i)
		if t.ID == "" {
			errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
		} else if seen[t.ID] {
			errs = append(errs, VError{Path: prefix + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate template id %q", t.ID)})
		}
		seen[t.ID] = true

		if t.Title == "" {
			errs = append(errs, VError{Path: prefix + ".title", Code: "REQUIRED", Message: "title is required"})
		}
		errs = append(errs, validateSections(prefix, t.Sections)...)
	}
	return errs
}

func validateSections(prefix string, sections []model.Section) []VError {
	var errs []VError
	seen := make(map[string]bool, len(sections))

	for i, s := range sections {
		sp := fmt.Sprintf("%s.sections[%d]", prefix, i)
		if s.ID == "" {
			errs = append(errs, VError{Path: sp + ".id", Code: "REQUIRED", Message: "id is required"})
		} else if seen[s.ID] {
			errs = append(errs, VError{Path: sp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate section id %q", s.ID)})
		}
		seen[s.ID] = true

		fieldIDs := make(map[string]bool, len(s.Fields))
		for j, f := range s.Fields {
			fp := fmt.Sprintf("%s.fields[%d]", sp, j)
			key := f.Key()
			if key == "" {
				errs = append(errs, VError{Path: fp + ".id", Code: "REQUIRED", Message: "id is required"})
			} else if fieldIDs[key] {
				errs = append(errs, VError{Path: fp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate field id %q", key)})
			}
			fieldIDs[key] = true
			errs = append(errs, validateField(fp, f)...)
		}
	}
	return errs
}

func validateField(prefix string, f model.Field) []VError {
	var errs []VError

	if f.Label == "" {
		errs = append(errs, VError{Path: prefix + ".label", Code: "REQUIRED", Message: "label is required"})
	}
	if !f.Type.Valid() {
		errs = append(errs, VError{Path: prefix + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid field type %q", f.Type)})
		return errs
	}

	if f.Type == model.FieldRadio {
		if len(f.Options) == 0 {
			errs = append(errs, VError{Path: prefix + ".options", Code: "REQUIRED", Message: "options are required for radio fields"})
		} else if f.Default != nil && !f.Default.Empty() && !hasOption(f.Options, f.Default.String()) {
			errs = append(errs, VError{Path: prefix + ".default", Code: "INVALID_OPTION", Message: fmt.Sprintf("default %q is not an option", f.Default.String())})
		}
	}
	if n, ok := f.Default.(model.NumberValue); ok && !n.Empty() && !n.Valid() {
		errs = append(errs, VError{Path: prefix + ".default", Code: "INVALID_NUMBER", Message: fmt.Sprintf("default %q is not a number", n.String())})
	}
	return errs
}

func hasOption(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}
