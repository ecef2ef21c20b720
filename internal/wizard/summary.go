package wizard

import "github.com/pitabwire/intake/model"

// NotProvided is shown for a field with neither a value nor a default.
const NotProvided = "Not provided"

// SummaryRow is one field of the summary.
type SummaryRow struct {
	FieldID string `json:"fieldId"`
	Label   string `json:"label"`
	Value   string `json:"value"`
}

// SummarySection groups the rows of one section.
type SummarySection struct {
	ID    string       `json:"id"`
	Title string       `json:"title"`
	Rows  []SummaryRow `json:"rows"`
}

// DisplayValue renders a field for the summary. A field without a value
// shows its default, or NotProvided; toggles show Yes or No.
func DisplayValue(f model.Field) string {
	v := f.Value
	if v == nil {
		v = f.Default
	}
	if v == nil {
		return NotProvided
	}
	if t, ok := v.(model.ToggleValue); ok {
		if t {
			return "Yes"
		}
		return "No"
	}
	return v.String()
}

// HasAnyData reports whether any field of doc holds a non-empty value.
func HasAnyData(doc *model.RequestData) bool {
	if doc == nil {
		return false
	}
	for _, s := range doc.Sections {
		for _, f := range s.Fields {
			if f.Value != nil && f.Value.String() != "" {
				return true
			}
		}
	}
	return false
}

// Summarize builds the summary of doc in section and field order.
func Summarize(doc *model.RequestData) []SummarySection {
	if doc == nil {
		return nil
	}
	out := make([]SummarySection, len(doc.Sections))
	for i, s := range doc.Sections {
		rows := make([]SummaryRow, len(s.Fields))
		for j, f := range s.Fields {
			rows[j] = SummaryRow{FieldID: f.Key(), Label: f.Label, Value: DisplayValue(f)}
		}
		out[i] = SummarySection{ID: s.ID, Title: s.Title, Rows: rows}
	}
	return out
}
