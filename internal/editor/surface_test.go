package editor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/intake/internal/autosave"
	"github.com/pitabwire/intake/internal/schedule"
	"github.com/pitabwire/intake/model"
)

type recordingSaver struct {
	mu     sync.Mutex
	fields []string
}

func (r *recordingSaver) UpdateAnswer(_ context.Context, _, fieldID string, _ model.Value) (model.AnswerUpdate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields = append(r.fields, fieldID)
	return model.AnswerUpdate{Success: true}, nil
}

func requestedItem() model.Section {
	return model.Section{
		ID:    "requested-item",
		Title: "Requested Item",
		Fields: []model.Field{
			{ID: "itemName", Label: "Item Name", Type: model.FieldText, Required: true},
			{ID: "qty", Label: "Quantity", Type: model.FieldNumber, Required: true},
			{ID: "needsShipping", Label: "Requires shipping", Type: model.FieldToggle, Default: model.ToggleValue(true)},
			{ID: "vendorLocation", Label: "Vendor Location", Type: model.FieldRadio, Required: true, Options: []string{"USA", "UK", "Other"}},
			{ID: "notes", Label: "Notes", Type: model.FieldText, Value: model.TextValue("fragile")},
		},
	}
}

func newSurface(t *testing.T, section model.Section) (*Surface, *schedule.Manual, *recordingSaver) {
	t.Helper()
	clock := schedule.NewManual(time.Date(2025, 10, 18, 0, 0, 0, 0, time.UTC))
	saver := &recordingSaver{}
	s := New(section, "1", saver, model.DefaultAutoSaveConfig(),
		autosave.WithScheduler(clock),
		autosave.WithDispatcher(func(fn func()) { fn() }),
	)
	t.Cleanup(s.Close)
	return s, clock, saver
}

func TestNew_initial_values(t *testing.T) {
	s, _, _ := newSurface(t, requestedItem())

	want := map[string]model.Value{
		"itemName":       model.TextValue(""),
		"qty":            model.NumberValue("0"),
		"needsShipping":  model.ToggleValue(true),
		"vendorLocation": model.ChoiceValue(""),
		"notes":          model.TextValue("fragile"),
	}
	if diff := cmp.Diff(want, s.Values()); diff != "" {
		t.Errorf("Values() mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_messages(t *testing.T) {
	s, _, _ := newSurface(t, requestedItem())
	require.NoError(t, s.Set("qty", "12a"))

	want := []model.FieldError{
		{Field: "itemName", Code: CodeRequired, Message: "Please enter a item name"},
		{Field: "qty", Code: CodePattern, Message: "Please enter a valid number for quantity"},
		{Field: "vendorLocation", Code: CodeRequired, Message: "Vendor Location is required"},
	}
	if diff := cmp.Diff(want, s.Validate()); diff != "" {
		t.Errorf("Validate() mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_radio_outside_options(t *testing.T) {
	s, _, _ := newSurface(t, requestedItem())
	require.NoError(t, s.Set("vendorLocation", "Mars"))

	assert.Equal(t, "Please check this field", s.ValidateField("vendorLocation"))
	assert.Equal(t, "", s.ValidateField("needsShipping"))
	assert.Equal(t, "", s.ValidateField("no-such-field"))
}

func TestRequiredMessage(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{"Vendor Name", "Please enter a vendor name"},
		{"Item Name", "Please enter a item name"},
		{"Quantity", "Quantity is required"},
		{"Website", "Website is required"},
	}
	for _, tt := range tests {
		if got := RequiredMessage(tt.label); got != tt.want {
			t.Errorf("RequiredMessage(%q) = %q, want %q", tt.label, got, tt.want)
		}
	}
}

func TestCheckValue(t *testing.T) {
	s, _, _ := newSurface(t, requestedItem())

	assert.Equal(t, "Quantity is required", s.CheckValue("qty", ""))
	assert.Equal(t, "Please enter a valid number for quantity", s.CheckValue("qty", "-1"))
	assert.Equal(t, "", s.CheckValue("qty", "3"))
	assert.Equal(t, "Please check this field", s.CheckValue("needsShipping", "maybe"))

	v, _ := s.Value("qty")
	assert.Equal(t, model.NumberValue("0"), v, "CheckValue must not store the candidate")
}

func TestNext_gates_on_validation(t *testing.T) {
	s, _, _ := newSurface(t, requestedItem())

	_, err := s.Next()
	require.Error(t, err)
	env, ok := model.AsEnvelope(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrValidationError, env.Code)
	assert.Len(t, env.Details, 2)

	require.NoError(t, s.Set("itemName", "Dell XPS 13 laptop"))
	require.NoError(t, s.Set("qty", 2))
	require.NoError(t, s.Set("vendorLocation", "UK"))

	values, err := s.Submit()
	require.NoError(t, err)
	assert.Equal(t, model.TextValue("Dell XPS 13 laptop"), values["itemName"])
	assert.Equal(t, model.NumberValue("2"), values["qty"])
}

func TestPrevious_skips_validation(t *testing.T) {
	s, _, _ := newSurface(t, requestedItem())
	values := s.Previous()
	assert.Len(t, values, 5)
}

func TestSet_errors(t *testing.T) {
	s, _, _ := newSurface(t, requestedItem())

	err := s.Set("missing", "x")
	assert.Equal(t, model.ErrNotFound, model.CodeOf(err))

	err = s.Set("needsShipping", "perhaps")
	assert.Equal(t, model.ErrBadRequest, model.CodeOf(err))

	require.NoError(t, s.Set("needsShipping", nil))
	v, _ := s.Value("needsShipping")
	assert.Equal(t, model.ToggleValue(false), v, "nil resets to the type's zero value")
}

func TestRadioOptions(t *testing.T) {
	s, _, _ := newSurface(t, requestedItem())

	want := []RadioOption{
		{ID: "vendorLocation_0", Value: "USA", Label: "USA"},
		{ID: "vendorLocation_1", Value: "UK", Label: "UK"},
		{ID: "vendorLocation_2", Value: "Other", Label: "Other"},
	}
	if diff := cmp.Diff(want, s.RadioOptions("vendorLocation")); diff != "" {
		t.Errorf("RadioOptions() mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, s.RadioOptions("itemName"))
	assert.Nil(t, s.RadioOptions("missing"))
}

func TestAutoSave_only_edited_fields(t *testing.T) {
	s, clock, saver := newSurface(t, requestedItem())
	require.True(t, s.AutoSaveActive())

	require.NoError(t, s.Set("itemName", "Adobe"))
	require.NoError(t, s.Set("notes", "fragile"))
	clock.Advance(2 * time.Second)

	assert.Equal(t, []string{"itemName"}, saver.fields, "defaults and unchanged values are not saved")
	assert.Equal(t, model.SaveSaved, s.SaveState().Status)

	clock.Advance(3 * time.Second)
	assert.Equal(t, model.SaveIdle, s.SaveState().Status)
}

func TestFlush_and_Close(t *testing.T) {
	s, clock, saver := newSurface(t, requestedItem())

	require.NoError(t, s.Set("itemName", "a"))
	s.Flush()
	assert.Len(t, saver.fields, 1)

	require.NoError(t, s.Set("itemName", "b"))
	s.Close()
	clock.Advance(time.Minute)
	assert.Len(t, saver.fields, 1, "pending save dropped on Close")
}

func TestSection_is_a_copy(t *testing.T) {
	section := requestedItem()
	s, _, _ := newSurface(t, section)

	section.Fields[3].Options[0] = "Mars"
	assert.Equal(t, "USA", s.RadioOptions("vendorLocation")[0].Value)

	got := s.Section()
	got.Fields[0].Label = "changed"
	assert.Equal(t, "Item Name", s.Section().Fields[0].Label)
}
