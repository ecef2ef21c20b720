package store

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"github.com/pitabwire/intake/model"
)

func drawEdits(t *rapid.T, label string, fields []string) map[string]any {
	edits := make(map[string]any)
	for _, f := range fields {
		if rapid.Bool().Draw(t, label+"."+f+".present") {
			edits[f] = rapid.StringMatching(`[A-Za-z0-9 ]{0,8}`).Draw(t, label+"."+f)
		}
	}
	return edits
}

func newPropertyStore(t *rapid.T) *Store {
	gw := &fakeGateway{schemas: []model.RequestData{{
		ID: "software-request", Title: "Software", Sections: []model.Section{
			{ID: "a", Fields: []model.Field{
				{ID: "one", Label: "One", Type: model.FieldText},
				{ID: "two", Label: "Two", Type: model.FieldText},
			}},
			{ID: "b", Fields: []model.Field{
				{ID: "three", Label: "Three", Type: model.FieldText},
				{ID: "four", Label: "Four", Type: model.FieldText},
			}},
		},
	}}}
	s := New(gw)
	if err := s.LoadSchemaCatalog(context.Background()); err != nil {
		t.Fatalf("LoadSchemaCatalog() error = %v", err)
	}
	if err := s.SelectTemplate("software"); err != nil {
		t.Fatalf("SelectTemplate() error = %v", err)
	}
	return s
}

func TestProperty_disjoint_sections_commute(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "n")
		type step struct {
			section string
			edits   map[string]any
		}
		var steps []step
		for i := 0; i < n; i++ {
			if rapid.Bool().Draw(t, "section") {
				steps = append(steps, step{"a", drawEdits(t, "a", []string{"one", "two"})})
			} else {
				steps = append(steps, step{"b", drawEdits(t, "b", []string{"three", "four"})})
			}
		}

		interleaved := newPropertyStore(t)
		for _, st := range steps {
			interleaved.ApplySectionEdits(st.section, st.edits)
		}

		grouped := newPropertyStore(t)
		for _, section := range []string{"b", "a"} {
			for _, st := range steps {
				if st.section == section {
					grouped.ApplySectionEdits(st.section, st.edits)
				}
			}
		}

		if diff := cmp.Diff(interleaved.Document(), grouped.Document()); diff != "" {
			t.Fatalf("documents differ (-interleaved +grouped):\n%s", diff)
		}
	})
}

func TestProperty_apply_is_idempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		edits := drawEdits(t, "a", []string{"one", "two"})

		once := newPropertyStore(t)
		once.ApplySectionEdits("a", edits)

		twice := newPropertyStore(t)
		twice.ApplySectionEdits("a", edits)
		twice.ApplySectionEdits("a", edits)

		if diff := cmp.Diff(once.Document(), twice.Document()); diff != "" {
			t.Fatalf("documents differ (-once +twice):\n%s", diff)
		}
	})
}

func TestProperty_reset_restores_initial_snapshot(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := newPropertyStore(t)
		ops := rapid.SliceOfN(rapid.IntRange(0, 5), 0, 12).Draw(t, "ops")
		for _, op := range ops {
			switch op {
			case 0:
				s.AddError(rapid.String().Draw(t, "error"))
			case 1:
				s.SetLoading(rapid.Bool().Draw(t, "loading"))
			case 2:
				s.SetCompleted(rapid.Bool().Draw(t, "completed"))
			case 3:
				s.ApplySectionEdits("a", drawEdits(t, "a", []string{"one", "two"}))
			case 4:
				_, _ = s.SubmitDocument(context.Background())
			case 5:
				s.ResetAll()
			}
		}

		s.ResetAll()
		if diff := cmp.Diff(model.InitialFormState(), s.Snapshot()); diff != "" {
			t.Fatalf("snapshot after reset (-want +got):\n%s", diff)
		}
	})
}
