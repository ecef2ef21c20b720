package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/pitabwire/intake/internal/editor"
	"github.com/pitabwire/intake/model"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("99"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// huhPrompter asks through terminal forms.
type huhPrompter struct {
	accessible bool
}

func (p huhPrompter) run(form *huh.Form) error {
	return form.WithAccessible(p.accessible).Run()
}

// SelectCategory shows the request categories as a single choice.
func (p huhPrompter) SelectCategory(categories []string) (string, error) {
	if len(categories) == 0 {
		return "", fmt.Errorf("no request categories configured")
	}

	opts := make([]huh.Option[string], len(categories))
	for i, c := range categories {
		opts[i] = huh.NewOption(categoryLabel(c), c)
	}

	selected := categories[0]
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("What would you like to request?").
			Options(opts...).
			Value(&selected),
	))
	if err := p.run(form); err != nil {
		return "", err
	}
	return selected, nil
}

// EditSection renders one input per field, prefilled from the surface, and
// writes the answers back once the form completes. Validation is left to the
// surface so that going back never requires valid input.
func (p huhPrompter) EditSection(s *editor.Surface, last bool) (Action, error) {
	section := s.Section()

	texts := make(map[string]*string)
	toggles := make(map[string]*bool)
	fields := make([]huh.Field, 0, len(section.Fields)+1)

	for _, f := range section.Fields {
		id := f.Key()
		title := f.Label
		if f.Required {
			title += " *"
		}
		current, _ := s.Value(id)

		switch f.Type {
		case model.FieldToggle:
			on := current != nil && current.Raw() == true
			toggles[id] = &on
			fields = append(fields, huh.NewConfirm().
				Title(title).
				Affirmative("Yes").
				Negative("No").
				Value(&on))
		case model.FieldRadio:
			choice := valueString(current)
			texts[id] = &choice
			opts := make([]huh.Option[string], 0, len(f.Options))
			for _, o := range editor.RadioOptions(f) {
				opts = append(opts, huh.NewOption(o.Label, o.Value))
			}
			fields = append(fields, huh.NewSelect[string]().
				Title(title).
				Options(opts...).
				Value(&choice))
		default:
			text := valueString(current)
			texts[id] = &text
			input := huh.NewInput().Title(title).Value(&text)
			if f.Type == model.FieldNumber {
				input = input.Placeholder("0")
			}
			fields = append(fields, input)
		}
	}

	next := "Next"
	if last {
		next = "Submit"
	}
	action := ActionNext
	fields = append(fields, huh.NewSelect[Action]().
		Title("Continue").
		Options(
			huh.NewOption(next, ActionNext),
			huh.NewOption("Back", ActionBack),
			huh.NewOption("Quit", ActionQuit),
		).
		Value(&action))

	form := huh.NewForm(huh.NewGroup(fields...).Title(section.Title))
	if err := p.run(form); err != nil {
		return "", err
	}

	for _, f := range section.Fields {
		var answer any
		if v, ok := toggles[f.Key()]; ok {
			answer = *v
		} else {
			answer = *texts[f.Key()]
		}
		if err := s.Set(f.Key(), answer); err != nil {
			return "", err
		}
	}
	return action, nil
}

// StartOver asks whether to begin another request.
func (p huhPrompter) StartOver() (bool, error) {
	again := false
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("Start a new request?").
			Value(&again),
	))
	if err := p.run(form); err != nil {
		return false, err
	}
	return again, nil
}

func categoryLabel(c string) string {
	if c == "" {
		return c
	}
	return strings.ToUpper(c[:1]) + c[1:]
}

func valueString(v model.Value) string {
	if v == nil {
		return ""
	}
	return v.String()
}
