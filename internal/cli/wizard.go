package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/intake/internal/autosave"
	"github.com/pitabwire/intake/internal/catalog"
	"github.com/pitabwire/intake/internal/editor"
	"github.com/pitabwire/intake/internal/store"
	"github.com/pitabwire/intake/internal/wizard"
	"github.com/pitabwire/intake/model"
)

// Action is what the user asks for after editing a section.
type Action string

const (
	ActionNext Action = "next"
	ActionBack Action = "back"
	ActionQuit Action = "quit"
)

// Prompter collects the user's input for each wizard step.
type Prompter interface {
	// SelectCategory asks which kind of request to create.
	SelectCategory(categories []string) (string, error)

	// EditSection lets the user edit the section's values through the
	// surface and returns the chosen action.
	EditSection(surface *editor.Surface, last bool) (Action, error)

	// StartOver asks whether to begin a new request after the summary.
	StartOver() (bool, error)
}

func newWizardCmd(o *options) *cobra.Command {
	var (
		requestID  string
		category   string
		accessible bool
	)

	cmd := &cobra.Command{
		Use:   "wizard",
		Short: "Fill in and submit a request interactively",
		Long: `Walk through the sections of a request template and submit it.

With --request-id, field edits are saved to that stored request in the
background (debounced, retried on server errors).

Examples:
  intake wizard
  intake wizard --request-id 1 --category software
  intake wizard --backend http://localhost:8080/api
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := o.load()
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			ui := o.prompter
			if ui == nil {
				ui = huhPrompter{accessible: accessible}
			}

			err = newRunner(cmd.Context(), e, requestID, category, ui, cmd.OutOrStdout()).run(cmd.Context())
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&requestID, "request-id", "", "stored request that receives field auto-saves")
	cmd.Flags().StringVar(&category, "category", "", "request category to start with (skips the first question)")
	cmd.Flags().BoolVar(&accessible, "accessible", false, "use plain prompts suitable for screen readers")
	return cmd
}

// runner drives a Navigator from a Prompter.
type runner struct {
	nav        *wizard.Navigator
	categories []string
	category   string
	ui         Prompter
	out        io.Writer
	newSurface func(model.Section) *editor.Surface
}

func newRunner(ctx context.Context, e *env, requestID, category string, ui Prompter, out io.Writer) *runner {
	policy := catalog.PolicyFromConfig(e.cfg.Catalog)
	st := store.New(e.gateway, store.WithLogger(e.logger), store.WithPolicy(policy))
	nav := wizard.New(st, wizard.WithLogger(e.logger), wizard.WithRequestID(requestID))

	saveCfg := e.cfg.AutoSave
	return &runner{
		nav:        nav,
		categories: policy.Categories(),
		category:   category,
		ui:         ui,
		out:        out,
		newSurface: func(section model.Section) *editor.Surface {
			return editor.New(section, requestID, e.gateway, saveCfg.Model(),
				autosave.WithContext(nav.Context(ctx)),
				autosave.WithRetryBackoff(saveCfg.RetryBackoff),
				autosave.WithSavedDisplay(saveCfg.SavedDisplay),
				autosave.WithLogger(e.logger),
				autosave.WithListener(func(s model.SaveState) {
					e.logger.Debug("auto-save state",
						zap.String("section_id", section.ID),
						zap.String("status", string(s.Status)),
						zap.String("message", s.Message),
					)
				}),
			)
		},
	}
}

func (r *runner) run(ctx context.Context) error {
	if err := r.nav.Start(ctx); err != nil {
		return fmt.Errorf("loading schemas: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch r.nav.Current().Kind {
		case wizard.StepSelect:
			if err := r.selectStep(); err != nil {
				return err
			}
		case wizard.StepSection:
			quit, err := r.sectionStep(ctx)
			if err != nil || quit {
				return err
			}
		case wizard.StepSummary:
			again, err := r.summaryStep(ctx)
			if err != nil || !again {
				return err
			}
		}
	}
}

func (r *runner) selectStep() error {
	category := r.category
	r.category = ""
	if category == "" {
		var err error
		if category, err = r.ui.SelectCategory(r.categories); err != nil {
			return err
		}
	}

	if _, err := r.nav.Choose(category); err != nil {
		if !errors.Is(err, store.ErrSchemaUnavailable) {
			return err
		}
		r.printError(err)
	}
	return nil
}

func (r *runner) sectionStep(ctx context.Context) (bool, error) {
	section, ok := r.nav.Section()
	if !ok {
		return false, fmt.Errorf("wizard: no section at step %s", r.nav.Current())
	}

	surface := r.newSurface(section)
	defer surface.Close()

	fmt.Fprintln(r.out, headerStyle.Render(section.Title))
	action, err := r.ui.EditSection(surface, r.nav.IsLastSection())
	if err != nil {
		return false, err
	}
	surface.Flush()

	switch action {
	case ActionQuit:
		return true, nil
	case ActionBack:
		_, err := r.nav.Previous(surface.Previous())
		return false, err
	}

	values, err := surface.Next()
	if err != nil {
		// Keep the draft so the section reopens with what was typed.
		r.nav.Store().ApplySectionEdits(section.ID, surface.Previous())
		r.printError(err)
		return false, nil
	}
	if _, err := r.nav.Next(ctx, values); err != nil {
		if errors.Is(err, wizard.ErrWrongStep) {
			return false, err
		}
		for _, msg := range r.nav.Store().Snapshot().Errors {
			fmt.Fprintln(r.out, errorStyle.Render(msg))
		}
	}
	return false, nil
}

func (r *runner) summaryStep(ctx context.Context) (bool, error) {
	fmt.Fprintln(r.out, titleStyle.Render("Request submitted"))
	r.printSummary()

	again, err := r.ui.StartOver()
	if err != nil || !again {
		return false, err
	}
	r.nav.StartOver()
	return true, r.nav.Start(ctx)
}

func (r *runner) printSummary() {
	doc := r.nav.Store().Document()
	if !wizard.HasAnyData(doc) {
		fmt.Fprintln(r.out, mutedStyle.Render("No answers were entered."))
		return
	}
	for _, section := range r.nav.Summary() {
		fmt.Fprintln(r.out, headerStyle.Render(section.Title))
		for _, row := range section.Rows {
			fmt.Fprintf(r.out, "  %s %s\n", labelStyle.Render(row.Label+":"), row.Value)
		}
	}
}

func (r *runner) printError(err error) {
	ee, ok := model.AsEnvelope(err)
	if !ok {
		fmt.Fprintln(r.out, errorStyle.Render(err.Error()))
		return
	}
	if len(ee.Details) == 0 {
		fmt.Fprintln(r.out, errorStyle.Render(ee.Message))
		return
	}
	msgs := make([]string, len(ee.Details))
	for i, d := range ee.Details {
		msgs[i] = d.Message
	}
	fmt.Fprintln(r.out, errorStyle.Render(strings.Join(msgs, "\n")))
}
