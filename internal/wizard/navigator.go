// Package wizard drives the form store through the wizard's steps: category
// selection, one step per section of the live document, and the summary.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/intake/internal/observability"
	"github.com/pitabwire/intake/internal/store"
	"github.com/pitabwire/intake/model"
)

// StepKind identifies the kind of wizard step.
type StepKind string

const (
	StepSelect  StepKind = "select"
	StepSection StepKind = "section"
	StepSummary StepKind = "summary"
)

// Step is a position in the wizard. Index is the section index for
// StepSection and zero otherwise.
type Step struct {
	Kind  StepKind `json:"kind"`
	Index int      `json:"index"`
}

func (s Step) String() string {
	if s.Kind == StepSection {
		return fmt.Sprintf("%s[%d]", s.Kind, s.Index)
	}
	return string(s.Kind)
}

// ErrWrongStep is returned when a signal does not apply to the current step.
var ErrWrongStep = errors.New("wizard: signal not valid for the current step")

// Navigator translates next, previous, submit, and start-over signals into
// store operations. It is safe for concurrent use; signals are serialized.
// Store subscribers must not call back into the Navigator.
type Navigator struct {
	store   *store.Store
	session *model.SessionContext
	logger  *zap.Logger

	mu   sync.Mutex
	step Step
}

// Option configures a Navigator.
type Option func(*Navigator)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(n *Navigator) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithRequestID records the backend request the session edits.
func WithRequestID(id string) Option {
	return func(n *Navigator) { n.session.RequestID = id }
}

// New creates a navigator positioned on the selection step.
func New(s *store.Store, opts ...Option) *Navigator {
	id := uuid.NewString()
	n := &Navigator{
		store:   s,
		session: &model.SessionContext{SessionID: id, CorrelationID: id},
		logger:  zap.NewNop(),
		step:    Step{Kind: StepSelect},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Session returns the session identifiers attached to backend calls.
func (n *Navigator) Session() model.SessionContext {
	return *n.session
}

// Context attaches the session to ctx.
func (n *Navigator) Context(ctx context.Context) context.Context {
	return model.WithSessionContext(ctx, n.session)
}

// Store returns the store the navigator drives.
func (n *Navigator) Store() *store.Store {
	return n.store
}

// Current returns the current step.
func (n *Navigator) Current() Step {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.step
}

// Start loads the schema catalog unless it is already loaded.
func (n *Navigator) Start(ctx context.Context) error {
	if n.store.SchemasLoaded() {
		return nil
	}
	return n.store.LoadSchemaCatalog(n.Context(ctx))
}

// Choose selects the template for a category and moves to its first section.
func (n *Navigator) Choose(category string) (Step, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.step.Kind != StepSelect {
		return n.step, ErrWrongStep
	}
	if err := n.store.SelectTemplate(category); err != nil {
		return n.step, err
	}

	doc := n.store.Document()
	if doc == nil {
		return n.step, nil
	}
	if len(doc.Sections) == 0 {
		n.step = Step{Kind: StepSummary}
	} else {
		n.step = Step{Kind: StepSection}
	}
	n.logger.Info("template selected",
		zap.String("session_id", n.session.SessionID),
		zap.String("category", category),
		zap.String("template_id", doc.ID),
	)
	return n.step, nil
}

// Section returns the section shown on the current step.
func (n *Navigator) Section() (model.Section, bool) {
	n.mu.Lock()
	step := n.step
	n.mu.Unlock()
	return n.sectionAt(step)
}

func (n *Navigator) sectionAt(step Step) (model.Section, bool) {
	if step.Kind != StepSection {
		return model.Section{}, false
	}
	doc := n.store.Document()
	if doc == nil || step.Index >= len(doc.Sections) {
		return model.Section{}, false
	}
	return doc.Sections[step.Index], true
}

// IsLastSection reports whether the current step submits on Next.
func (n *Navigator) IsLastSection() bool {
	n.mu.Lock()
	step := n.step
	n.mu.Unlock()

	doc := n.store.Document()
	return step.Kind == StepSection && doc != nil && step.Index == len(doc.Sections)-1
}

// Next stores the section's values and advances. On the last section it
// submits the document and stays put if the submission fails.
func (n *Navigator) Next(ctx context.Context, values map[string]any) (Step, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	section, ok := n.sectionAt(n.step)
	if !ok {
		return n.step, ErrWrongStep
	}
	n.store.ApplySectionEdits(section.ID, values)

	doc := n.store.Document()
	if n.step.Index < len(doc.Sections)-1 {
		n.step = Step{Kind: StepSection, Index: n.step.Index + 1}
		return n.step, nil
	}

	receipt, err := n.store.SubmitDocument(n.Context(ctx))
	if err != nil {
		observability.SessionLogger(n.Context(ctx), n.logger).Warn("submission failed", zap.Error(err))
		return n.step, err
	}
	n.step = Step{Kind: StepSummary}
	n.logger.Info("request submitted",
		zap.String("session_id", n.session.SessionID),
		zap.Int("submission_id", receipt.ID),
	)
	return n.step, nil
}

// Previous stores the section's values without validation and moves back.
func (n *Navigator) Previous(values map[string]any) (Step, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	section, ok := n.sectionAt(n.step)
	if !ok {
		return n.step, ErrWrongStep
	}
	n.store.ApplySectionEdits(section.ID, values)

	if n.step.Index == 0 {
		n.step = Step{Kind: StepSelect}
	} else {
		n.step = Step{Kind: StepSection, Index: n.step.Index - 1}
	}
	return n.step, nil
}

// StartOver discards everything, including the loaded catalog, and returns
// to the selection step.
func (n *Navigator) StartOver() Step {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.store.ResetAll()
	n.step = Step{Kind: StepSelect}
	return n.step
}

// Summary returns the display rows of the live document.
func (n *Navigator) Summary() []SummarySection {
	return Summarize(n.store.Document())
}
