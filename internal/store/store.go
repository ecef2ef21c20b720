// Package store holds the wizard's form state: the schema catalog, the live
// request document, and the loading, error, and completion flags. Every
// mutation publishes a new immutable snapshot to subscribers.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/intake/internal/catalog"
	"github.com/pitabwire/intake/internal/observability"
	"github.com/pitabwire/intake/model"
)

// User-facing messages appended to FormState.Errors.
const (
	MsgCatalogUnavailable = "Unable to load form types. Please refresh the page."
	MsgNetworkError       = "Network error - please check your connection and try again"
	MsgSubmitFailed       = "Failed to submit request. Please try again or contact support if the problem persists."
)

var (
	// ErrNoDocument is returned when an operation needs a live document and
	// none has been selected.
	ErrNoDocument = errors.New("store: no live document")

	// ErrSchemaUnavailable is returned when a category resolves to a template
	// that is not in the loaded catalog.
	ErrSchemaUnavailable = errors.New("store: schema not available")
)

// Store is the single writer of model.FormState for one wizard session.
//
// A mutating call returns after its snapshot reached every subscriber only
// when the session has a single logical caller, as the wizard navigator does.
// A call made from another goroutine while a delivery round is running
// returns once its snapshot is queued; that round delivers it, in publish
// order.
type Store struct {
	gateway model.Gateway
	policy  catalog.Policy
	logger  *zap.Logger
	metrics *observability.Metrics

	mu    sync.Mutex
	state model.FormState

	subs   []*Subscription
	nextID uint64

	queue      []delivery
	delivering bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records publishes and submissions.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithPolicy replaces the category policy. The default is catalog.DefaultPolicy.
func WithPolicy(p catalog.Policy) Option {
	return func(s *Store) { s.policy = p }
}

// New creates a Store in the initial state.
func New(gw model.Gateway, opts ...Option) *Store {
	s := &Store{
		gateway: gw,
		policy:  catalog.DefaultPolicy(),
		logger:  zap.NewNop(),
		state:   model.InitialFormState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- Operations ---

// LoadSchemaCatalog fetches the template catalog. A failure keeps any
// previously loaded catalog and appends a user-facing error.
func (s *Store) LoadSchemaCatalog(ctx context.Context) error {
	s.update("load_catalog_start", func(st *model.FormState) {
		st.IsLoading = true
	})

	templates, err := s.gateway.Schemas(ctx)
	if err != nil {
		s.logger.Warn("loading schema catalog failed", zap.Error(err))
		s.update("load_catalog_failed", func(st *model.FormState) {
			st.IsLoading = false
			st.Errors = appendError(st.Errors, MsgCatalogUnavailable)
		})
		return fmt.Errorf("loading schema catalog: %w", err)
	}

	schemas := make([]model.RequestData, len(templates))
	for i, t := range templates {
		schemas[i] = t.Clone()
	}
	s.update("load_catalog", func(st *model.FormState) {
		st.AvailableSchemas = schemas
		st.SchemasLoaded = true
		st.IsLoading = false
	})
	s.logger.Debug("schema catalog loaded", zap.Int("templates", len(schemas)))
	return nil
}

// SelectTemplate starts a new live document from the template the category
// maps to, discarding any document in progress. An empty category is a no-op.
func (s *Store) SelectTemplate(productType string) error {
	if productType == "" {
		return nil
	}

	var selectErr error
	s.update("select_template", func(st *model.FormState) {
		schemaID, ok := s.policy.SchemaID(productType)
		var tmpl model.RequestData
		if ok {
			tmpl, ok = catalog.Find(st.AvailableSchemas, schemaID)
		}
		if !ok {
			env := model.NewSchemaUnavailableError(productType)
			st.Errors = appendError(st.Errors, env.Message)
			selectErr = fmt.Errorf("%w: %w", ErrSchemaUnavailable, env)
			return
		}

		doc := tmpl.Clone()
		st.FormData = model.FormData{RequestData: &doc}
	})

	if selectErr != nil {
		s.logger.Warn("template not available", zap.String("product_type", productType))
	}
	return selectErr
}

// ApplySectionEdits replaces the values of the named section's fields that
// have a non-nil entry in edits. Other fields and sections are untouched.
func (s *Store) ApplySectionEdits(sectionID string, edits map[string]any) {
	if edits == nil {
		return
	}

	s.mu.Lock()
	doc := s.state.FormData.RequestData
	s.mu.Unlock()
	if doc == nil {
		s.logger.Warn("section edits ignored: no live document", zap.String("section_id", sectionID))
		return
	}

	s.updateIf("apply_section_edits", func(st *model.FormState) bool {
		if st.FormData.RequestData == nil {
			return false
		}
		next, changed := applyEdits(*st.FormData.RequestData, sectionID, edits, s.logger)
		if changed {
			st.FormData = model.FormData{RequestData: &next}
		}
		return changed
	})
}

// applyEdits returns a copy of doc with the edits applied to one section.
// Only the touched section and its field slice are copied; everything else
// is shared with doc, which stays unmodified.
func applyEdits(doc model.RequestData, sectionID string, edits map[string]any, logger *zap.Logger) (model.RequestData, bool) {
	idx := -1
	for i, sec := range doc.Sections {
		if sec.ID == sectionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return doc, false
	}

	section := doc.Sections[idx]
	fields := make([]model.Field, len(section.Fields))
	copy(fields, section.Fields)

	changed := false
	for i, f := range fields {
		raw, ok := edits[f.Key()]
		if !ok || raw == nil {
			continue
		}
		v, err := f.Type.Coerce(raw)
		if err != nil {
			logger.Warn("section edit skipped",
				zap.String("section_id", sectionID),
				zap.String("field_id", f.Key()),
				zap.Error(err),
			)
			continue
		}
		fields[i].Value = v
		changed = true
	}
	if !changed {
		return doc, false
	}

	sections := make([]model.Section, len(doc.Sections))
	copy(sections, doc.Sections)
	sections[idx] = model.Section{ID: section.ID, Title: section.Title, Fields: fields}

	return model.RequestData{ID: doc.ID, Title: doc.Title, Sections: sections}, true
}

// SubmitDocument sends the live document to the backend. Errors left over
// from earlier attempts are cleared first.
func (s *Store) SubmitDocument(ctx context.Context) (_ model.SubmissionReceipt, err error) {
	s.mu.Lock()
	doc := s.state.FormData.RequestData
	s.mu.Unlock()

	if doc == nil {
		s.update("submit_no_document", func(st *model.FormState) {
			st.IsLoading = false
			st.Errors = appendError(st.Errors, model.NewNoDocumentError().Message)
		})
		s.metrics.RecordSubmission("no_document")
		return model.SubmissionReceipt{}, fmt.Errorf("%w: %w", ErrNoDocument, model.NewNoDocumentError())
	}

	ctx, span := observability.StartSpan(ctx, "store.submit", observability.AttrSchemaID.String(doc.ID))
	defer func() { observability.EndSpanWithError(span, err) }()

	s.update("submit_start", func(st *model.FormState) {
		st.IsLoading = true
		st.Errors = []string{}
	})

	payload := doc.Clone()
	receipt, err := s.gateway.Submit(ctx, model.FormData{RequestData: &payload})
	if err != nil {
		msg, outcome := MsgSubmitFailed, "server_error"
		if model.IsConnectivity(err) {
			msg, outcome = MsgNetworkError, "network_error"
		}
		s.logger.Error("submitting document failed",
			zap.String("request_id", doc.ID),
			zap.Int("status", model.StatusOf(err)),
			zap.Error(err),
		)
		s.update("submit_failed", func(st *model.FormState) {
			st.IsLoading = false
			st.Errors = appendError(st.Errors, msg)
		})
		s.metrics.RecordSubmission(outcome)
		return model.SubmissionReceipt{}, fmt.Errorf("submitting document: %w", err)
	}

	s.update("submit", func(st *model.FormState) {
		st.IsCompleted = true
		st.IsLoading = false
	})
	s.metrics.RecordSubmission("success")
	s.logger.Info("document submitted", zap.String("request_id", doc.ID), zap.Int("submission_id", receipt.ID))
	return receipt, nil
}

// ResetAll returns the store to the initial snapshot, discarding the catalog.
func (s *Store) ResetAll() {
	s.update("reset", func(st *model.FormState) {
		*st = model.InitialFormState()
	})
}

// --- Accessors ---

// Snapshot returns the current snapshot. Callers must not modify it.
func (s *Store) Snapshot() model.FormState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AvailableSchemas returns the loaded templates.
func (s *Store) AvailableSchemas() []model.RequestData {
	return s.Snapshot().AvailableSchemas
}

// SchemasLoaded reports whether a catalog load has succeeded.
func (s *Store) SchemasLoaded() bool {
	return s.Snapshot().SchemasLoaded
}

// Document returns a deep copy of the live document, or nil.
func (s *Store) Document() *model.RequestData {
	doc := s.Snapshot().FormData.RequestData
	if doc == nil {
		return nil
	}
	c := doc.Clone()
	return &c
}

// CompleteFormData returns the form data when a live document exists.
func (s *Store) CompleteFormData() (model.FormData, bool) {
	doc := s.Document()
	if doc == nil {
		return model.FormData{}, false
	}
	return model.FormData{RequestData: doc}, true
}

// SetLoading publishes a new loading flag.
func (s *Store) SetLoading(loading bool) {
	s.update("set_loading", func(st *model.FormState) { st.IsLoading = loading })
}

// AddError appends a user-facing error.
func (s *Store) AddError(msg string) {
	s.update("add_error", func(st *model.FormState) { st.Errors = appendError(st.Errors, msg) })
}

// ClearErrors removes every error.
func (s *Store) ClearErrors() {
	s.update("clear_errors", func(st *model.FormState) { st.Errors = []string{} })
}

// SetCompleted publishes a new completion flag.
func (s *Store) SetCompleted(completed bool) {
	s.update("set_completed", func(st *model.FormState) { st.IsCompleted = completed })
}

// appendError returns a new slice so earlier snapshots keep their own errors.
func appendError(errs []string, msg string) []string {
	out := make([]string, len(errs), len(errs)+1)
	copy(out, errs)
	return append(out, msg)
}

// update derives the next snapshot from a shallow copy of the current one and
// publishes it. Mutators must replace slices and the document, never modify
// them in place.
func (s *Store) update(operation string, mutate func(*model.FormState)) {
	s.updateIf(operation, func(st *model.FormState) bool {
		mutate(st)
		return true
	})
}

// updateIf publishes only when mutate reports a change.
func (s *Store) updateIf(operation string, mutate func(*model.FormState) bool) {
	s.mu.Lock()
	next := s.state
	if !mutate(&next) {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.enqueue(delivery{state: next, targets: s.activeLocked()})
	s.mu.Unlock()

	s.metrics.RecordStorePublish(operation)
	s.drain()
}
