// Package autosave persists field edits of one section in the background.
// Edits are debounced, changed fields are saved one request per field, and
// failures are retried with a linear backoff before giving up with a warning.
package autosave

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/intake/internal/observability"
	"github.com/pitabwire/intake/internal/schedule"
	"github.com/pitabwire/intake/model"
)

// Status messages reported through SaveState.
const (
	MsgSaving = "Saving..."
	MsgSaved  = "Saved"
	MsgFailed = "Auto-save failed. Changes may be lost."
)

const (
	defaultRetryBackoff = time.Second
	defaultSavedDisplay = 3 * time.Second
)

// RetryingMessage is the status shown while retry n of max is pending.
func RetryingMessage(n, max int) string {
	return fmt.Sprintf("Retrying (%d/%d)...", n, max)
}

// Saver persists a single field answer.
type Saver interface {
	UpdateAnswer(ctx context.Context, requestID, fieldID string, answer model.Value) (model.AnswerUpdate, error)
}

// Dispatcher runs a persistence call. The default starts a goroutine.
type Dispatcher func(func())

// Listener observes every SaveState change.
type Listener func(model.SaveState)

// Engine is the auto-save state machine of one editing surface.
type Engine struct {
	saver     Saver
	requestID string
	cfg       model.AutoSaveConfig
	tasks     *schedule.Group
	dispatch  Dispatcher
	ctx       context.Context
	logger    *zap.Logger
	metrics   *observability.Metrics

	retryBackoff time.Duration
	savedDisplay time.Duration

	mu         sync.Mutex
	state      model.SaveState
	generation uint64
	persisted  map[string]model.Value
	current    map[string]model.Value
	retries    int
	debounce   schedule.Task
	closed     bool

	listenerMu   sync.Mutex
	listener     Listener
	lastNotified uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithScheduler sets the clock used for debounce, retry, and display timers.
func WithScheduler(s schedule.Scheduler) Option {
	return func(e *Engine) { e.tasks = schedule.NewGroup(s) }
}

// WithDispatcher sets how persistence calls are run.
func WithDispatcher(d Dispatcher) Option {
	return func(e *Engine) {
		if d != nil {
			e.dispatch = d
		}
	}
}

// WithListener registers a SaveState observer. It is called outside the
// engine lock, never with an older state than one already delivered.
func WithListener(l Listener) Option {
	return func(e *Engine) { e.listener = l }
}

// WithInitial seeds the last-persisted values, so untouched fields are not saved.
func WithInitial(values map[string]model.Value) Option {
	return func(e *Engine) {
		for k, v := range values {
			e.persisted[k] = v
			e.current[k] = v
		}
	}
}

// WithContext sets the context persistence calls run under.
func WithContext(ctx context.Context) Option {
	return func(e *Engine) {
		if ctx != nil {
			e.ctx = ctx
		}
	}
}

// WithRetryBackoff sets the unit of the linear retry backoff.
func WithRetryBackoff(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryBackoff = d
		}
	}
}

// WithSavedDisplay sets how long the saved status shows before going idle.
func WithSavedDisplay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.savedDisplay = d
		}
	}
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records save attempts and retries.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an engine saving fields of the given request.
func New(saver Saver, requestID string, cfg model.AutoSaveConfig, opts ...Option) *Engine {
	e := &Engine{
		saver:        saver,
		requestID:    requestID,
		cfg:          cfg,
		dispatch:     func(fn func()) { go fn() },
		ctx:          context.Background(),
		logger:       zap.NewNop(),
		retryBackoff: defaultRetryBackoff,
		savedDisplay: defaultSavedDisplay,
		state:        model.SaveState{Status: model.SaveIdle},
		persisted:    make(map[string]model.Value),
		current:      make(map[string]model.Value),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tasks == nil {
		e.tasks = schedule.NewGroup(nil)
	}
	e.logger = e.logger.With(zap.String("request_id", requestID))
	return e
}

// Active reports whether edits are sent to the backend at all.
func (e *Engine) Active() bool {
	return e.cfg.Enabled && e.requestID != "" && e.saver != nil
}

// State returns the current save state.
func (e *Engine) State() model.SaveState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Notify records the latest field values and restarts the debounce window.
func (e *Engine) Notify(values map[string]model.Value) {
	if !e.Active() {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	for k, v := range values {
		e.current[k] = v
	}
	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.debounce = e.tasks.AfterFunc(e.cfg.DebounceInterval, e.flush)
}

// Flush saves pending changes now instead of waiting for the debounce window.
func (e *Engine) Flush() {
	if !e.Active() {
		return
	}
	e.mu.Lock()
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
	e.mu.Unlock()
	e.flush()
}

// Close drops every pending timer. Saves still in flight complete without
// effect.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.debounce = nil
	e.mu.Unlock()

	e.tasks.Close()

	e.listenerMu.Lock()
	e.listener = nil
	e.listenerMu.Unlock()
}

// flush starts one save per field whose value differs from the last
// persisted one.
func (e *Engine) flush() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	changed := e.changedLocked()
	if len(changed) == 0 {
		e.mu.Unlock()
		return
	}

	e.retries = 0
	saves := make([]func(), 0, len(changed))
	var st model.SaveState
	var gen uint64
	for _, fieldID := range changed {
		st, gen = e.setStateLocked(model.SaveSaving, MsgSaving)
		saves = append(saves, e.saveFunc(fieldID, e.current[fieldID], 1))
	}
	e.mu.Unlock()

	e.notify(st, gen)
	for _, save := range saves {
		e.dispatch(save)
	}
}

// changedLocked returns the fields to save, in key order.
func (e *Engine) changedLocked() []string {
	var out []string
	for k, v := range e.current {
		if !model.EqualValues(v, e.persisted[k]) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (e *Engine) saveFunc(fieldID string, value model.Value, attempt int) func() {
	return func() {
		ctx, span := observability.StartSpan(e.ctx, "autosave.save",
			observability.AttrRequestID.String(e.requestID),
			observability.AttrFieldID.String(fieldID),
			observability.AttrAttempt.Int(attempt),
		)
		resp, err := e.saver.UpdateAnswer(ctx, e.requestID, fieldID, value)
		observability.EndSpanWithError(span, err)
		e.complete(fieldID, value, resp, err)
	}
}

func (e *Engine) complete(fieldID string, value model.Value, resp model.AnswerUpdate, err error) {
	if err == nil && !resp.Success {
		err = fmt.Errorf("backend did not accept the answer: %s", resp.Message)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	var st model.SaveState
	var gen uint64
	switch {
	case err == nil:
		e.persisted[fieldID] = value
		st, gen = e.setStateLocked(model.SaveSaved, MsgSaved)
		e.tasks.AfterFunc(e.savedDisplay, func() { e.settle(gen) })
		e.metrics.RecordAutoSaveAttempt("saved")
		e.logger.Debug("field saved", zap.String("field_id", fieldID))

	case model.IsPermanent(err):
		st, gen = e.setStateLocked(model.SaveError, MsgFailed)
		e.metrics.RecordAutoSaveAttempt("rejected")
		e.logger.Warn("field save rejected",
			zap.String("field_id", fieldID),
			zap.Int("status", model.StatusOf(err)),
			zap.Error(err),
		)

	default:
		e.retries++
		e.metrics.RecordAutoSaveAttempt("failed")
		if e.retries <= e.cfg.RetryAttempts {
			n := e.retries
			st, gen = e.setStateLocked(model.SaveError, RetryingMessage(n, e.cfg.RetryAttempts))
			e.tasks.AfterFunc(time.Duration(n)*e.retryBackoff, func() { e.retry(fieldID, value, n+1) })
			e.metrics.RecordAutoSaveRetry()
			e.logger.Info("field save failed, retrying",
				zap.String("field_id", fieldID),
				zap.Int("attempt", n),
				zap.Error(err),
			)
		} else {
			st, gen = e.setStateLocked(model.SaveError, MsgFailed)
			e.logger.Warn("field save failed, giving up",
				zap.String("field_id", fieldID),
				zap.Int("retries", e.cfg.RetryAttempts),
				zap.Error(err),
			)
		}
	}
	e.mu.Unlock()

	e.notify(st, gen)
}

// retry re-issues the same request for a field.
func (e *Engine) retry(fieldID string, value model.Value, attempt int) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	st, gen := e.setStateLocked(model.SaveSaving, MsgSaving)
	e.mu.Unlock()

	e.notify(st, gen)
	e.dispatch(e.saveFunc(fieldID, value, attempt))
}

// settle returns to idle unless the state changed since generation gen.
func (e *Engine) settle(gen uint64) {
	e.mu.Lock()
	if e.closed || e.generation != gen {
		e.mu.Unlock()
		return
	}
	st, next := e.setStateLocked(model.SaveIdle, "")
	e.mu.Unlock()

	e.notify(st, next)
}

// setStateLocked replaces the state and bumps the generation.
func (e *Engine) setStateLocked(status model.SaveStatus, msg string) (model.SaveState, uint64) {
	st := model.SaveState{Status: status, Message: msg, LastSaved: e.state.LastSaved}
	if status == model.SaveSaved {
		st.LastSaved = e.tasks.Now()
	}
	e.state = st
	e.generation++
	return st, e.generation
}

func (e *Engine) notify(st model.SaveState, gen uint64) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	if e.listener == nil || gen <= e.lastNotified {
		return
	}
	e.lastNotified = gen
	e.listener(st)
}
