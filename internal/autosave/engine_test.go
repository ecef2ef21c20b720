package autosave

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/intake/internal/observability"
	"github.com/pitabwire/intake/internal/schedule"
	"github.com/pitabwire/intake/model"
)

var epoch = time.Date(2025, 10, 18, 11, 20, 0, 0, time.UTC)

type saveCall struct {
	requestID string
	fieldID   string
	answer    model.Value
}

// scriptedSaver answers calls from a queue of results and succeeds once the
// queue is empty.
type scriptedSaver struct {
	mu      sync.Mutex
	results []error
	calls   []saveCall
	reject  bool
}

func (s *scriptedSaver) UpdateAnswer(_ context.Context, requestID, fieldID string, answer model.Value) (model.AnswerUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, saveCall{requestID, fieldID, answer})

	if len(s.results) > 0 {
		err := s.results[0]
		s.results = s.results[1:]
		if err != nil {
			return model.AnswerUpdate{}, err
		}
	}
	if s.reject {
		return model.AnswerUpdate{Success: false, Message: "not stored"}, nil
	}
	return model.AnswerUpdate{Success: true, Message: "Answer updated successfully"}, nil
}

func (s *scriptedSaver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func syncDispatch(fn func()) { fn() }

type harness struct {
	clock  *schedule.Manual
	saver  *scriptedSaver
	engine *Engine
	states []model.SaveState
}

func newHarness(t *testing.T, cfg model.AutoSaveConfig, opts ...Option) *harness {
	t.Helper()
	h := &harness{clock: schedule.NewManual(epoch), saver: &scriptedSaver{}}
	base := []Option{
		WithScheduler(h.clock),
		WithDispatcher(syncDispatch),
		WithListener(func(st model.SaveState) { h.states = append(h.states, st) }),
	}
	h.engine = New(h.saver, "1", cfg, append(base, opts...)...)
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) messages() []string {
	out := make([]string, len(h.states))
	for i, st := range h.states {
		out[i] = string(st.Status) + ":" + st.Message
	}
	return out
}

func serverError() error { return model.NewStatusError(500, "", "Internal Server Error") }

func TestEngine_debounces_edits(t *testing.T) {
	h := newHarness(t, model.DefaultAutoSaveConfig())

	h.engine.Notify(map[string]model.Value{"itemName": model.TextValue("A")})
	h.clock.Advance(1500 * time.Millisecond)
	h.engine.Notify(map[string]model.Value{"itemName": model.TextValue("Ad")})
	h.clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, 0, h.saver.callCount(), "save must wait for a quiet debounce window")

	h.clock.Advance(500 * time.Millisecond)
	require.Equal(t, 1, h.saver.callCount())
	assert.Equal(t, saveCall{"1", "itemName", model.TextValue("Ad")}, h.saver.calls[0])
}

func TestEngine_saves_only_changed_fields(t *testing.T) {
	h := newHarness(t, model.DefaultAutoSaveConfig(), WithInitial(map[string]model.Value{
		"itemName": model.TextValue("Adobe"),
		"quantity": model.NumberValue("3"),
	}))

	h.engine.Notify(map[string]model.Value{
		"itemName": model.TextValue("Adobe"),
		"quantity": model.NumberValue("4"),
	})
	h.clock.Advance(2 * time.Second)

	require.Equal(t, 1, h.saver.callCount())
	assert.Equal(t, "quantity", h.saver.calls[0].fieldID)

	h.engine.Notify(map[string]model.Value{"quantity": model.NumberValue("4")})
	h.clock.Advance(2 * time.Second)
	assert.Equal(t, 1, h.saver.callCount(), "an acknowledged value is not saved again")
}

func TestEngine_one_request_per_field(t *testing.T) {
	h := newHarness(t, model.DefaultAutoSaveConfig())

	h.engine.Notify(map[string]model.Value{
		"vendorName":     model.TextValue("Adobe Inc"),
		"vendorLocation": model.ChoiceValue("USA"),
	})
	h.clock.Advance(2 * time.Second)

	require.Equal(t, 2, h.saver.callCount())
	assert.Equal(t, "vendorLocation", h.saver.calls[0].fieldID)
	assert.Equal(t, "vendorName", h.saver.calls[1].fieldID)
}

func TestEngine_saved_then_idle(t *testing.T) {
	h := newHarness(t, model.DefaultAutoSaveConfig())

	h.engine.Notify(map[string]model.Value{"itemName": model.TextValue("Dell")})
	h.clock.Advance(2 * time.Second)

	st := h.engine.State()
	assert.Equal(t, model.SaveSaved, st.Status)
	assert.Equal(t, MsgSaved, st.Message)
	assert.Equal(t, epoch.Add(2*time.Second), st.LastSaved)

	h.clock.Advance(2999 * time.Millisecond)
	assert.Equal(t, model.SaveSaved, h.engine.State().Status)

	h.clock.Advance(time.Millisecond)
	assert.Equal(t, model.SaveIdle, h.engine.State().Status)
	assert.Equal(t, []string{"saving:Saving...", "saved:Saved", "idle:"}, h.messages())
}

func TestEngine_idle_transition_skipped_after_newer_state(t *testing.T) {
	h := newHarness(t, model.DefaultAutoSaveConfig())

	h.engine.Notify(map[string]model.Value{"itemName": model.TextValue("a")})
	h.clock.Advance(2 * time.Second)
	require.Equal(t, model.SaveSaved, h.engine.State().Status)

	h.saver.results = []error{serverError()}
	h.engine.Notify(map[string]model.Value{"itemName": model.TextValue("ab")})
	h.clock.Advance(2 * time.Second)
	require.Equal(t, model.SaveError, h.engine.State().Status)

	// The idle timer of the first save and the retry both fall due at 5s.
	h.clock.Advance(time.Second)
	assert.Equal(t, []string{
		"saving:Saving...",
		"saved:Saved",
		"saving:Saving...",
		"error:Retrying (1/2)...",
		"saving:Saving...",
		"saved:Saved",
	}, h.messages(), "the stale idle timer must not clobber newer states")
}

func TestEngine_retries_then_gives_up(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.InitMetrics(reg)
	h := newHarness(t, model.DefaultAutoSaveConfig(), WithMetrics(m))
	h.saver.results = []error{serverError(), serverError(), serverError()}

	h.engine.Notify(map[string]model.Value{"itemName": model.TextValue("x")})
	h.clock.Advance(2 * time.Second)
	assert.Equal(t, RetryingMessage(1, 2), h.engine.State().Message)

	h.clock.Advance(time.Second)
	assert.Equal(t, 2, h.saver.callCount())
	assert.Equal(t, RetryingMessage(2, 2), h.engine.State().Message)

	h.clock.Advance(1999 * time.Millisecond)
	assert.Equal(t, 2, h.saver.callCount(), "second retry waits 2s")
	h.clock.Advance(time.Millisecond)
	assert.Equal(t, 3, h.saver.callCount())

	st := h.engine.State()
	assert.Equal(t, model.SaveError, st.Status)
	assert.Equal(t, MsgFailed, st.Message)

	h.clock.Advance(time.Minute)
	assert.Equal(t, 3, h.saver.callCount(), "no retry after the terminal state")
	assert.Equal(t, []string{
		"saving:Saving...",
		"error:Retrying (1/2)...",
		"saving:Saving...",
		"error:Retrying (2/2)...",
		"saving:Saving...",
		"error:Auto-save failed. Changes may be lost.",
	}, h.messages())

	assert.Equal(t, float64(2), testutil.ToFloat64(m.AutoSaveRetriesTotal))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.AutoSaveAttemptsTotal.WithLabelValues("failed")))
}

func TestEngine_success_on_first_retry(t *testing.T) {
	h := newHarness(t, model.DefaultAutoSaveConfig())
	h.saver.results = []error{serverError()}

	h.engine.Notify(map[string]model.Value{"itemName": model.TextValue("x")})
	h.clock.Advance(2 * time.Second)
	h.clock.Advance(time.Second)

	assert.Equal(t, 2, h.saver.callCount())
	assert.Equal(t, model.SaveSaved, h.engine.State().Status)

	h.clock.Advance(3 * time.Second)
	assert.Equal(t, model.SaveIdle, h.engine.State().Status)
	h.clock.Advance(time.Minute)
	assert.Equal(t, 2, h.saver.callCount(), "no further retries after success")
}

func TestEngine_permanent_errors_are_not_retried(t *testing.T) {
	for _, status := range []int{400, 404} {
		h := newHarness(t, model.DefaultAutoSaveConfig())
		h.saver.results = []error{model.NewStatusError(status, "", "")}

		h.engine.Notify(map[string]model.Value{"itemName": model.TextValue("x")})
		h.clock.Advance(time.Minute)

		assert.Equal(t, 1, h.saver.callCount(), "status %d", status)
		assert.Equal(t, MsgFailed, h.engine.State().Message, "status %d", status)
	}
}

func TestEngine_connectivity_and_unsuccessful_responses_retry(t *testing.T) {
	h := newHarness(t, model.DefaultAutoSaveConfig())
	h.saver.results = []error{model.NewBackendUnavailableError()}
	h.engine.Notify(map[string]model.Value{"itemName": model.TextValue("x")})
	h.clock.Advance(2 * time.Second)
	assert.Equal(t, RetryingMessage(1, 2), h.engine.State().Message)

	h2 := newHarness(t, model.DefaultAutoSaveConfig())
	h2.saver.reject = true
	h2.engine.Notify(map[string]model.Value{"itemName": model.TextValue("x")})
	h2.clock.Advance(2 * time.Second)
	assert.Equal(t, RetryingMessage(1, 2), h2.engine.State().Message)
}

func TestEngine_retry_counter_resets_per_batch(t *testing.T) {
	h := newHarness(t, model.DefaultAutoSaveConfig())
	h.saver.results = []error{serverError(), nil}

	h.engine.Notify(map[string]model.Value{"itemName": model.TextValue("a")})
	h.clock.Advance(3 * time.Second)
	require.Equal(t, model.SaveSaved, h.engine.State().Status)

	h.saver.results = []error{serverError()}
	h.engine.Notify(map[string]model.Value{"itemName": model.TextValue("b")})
	h.clock.Advance(2 * time.Second)
	assert.Equal(t, RetryingMessage(1, 2), h.engine.State().Message)
}

func TestEngine_inactive(t *testing.T) {
	disabled := model.DefaultAutoSaveConfig()
	disabled.Enabled = false

	h := newHarness(t, disabled)
	h.engine.Notify(map[string]model.Value{"itemName": model.TextValue("x")})
	h.engine.Flush()
	h.clock.Advance(time.Minute)
	assert.Equal(t, 0, h.saver.callCount())
	assert.False(t, h.engine.Active())

	saver := &scriptedSaver{}
	clock := schedule.NewManual(epoch)
	e := New(saver, "", model.DefaultAutoSaveConfig(), WithScheduler(clock), WithDispatcher(syncDispatch))
	e.Notify(map[string]model.Value{"itemName": model.TextValue("x")})
	clock.Advance(time.Minute)
	assert.Equal(t, 0, saver.callCount(), "no request id means no saves")
	assert.Equal(t, model.SaveIdle, e.State().Status)
}

func TestEngine_Flush(t *testing.T) {
	h := newHarness(t, model.DefaultAutoSaveConfig())
	h.engine.Notify(map[string]model.Value{"itemName": model.TextValue("x")})

	h.engine.Flush()
	assert.Equal(t, 1, h.saver.callCount())

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.saver.callCount(), "the debounce timer was cancelled by Flush")
}

func TestEngine_Close_cancels_pending_work(t *testing.T) {
	h := newHarness(t, model.DefaultAutoSaveConfig())
	h.engine.Notify(map[string]model.Value{"itemName": model.TextValue("x")})
	h.engine.Close()

	h.clock.Advance(time.Minute)
	assert.Equal(t, 0, h.saver.callCount())
	assert.Equal(t, 0, h.clock.Pending())

	h2 := newHarness(t, model.DefaultAutoSaveConfig())
	h2.saver.results = []error{serverError()}
	h2.engine.Notify(map[string]model.Value{"itemName": model.TextValue("x")})
	h2.clock.Advance(2 * time.Second)
	h2.engine.Close()
	h2.clock.Advance(time.Minute)
	assert.Equal(t, 1, h2.saver.callCount(), "a pending retry is dropped on Close")
}

func TestEngine_completion_after_Close_is_ignored(t *testing.T) {
	var pending []func()
	clock := schedule.NewManual(epoch)
	saver := &scriptedSaver{}
	var states []model.SaveState
	e := New(saver, "1", model.DefaultAutoSaveConfig(),
		WithScheduler(clock),
		WithDispatcher(func(fn func()) { pending = append(pending, fn) }),
		WithListener(func(st model.SaveState) { states = append(states, st) }),
	)

	e.Notify(map[string]model.Value{"itemName": model.TextValue("x")})
	clock.Advance(2 * time.Second)
	require.Len(t, pending, 1)

	e.Close()
	pending[0]()

	assert.Equal(t, 1, saver.callCount(), "the in-flight request still completes")
	assert.Equal(t, model.SaveSaving, e.State().Status)
	assert.Len(t, states, 1)
}

func TestEngine_custom_timings(t *testing.T) {
	h := newHarness(t, model.AutoSaveConfig{Enabled: true, DebounceInterval: 100 * time.Millisecond, RetryAttempts: 1},
		WithRetryBackoff(10*time.Millisecond),
		WithSavedDisplay(50*time.Millisecond),
	)
	h.saver.results = []error{serverError()}

	h.engine.Notify(map[string]model.Value{"itemName": model.TextValue("x")})
	h.clock.Advance(100 * time.Millisecond)
	assert.Equal(t, RetryingMessage(1, 1), h.engine.State().Message)

	h.clock.Advance(10 * time.Millisecond)
	assert.Equal(t, model.SaveSaved, h.engine.State().Status)
	h.clock.Advance(50 * time.Millisecond)
	assert.Equal(t, model.SaveIdle, h.engine.State().Status)
}

func TestEngine_default_dispatcher(t *testing.T) {
	saver := &scriptedSaver{}
	done := make(chan model.SaveState, 8)
	e := New(saver, "1", model.AutoSaveConfig{Enabled: true, DebounceInterval: time.Millisecond, RetryAttempts: 0},
		WithListener(func(st model.SaveState) { done <- st }),
	)
	defer e.Close()

	e.Notify(map[string]model.Value{"itemName": model.TextValue("x")})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-done:
			if st.Status == model.SaveSaved {
				return
			}
		case <-deadline:
			t.Fatal("save did not complete on the wall clock")
		}
	}
}
