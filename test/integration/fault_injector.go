package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pitabwire/intake/internal/openapi"
)

// FaultInjector sits in front of the reference backend. Operations without a
// scripted response reach the real handler; scripted ones answer from the
// script. Every request is recorded per operation either way.
type FaultInjector struct {
	t    *testing.T
	next http.Handler
	mux  *http.ServeMux

	mu           sync.RWMutex
	operations   map[string]*operationConfig
	receivedByOp map[string][]*RecordedRequest
}

// RecordedRequest captures the details of a request received by the backend.
type RecordedRequest struct {
	Method     string
	Path       string
	Headers    http.Header
	Body       map[string]any
	ReceivedAt time.Time
}

// operationConfig holds the scripted responses of a single operation.
type operationConfig struct {
	mu        sync.Mutex
	responses []*mockResponse
	current   int
}

type mockResponse struct {
	passThrough bool
	status      int
	body        any
	delay       time.Duration
	connError   bool
}

// OperationMock is a builder for scripting responses of one operation.
type OperationMock struct {
	faults *FaultInjector
	opID   string
}

// newFaultInjector routes every contract operation under basePath through
// the injector before it reaches next.
func newFaultInjector(t *testing.T, contract *openapi.Contract, basePath string, next http.Handler) *FaultInjector {
	t.Helper()

	f := &FaultInjector{
		t:            t,
		next:         next,
		mux:          http.NewServeMux(),
		operations:   make(map[string]*operationConfig),
		receivedByOp: make(map[string][]*RecordedRequest),
	}

	for _, opID := range contract.OperationIDs() {
		op, _ := contract.Operation(opID)
		pattern := op.Method + " " + strings.TrimSuffix(basePath, "/") + op.PathTemplate
		f.mux.HandleFunc(pattern, f.handleOperation(opID))
	}
	f.mux.Handle("/", next)
	return f
}

// ServeHTTP implements http.Handler.
func (f *FaultInjector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mux.ServeHTTP(w, r)
}

// OnOperation returns a builder for scripting responses of the operation.
func (f *FaultInjector) OnOperation(operationID string) *OperationMock {
	return &OperationMock{faults: f, opID: operationID}
}

// RespondWith answers with the given status and body.
func (om *OperationMock) RespondWith(status int, body any) *OperationMock {
	om.faults.addResponse(om.opID, &mockResponse{status: status, body: body})
	return om
}

// RespondWithError answers with an error document.
func (om *OperationMock) RespondWithError(status int, code, message string) *OperationMock {
	return om.RespondWith(status, ErrorFixture(code, message))
}

// RespondWithDelay delays the real backend's answer.
func (om *OperationMock) RespondWithDelay(delay time.Duration) *OperationMock {
	om.faults.addResponse(om.opID, &mockResponse{passThrough: true, delay: delay})
	return om
}

// RespondWithConnectionError closes the connection without answering.
func (om *OperationMock) RespondWithConnectionError() *OperationMock {
	om.faults.addResponse(om.opID, &mockResponse{connError: true})
	return om
}

// PassThrough lets the call reach the real backend.
func (om *OperationMock) PassThrough() *OperationMock {
	om.faults.addResponse(om.opID, &mockResponse{passThrough: true})
	return om
}

func (f *FaultInjector) addResponse(opID string, resp *mockResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.operations[opID]
	if !ok {
		cfg = &operationConfig{}
		f.operations[opID] = cfg
	}
	cfg.responses = append(cfg.responses, resp)
}

func (f *FaultInjector) handleOperation(opID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &RecordedRequest{
			Method:     r.Method,
			Path:       r.URL.Path,
			Headers:    r.Header.Clone(),
			ReceivedAt: time.Now(),
		}
		if r.Body != nil {
			body, _ := io.ReadAll(r.Body)
			r.Body.Close()
			if len(body) > 0 {
				var parsed map[string]any
				if err := json.Unmarshal(body, &parsed); err == nil {
					rec.Body = parsed
				}
			}
			r.Body = io.NopCloser(strings.NewReader(string(body)))
		}

		f.mu.Lock()
		f.receivedByOp[opID] = append(f.receivedByOp[opID], rec)
		f.mu.Unlock()

		resp := f.getNextResponse(opID)
		if resp == nil {
			f.next.ServeHTTP(w, r)
			return
		}

		if resp.connError {
			if hj, ok := w.(http.Hijacker); ok {
				conn, _, _ := hj.Hijack()
				if conn != nil {
					conn.Close()
				}
			}
			return
		}

		if resp.delay > 0 {
			select {
			case <-time.After(resp.delay):
			case <-r.Context().Done():
				return
			}
		}

		if resp.passThrough {
			f.next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		if resp.body != nil {
			json.NewEncoder(w).Encode(resp.body)
		}
	}
}

func (f *FaultInjector) getNextResponse(opID string) *mockResponse {
	f.mu.RLock()
	cfg, ok := f.operations[opID]
	f.mu.RUnlock()
	if !ok || cfg == nil {
		return nil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	if len(cfg.responses) == 0 {
		return nil
	}

	idx := cfg.current
	if idx >= len(cfg.responses) {
		// Repeat the last response for subsequent calls.
		idx = len(cfg.responses) - 1
	} else {
		cfg.current++
	}
	return cfg.responses[idx]
}

// Calls returns how many requests reached the operation.
func (f *FaultInjector) Calls(operationID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.receivedByOp[operationID])
}

// AssertCalled verifies that the operation was called the expected number of times.
func (f *FaultInjector) AssertCalled(t *testing.T, operationID string, expectedCount int) {
	t.Helper()
	if actual := f.Calls(operationID); actual != expectedCount {
		t.Errorf("operation %q called %d times, want %d", operationID, actual, expectedCount)
	}
}

// AssertNotCalled verifies that the operation was never called.
func (f *FaultInjector) AssertNotCalled(t *testing.T, operationID string) {
	t.Helper()
	f.AssertCalled(t, operationID, 0)
}

// LastRequest returns the last request received for the operation, or nil.
func (f *FaultInjector) LastRequest(operationID string) *RecordedRequest {
	f.mu.RLock()
	defer f.mu.RUnlock()
	reqs := f.receivedByOp[operationID]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// AllRequests returns all requests received for the operation.
func (f *FaultInjector) AllRequests(operationID string) []*RecordedRequest {
	f.mu.RLock()
	defer f.mu.RUnlock()
	reqs := f.receivedByOp[operationID]
	copied := make([]*RecordedRequest, len(reqs))
	copy(copied, reqs)
	return copied
}

// ResetOperation clears recorded requests and scripted responses for one operation.
func (f *FaultInjector) ResetOperation(operationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.operations, operationID)
	delete(f.receivedByOp, operationID)
}
