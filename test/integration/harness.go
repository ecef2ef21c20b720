// Package integration provides a reusable test harness for end-to-end
// integration testing of the intake wizard. It starts the reference backend
// behind a fault injector and wires the client stack (gateway, store,
// navigator, editing surfaces) against it.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/intake/internal/autosave"
	"github.com/pitabwire/intake/internal/backend"
	"github.com/pitabwire/intake/internal/catalog"
	"github.com/pitabwire/intake/internal/config"
	"github.com/pitabwire/intake/internal/editor"
	"github.com/pitabwire/intake/internal/gateway"
	"github.com/pitabwire/intake/internal/observability"
	"github.com/pitabwire/intake/internal/openapi"
	"github.com/pitabwire/intake/internal/store"
	"github.com/pitabwire/intake/internal/transport"
	"github.com/pitabwire/intake/internal/wizard"
	"github.com/pitabwire/intake/model"
)

// TestHarness encapsulates a running reference backend and the client
// configuration pointing at it.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Repository *backend.MemoryRepository
	Contract   *openapi.Contract
	Faults     *FaultInjector
	Metrics    *observability.Metrics
	Registry   *prometheus.Registry
	Logs       *LogBuffer

	cfg    *config.Config
	logger *zap.Logger
}

// HarnessOption configures the test harness.
type HarnessOption func(*config.Config)

// WithSimulation enables the backend's failure and latency simulation.
func WithSimulation(sim config.SimulationConfig) HarnessOption {
	return func(c *config.Config) {
		c.Simulation = sim
	}
}

// WithCircuitBreaker sets the client gateway's circuit breaker.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *config.Config) {
		c.Backend.CircuitBreaker = cb
	}
}

// WithRetry sets the client gateway's retry policy for reads.
func WithRetry(r config.RetryConfig) HarnessOption {
	return func(c *config.Config) {
		c.Backend.Retry = r
	}
}

// WithBackendTimeout sets the client gateway's per-call timeout.
func WithBackendTimeout(d time.Duration) HarnessOption {
	return func(c *config.Config) {
		c.Backend.Timeout = d
	}
}

// WithAutoSave replaces the auto-save settings of editing surfaces.
func WithAutoSave(a config.AutoSaveConfig) HarnessOption {
	return func(c *config.Config) {
		c.AutoSave = a
	}
}

// NewTestHarness starts the reference backend. The server is cleaned up
// when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	cfg := config.Defaults()
	cfg.AutoSave = config.AutoSaveConfig{
		Enabled:          true,
		DebounceInterval: 20 * time.Millisecond,
		RetryAttempts:    2,
		RetryBackoff:     20 * time.Millisecond,
		SavedDisplay:     50 * time.Millisecond,
	}
	cfg.Backend.Retry = config.RetryConfig{MaxAttempts: 1}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &TestHarness{
		t:        t,
		cfg:      cfg,
		Registry: prometheus.NewRegistry(),
		Logs:     &LogBuffer{},
	}
	h.logger = newBufferLogger(h.Logs)
	h.Metrics = observability.InitMetrics(h.Registry)

	// Step 1: Load the seed catalog and requests.
	seed, err := backend.DefaultSeed()
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	h.Repository = backend.NewMemoryRepository(seed)
	h.Metrics.SetTemplatesLoaded(h.Repository.TemplateCount())

	// Step 2: Load the API contract.
	h.Contract, err = openapi.New("")
	if err != nil {
		t.Fatalf("load contract: %v", err)
	}

	// Step 3: Build the backend service and router.
	svc := backend.NewService(h.Repository,
		backend.WithContract(h.Contract),
		backend.WithSimulator(backend.NewSimulator(cfg.Simulation)),
		backend.WithMetrics(h.Metrics),
		backend.WithLogger(h.logger),
	)
	router := transport.NewRouter(transport.Dependencies{
		Config:   cfg,
		Logger:   h.logger,
		Metrics:  h.Metrics,
		Gatherer: h.Registry,
		Readiness: observability.ReadinessChecks{
			CatalogLoaded:  h.Repository.Loaded,
			ContractLoaded: h.Contract.Loaded,
			Repository:     h.Repository,
		},
		Routes: svc.Routes,
	})

	// Step 4: Put the fault injector in front and start the server.
	h.Faults = newFaultInjector(t, h.Contract, cfg.Server.BasePath, router)
	h.server = httptest.NewServer(h.Faults)
	t.Cleanup(h.server.Close)

	cfg.Backend.BaseURL = h.server.URL + cfg.Server.BasePath
	return h
}

// BaseURL returns the backend base URL the client stack talks to.
func (h *TestHarness) BaseURL() string {
	return h.cfg.Backend.BaseURL
}

// Config returns the configuration shared by backend and client.
func (h *TestHarness) Config() *config.Config {
	return h.cfg
}

// Gateway builds a client gateway for the harness backend.
func (h *TestHarness) Gateway() *gateway.HTTPGateway {
	h.t.Helper()
	gw, err := gateway.NewFromConfig(h.cfg.Backend,
		gateway.WithLogger(h.logger),
		gateway.WithMetrics(h.Metrics),
	)
	if err != nil {
		h.t.Fatalf("build gateway: %v", err)
	}
	return gw
}

// Session is one wizard session against the harness backend.
type Session struct {
	Gateway   *gateway.HTTPGateway
	Store     *store.Store
	Navigator *wizard.Navigator

	h         *TestHarness
	requestID string
}

// NewSession wires a store and navigator. A non-empty requestID enables
// field auto-save into that stored request.
func (h *TestHarness) NewSession(requestID string) *Session {
	h.t.Helper()
	gw := h.Gateway()
	st := store.New(gw,
		store.WithLogger(h.logger),
		store.WithMetrics(h.Metrics),
		store.WithPolicy(catalog.PolicyFromConfig(h.cfg.Catalog)),
	)
	nav := wizard.New(st, wizard.WithLogger(h.logger), wizard.WithRequestID(requestID))
	return &Session{Gateway: gw, Store: st, Navigator: nav, h: h, requestID: requestID}
}

// Surface opens an editing surface for the navigator's current section.
// States reported by the auto-save engine are sent to states when it is
// not nil.
func (s *Session) Surface(ctx context.Context, states chan<- model.SaveState) *editor.Surface {
	s.h.t.Helper()
	section, ok := s.Navigator.Section()
	if !ok {
		s.h.t.Fatalf("no section at step %s", s.Navigator.Current())
	}

	ac := s.h.cfg.AutoSave
	opts := []autosave.Option{
		autosave.WithContext(s.Navigator.Context(ctx)),
		autosave.WithRetryBackoff(ac.RetryBackoff),
		autosave.WithSavedDisplay(ac.SavedDisplay),
		autosave.WithLogger(s.h.logger),
		autosave.WithMetrics(s.h.Metrics),
	}
	if states != nil {
		opts = append(opts, autosave.WithListener(func(st model.SaveState) {
			select {
			case states <- st:
			default:
			}
		}))
	}
	surface := editor.New(section, s.requestID, s.Gateway, ac.Model(), opts...)
	s.h.t.Cleanup(surface.Close)
	return surface
}

// Answer returns the stored answer of a question, or nil.
func (h *TestHarness) Answer(requestID int, questionID string) any {
	h.t.Helper()
	records, err := h.Repository.Requests(context.Background())
	if err != nil {
		h.t.Fatalf("list requests: %v", err)
	}
	for _, r := range records {
		if r.ID != requestID {
			continue
		}
		for _, q := range r.Questions {
			if q.ID == questionID {
				return q.Answer
			}
		}
	}
	return nil
}

// --- HTTP client helpers ---

// GET performs a GET request against the backend server root.
func (h *TestHarness) GET(path string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, nil)
}

// PUT performs a PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any) *http.Response {
	h.t.Helper()
	return h.doRequest("PUT", path, body, nil)
}

// POST performs a POST request with a JSON body.
func (h *TestHarness) POST(path string, body any) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, nil)
}

// Do performs a request with a raw body and additional headers.
func (h *TestHarness) Do(method, path, rawBody string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(method, path, rawBody, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		bodyReader = strings.NewReader(b)
	default:
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertError checks the status and envelope code of an error response.
func (h *TestHarness) AssertError(t *testing.T, resp *http.Response, status int, code string) model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, status, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q", body.Error.Code, code)
	}
	return body.Error
}

// --- Helpers ---

// LogBuffer collects JSON log lines written from many goroutines.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything logged so far.
func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Contains reports whether any log line contains s.
func (b *LogBuffer) Contains(s string) bool {
	return strings.Contains(b.String(), s)
}

func newBufferLogger(w io.Writer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), zapcore.DebugLevel))
}

// waitForState reads states until one matches want or the timeout expires.
func waitForState(t *testing.T, states <-chan model.SaveState, timeout time.Duration, want func(model.SaveState) bool) model.SaveState {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case st := <-states:
			if want(st) {
				return st
			}
		case <-deadline:
			t.Fatalf("timed out after %s waiting for save state", timeout)
			return model.SaveState{}
		}
	}
}

// eventually polls cond until it holds or the timeout expires.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}

// ErrorFixture returns an error document in the backend's envelope format.
func ErrorFixture(code, message string) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
