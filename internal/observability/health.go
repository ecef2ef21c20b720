package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessChecks holds the dependency checkers for the readiness endpoint.
type ReadinessChecks struct {
	// Required checks, always run.
	CatalogLoaded  func() bool
	ContractLoaded func() bool

	// Optional, only run if non-nil.
	Repository HealthChecker
}

const checkTimeout = 2 * time.Second

// HandleHealth returns an HTTP handler for the liveness endpoint.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: Version, Commit: Commit})
	}
}

// probe is one named readiness check. A nil error means ready.
type probe struct {
	name  string
	check func(context.Context) error
}

func (c ReadinessChecks) probes() []probe {
	ps := []probe{
		{"catalog", flag(c.CatalogLoaded, "no request templates loaded")},
		{"contract", flag(c.ContractLoaded, "API contract not loaded")},
	}
	if c.Repository != nil {
		ps = append(ps, probe{"repository", c.Repository.HealthCheck})
	}
	return ps
}

func flag(loaded func() bool, failure string) func(context.Context) error {
	return func(context.Context) error {
		if loaded == nil || !loaded() {
			return errors.New(failure)
		}
		return nil
	}
}

// HandleReady returns an HTTP handler for the readiness endpoint. Probes
// run concurrently, each bounded by checkTimeout; any failure answers 503.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		probes := checks.probes()
		results := make([]CheckResult, len(probes))

		var wg sync.WaitGroup
		for i, p := range probes {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = run(r.Context(), p.check)
			}()
		}
		wg.Wait()

		resp := ReadinessResponse{Status: "ready", Checks: make(map[string]CheckResult, len(probes))}
		status := http.StatusOK
		for i, p := range probes {
			resp.Checks[p.name] = results[i]
			if results[i].Status != "ok" {
				resp.Status, status = "not_ready", http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, resp)
	}
}

func run(parent context.Context, check func(context.Context) error) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status, res.Error = "error", err.Error()
	}
	return res
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
