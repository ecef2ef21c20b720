// Package gateway talks to the intake backend over HTTP. Operations are
// resolved from the intake OpenAPI contract; every call goes through a
// circuit breaker, and read-only calls are retried with exponential backoff.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/intake/internal/config"
	"github.com/pitabwire/intake/internal/observability"
	"github.com/pitabwire/intake/internal/openapi"
	"github.com/pitabwire/intake/model"
)

const maxResponseBytes = 10 << 20

// HTTPGateway implements model.Gateway against the intake REST contract.
type HTTPGateway struct {
	contract *openapi.Contract
	client   *http.Client
	breaker  *CircuitBreaker
	retry    config.RetryConfig
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

var _ model.Gateway = (*HTTPGateway)(nil)

// Option configures an HTTPGateway.
type Option func(*HTTPGateway)

// WithMetrics records call metrics and breaker state.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *HTTPGateway) { g.metrics = m }
}

// WithLogger sets the gateway logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *HTTPGateway) { g.logger = l }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *HTTPGateway) { g.client = c }
}

// WithClock sets the time source used to stamp submissions.
func WithClock(now func() time.Time) Option {
	return func(g *HTTPGateway) { g.now = now }
}

// New creates a gateway resolving operations from contract.
func New(contract *openapi.Contract, cfg config.BackendConfig, opts ...Option) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	g := &HTTPGateway{
		contract: contract,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxConnsPerHost:     10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		breaker: NewCircuitBreaker(
			cfg.CircuitBreaker.FailureThreshold,
			cfg.CircuitBreaker.SuccessThreshold,
			cfg.CircuitBreaker.Timeout,
		),
		retry:  cfg.Retry,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	g.breaker.OnStateChange(func(s BreakerState) {
		g.metrics.SetGatewayCircuitBreakerState(breakerGauge(s))
		if s == BreakerOpen {
			g.logger.Warn("gateway: circuit breaker open")
		}
	})

	return g
}

// NewFromConfig creates a gateway for the intake contract served at
// cfg.BaseURL.
func NewFromConfig(cfg config.BackendConfig, opts ...Option) (*HTTPGateway, error) {
	contract, err := openapi.New(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	return New(contract, cfg, opts...), nil
}

// Breaker exposes the gateway's circuit breaker.
func (g *HTTPGateway) Breaker() *CircuitBreaker { return g.breaker }

// Schemas fetches the template catalog in backend order.
func (g *HTTPGateway) Schemas(ctx context.Context) ([]model.RequestData, error) {
	var out []model.RequestData
	if err := g.call(ctx, openapi.OpGetSchemas, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Requests fetches the persisted request records.
func (g *HTTPGateway) Requests(ctx context.Context) ([]model.RequestRecord, error) {
	var out []model.RequestRecord
	if err := g.call(ctx, openapi.OpListRequests, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateAnswer persists one field answer.
func (g *HTTPGateway) UpdateAnswer(ctx context.Context, requestID, fieldID string, answer model.Value) (model.AnswerUpdate, error) {
	body := model.AnswerRequest{}
	if answer != nil {
		body.Answer = answer.Raw()
	}

	ctx, span := observability.StartSpan(ctx, "gateway.updateAnswer",
		observability.AttrRequestID.String(requestID),
		observability.AttrFieldID.String(fieldID),
	)

	var out model.AnswerUpdate
	err := g.call(ctx, openapi.OpUpdateQuestionAnswer, map[string]string{
		"requestId":  requestID,
		"questionId": fieldID,
	}, body, &out)
	observability.EndSpanWithError(span, err)
	if err != nil {
		return model.AnswerUpdate{}, err
	}
	return out, nil
}

// Submit sends the complete document. The payload is stamped with the
// submission time, and fields the backend leaves out of its
// acknowledgement are filled in.
func (g *HTTPGateway) Submit(ctx context.Context, data model.FormData) (model.SubmissionReceipt, error) {
	if data.RequestData == nil {
		return model.SubmissionReceipt{}, model.NewNoDocumentError()
	}

	payload := model.Submission{
		RequestData: data.RequestData,
		SubmittedAt: g.now().UTC(),
		Success:     true,
		Message:     model.SubmissionMessage,
	}

	var receipt model.SubmissionReceipt
	if err := g.call(ctx, openapi.OpCreateSubmission, nil, payload, &receipt); err != nil {
		return model.SubmissionReceipt{}, err
	}

	if !receipt.Success {
		receipt.Success = true
	}
	if receipt.Message == "" {
		receipt.Message = model.SubmissionMessage
	}
	if receipt.SubmittedAt.IsZero() {
		receipt.SubmittedAt = g.now().UTC()
	}
	return receipt, nil
}

// call resolves operationID, sends body as JSON, and decodes a successful
// response into out.
func (g *HTTPGateway) call(ctx context.Context, operationID string, params map[string]string, body, out any) error {
	op, ok := g.contract.Operation(operationID)
	if !ok {
		return fmt.Errorf("gateway: operation %s not found in contract", operationID)
	}

	ctx, span := observability.StartSpan(ctx, "gateway."+operationID,
		observability.AttrOperationID.String(operationID),
	)

	var bodyBytes []byte
	if body != nil {
		var err error
		if bodyBytes, err = json.Marshal(body); err != nil {
			observability.EndSpanWithError(span, err)
			return fmt.Errorf("gateway: marshal %s body: %w", operationID, err)
		}
	}

	headers := g.buildHeaders(ctx, op.Method)
	respBody, err := g.executeWithRetry(ctx, op, op.URL(params), headers, bodyBytes)
	if err == nil && out != nil && len(respBody) > 0 {
		if derr := json.Unmarshal(respBody, out); derr != nil {
			err = fmt.Errorf("gateway: decode %s response: %w", operationID, derr)
		}
	}
	observability.EndSpanWithError(span, err)
	return err
}

// executeWithRetry retries read-only calls on connectivity failures and
// retryable statuses.
func (g *HTTPGateway) executeWithRetry(
	ctx context.Context,
	op openapi.Operation,
	reqURL string,
	headers http.Header,
	bodyBytes []byte,
) ([]byte, error) {
	maxAttempts := 1
	if isSafeMethod(op.Method) && g.retry.MaxAttempts > 1 {
		maxAttempts = g.retry.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			g.metrics.RecordGatewayRetry(op.ID)
			delay := calculateBackoff(g.retry, attempt)
			g.logger.Debug("gateway: retrying",
				zap.String("operation_id", op.ID),
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, model.NewBackendTimeoutError()
			case <-time.After(delay):
			}
		}

		respBody, err := g.executeOnce(ctx, op, reqURL, headers, bodyBytes)
		if err == nil {
			return respBody, nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

// executeOnce performs a single HTTP request with circuit breaker protection.
func (g *HTTPGateway) executeOnce(
	ctx context.Context,
	op openapi.Operation,
	reqURL string,
	headers http.Header,
	bodyBytes []byte,
) ([]byte, error) {
	if err := g.breaker.Allow(); err != nil {
		return nil, fmt.Errorf("%w: %w", err, model.NewBackendUnavailableError())
	}

	var body io.Reader
	if bodyBytes != nil {
		body = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, op.Method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header = headers.Clone()

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.breaker.RecordFailure()
		g.metrics.RecordGatewayRequest(op.ID, 0, time.Since(start))
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	g.metrics.RecordGatewayRequest(op.ID, resp.StatusCode, time.Since(start))
	if err != nil {
		g.breaker.RecordFailure()
		return nil, transportError(ctx, err)
	}

	// 4xx are answers from a healthy backend, not infrastructure failures.
	switch {
	case resp.StatusCode >= 500:
		g.breaker.RecordFailure()
	case resp.StatusCode < 400:
		g.breaker.RecordSuccess()
	}

	if resp.StatusCode >= 400 {
		err := decodeError(resp.StatusCode, respBody)
		g.logger.Debug("gateway: backend rejected call",
			zap.String("operation_id", op.ID),
			zap.Int("status", resp.StatusCode),
			zap.String("code", err.Code),
		)
		return nil, err
	}
	return respBody, nil
}

// buildHeaders sets content negotiation, correlation, and trace headers.
func (g *HTTPGateway) buildHeaders(ctx context.Context, method string) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		h.Set("Content-Type", "application/json")
	}

	correlationID := ""
	if sctx := model.SessionContextFrom(ctx); sctx != nil {
		correlationID = sanitizeHeader(sctx.CorrelationID)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	h.Set("X-Correlation-Id", correlationID)

	observability.InjectTraceHeaders(ctx, h)
	return h
}

// errorBody is the error document the backend returns with 4xx/5xx.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(status int, body []byte) *model.ErrorEnvelope {
	var eb errorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil {
		return model.NewStatusError(status, eb.Error.Code, eb.Error.Message)
	}
	return model.NewStatusError(status, "", "")
}

// transportError classifies a failure that produced no HTTP response. All of
// them carry status 0.
func transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return model.NewBackendTimeoutError()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewBackendTimeoutError()
	}
	return model.NewBackendUnavailableError()
}

func breakerGauge(s BreakerState) float64 {
	switch s {
	case BreakerHalfOpen:
		return 1
	case BreakerOpen:
		return 2
	}
	return 0
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "")
}
