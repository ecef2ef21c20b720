package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/intake/internal/config"
	"github.com/pitabwire/intake/model"
)

// setupTestTracer creates an in-memory span exporter and configures a
// TracerProvider that always samples.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestInitTracing_disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{}, "intake-test", "1.0.0")
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInitTracing_stdout(t *testing.T) {
	cfg := config.TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1.0}
	shutdown, err := InitTracing(context.Background(), cfg, "intake-test", "1.0.0")
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInitTracing_unsupportedExporter(t *testing.T) {
	cfg := config.TracingConfig{Enabled: true, Exporter: "zipkin"}
	if _, err := InitTracing(context.Background(), cfg, "intake-test", "1.0.0"); err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}

func TestStartSpan_createsSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, span := StartSpan(context.Background(), "autosave.flush",
		AttrRequestID.String("1"),
		AttrFieldID.String("itemName"),
	)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "autosave.flush" {
		t.Errorf("span name = %q, want autosave.flush", spans[0].Name)
	}

	attrMap := spanAttrMap(spans[0])
	if v := attrMap["intake.request_id"]; v != "1" {
		t.Errorf("intake.request_id = %q, want 1", v)
	}
	if v := attrMap["intake.field_id"]; v != "itemName" {
		t.Errorf("intake.field_id = %q, want itemName", v)
	}
	if trace.SpanFromContext(ctx) != span {
		t.Error("context should carry the created span")
	}
}

func TestStartSpan_sessionAttributes(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := model.WithSessionContext(context.Background(), &model.SessionContext{
		SessionID:     "sess-9",
		CorrelationID: "corr-9",
	})
	_, span := StartSpan(ctx, "store.submit", AttrSchemaID.String("software-request"))
	span.End()

	attrMap := spanAttrMap(exporter.GetSpans()[0])
	want := map[string]string{
		"intake.session_id":     "sess-9",
		"intake.correlation_id": "corr-9",
		"intake.schema_id":      "software-request",
	}
	for k, v := range want {
		if attrMap[k] != v {
			t.Errorf("%s = %q, want %q", k, attrMap[k], v)
		}
	}
}

func TestStartSpan_parentChild(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, parent := StartSpan(context.Background(), "store.submit")
	_, child := StartSpan(ctx, "gateway.createSubmission")
	child.End()
	parent.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].SpanContext.TraceID() != spans[1].SpanContext.TraceID() {
		t.Error("parent and child should share the same trace ID")
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("child parent span ID should match parent span ID")
	}
}

func TestEndSpanWithError_setsErrorStatus(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartSpan(context.Background(), "error.op")
	EndSpanWithError(span, errors.New("something failed"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status code = %v, want Error", spans[0].Status.Code)
	}
	if spans[0].Status.Description != "something failed" {
		t.Errorf("status description = %q, want %q", spans[0].Status.Description, "something failed")
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected at least one event (error recording)")
	}
}

func TestEndSpanWithError_nilError(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartSpan(context.Background(), "ok.op")
	EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("status should not be Error when err is nil")
	}
}

func TestTraceIDFromContext(t *testing.T) {
	setupTestTracer(t)

	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("TraceIDFromContext without span = %q, want empty", got)
	}

	ctx, span := StartSpan(context.Background(), "trace.id.test")
	defer span.End()

	if got, want := TraceIDFromContext(ctx), span.SpanContext().TraceID().String(); got != want {
		t.Errorf("TraceIDFromContext = %q, want %q", got, want)
	}
}

func TestTracingMiddleware_createsServerSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/submissions", nil))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name != "POST /api/submissions" {
		t.Errorf("span name = %q, want POST /api/submissions", s.Name)
	}
	if s.SpanKind != trace.SpanKindServer {
		t.Errorf("span kind = %v, want Server", s.SpanKind)
	}
	attrMap := spanAttrMap(s)
	if v := attrMap["http.request.method"]; v != "POST" {
		t.Errorf("http.request.method = %q, want POST", v)
	}
	if v := attrMap["http.response.status_code"]; v != "201" {
		t.Errorf("http.response.status_code = %q, want 201", v)
	}
}

func TestTracingMiddleware_namesSpanAfterRoute(t *testing.T) {
	exporter := setupTestTracer(t)

	r := chi.NewRouter()
	r.Use(TracingMiddleware)
	r.Put("/api/requests/{requestID}/question/{questionID}", func(w http.ResponseWriter, r *http.Request) {})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/api/requests/7/question/itemName", nil))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if want := "PUT /api/requests/{requestID}/question/{questionID}"; spans[0].Name != want {
		t.Errorf("span name = %q, want %q", spans[0].Name, want)
	}
	if v := spanAttrMap(spans[0])["http.route"]; v != "/api/requests/{requestID}/question/{questionID}" {
		t.Errorf("http.route = %q", v)
	}
}

func TestEndSpanWithError_recordsErrorCode(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartSpan(context.Background(), "gateway.getSchemas")
	EndSpanWithError(span, model.NewStatusError(http.StatusBadGateway, model.ErrBackendUnavailable, "down"))

	if v := spanAttrMap(exporter.GetSpans()[0])["intake.error_code"]; v != model.ErrBackendUnavailable {
		t.Errorf("intake.error_code = %q, want %q", v, model.ErrBackendUnavailable)
	}
}

func TestTracingMiddleware_500_setsErrorStatus(t *testing.T) {
	exporter := setupTestTracer(t)

	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/api/requests/1/question/itemName", nil))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status code = %v, want Error for 502 response", spans[0].Status.Code)
	}
}

func TestTracingMiddleware_extractsTraceparent(t *testing.T) {
	exporter := setupTestTracer(t)

	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	traceID := "0af7651916cd43dd8448eb211c80319c"
	parentSpanID := "b7ad6b7169203331"
	req := httptest.NewRequest(http.MethodGet, "/api/schemas", nil)
	req.Header.Set("Traceparent", "00-"+traceID+"-"+parentSpanID+"-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].SpanContext.TraceID().String(); got != traceID {
		t.Errorf("trace ID = %q, want %q", got, traceID)
	}
	if got := spans[0].Parent.SpanID().String(); got != parentSpanID {
		t.Errorf("parent span ID = %q, want %q", got, parentSpanID)
	}
	if !strings.Contains(rec.Header().Get("Traceparent"), traceID) {
		t.Errorf("response Traceparent = %q, want trace %s", rec.Header().Get("Traceparent"), traceID)
	}
}

func TestInjectTraceHeaders(t *testing.T) {
	setupTestTracer(t)

	ctx, span := StartSpan(context.Background(), "outbound.call")
	defer span.End()

	headers := http.Header{}
	InjectTraceHeaders(ctx, headers)

	if headers.Get("Traceparent") == "" {
		t.Error("InjectTraceHeaders should set Traceparent header")
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "TraceIDRatioBased{0.1}"},
		{0.5, "TraceIDRatioBased{0.5}"},
		{1.0, "AlwaysOnSampler"},
		{2.0, "AlwaysOnSampler"},
	}
	for _, tt := range tests {
		desc := newSampler(config.TracingConfig{SamplingRate: tt.rate}).Description()
		if !strings.HasPrefix(desc, "ParentBased{") || !strings.Contains(desc, tt.want) {
			t.Errorf("newSampler(%v).Description() = %q, want ParentBased with %s", tt.rate, desc, tt.want)
		}
	}
}

// spanAttrMap converts a span's attributes to a map[string]string for easier assertion.
func spanAttrMap(s tracetest.SpanStub) map[string]string {
	m := make(map[string]string)
	for _, a := range s.Attributes {
		m[string(a.Key)] = a.Value.Emit()
	}
	return m
}
