package autosave

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pitabwire/intake/model"
)

func TestEngine_traces_each_attempt(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	h := newHarness(t, model.DefaultAutoSaveConfig())
	h.saver.results = []error{serverError()}

	h.engine.Notify(map[string]model.Value{"itemName": model.TextValue("x")})
	h.clock.Advance(2 * time.Second)
	h.clock.Advance(time.Second)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	var attempts []int64
	for _, s := range spans {
		assert.Equal(t, "autosave.save", s.Name)
		for _, kv := range s.Attributes {
			if kv.Key == "intake.attempt" {
				attempts = append(attempts, kv.Value.AsInt64())
			}
		}
	}
	assert.Equal(t, []int64{1, 2}, attempts)
	assert.Equal(t, "Error", spans[0].Status.Code.String())
	assert.Equal(t, "Unset", spans[1].Status.Code.String())
}
