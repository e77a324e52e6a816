package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracing_Disabled(t *testing.T) {
	tp, err := InitTracing(context.Background(), TracingConfig{ServiceName: "quickkv"})
	require.NoError(t, err)

	assert.Nil(t, tp.Provider())
	assert.NotNil(t, tp.Tracer())
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestNewProvider_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := NewProvider(recorder, 1.0)
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer().Start(context.Background(), "collection.set")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "collection.set", ended[0].Name())
}

func TestNewProvider_NeverSample(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := NewProvider(recorder, 0)
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer().Start(context.Background(), "collection.get")
	span.End()

	assert.Empty(t, recorder.Ended())
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{1.0, sdktrace.ParentBased(sdktrace.AlwaysSample()).Description()},
		{2.0, sdktrace.ParentBased(sdktrace.AlwaysSample()).Description()},
		{0, sdktrace.ParentBased(sdktrace.NeverSample()).Description()},
		{0.25, sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25)).Description()},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Sampler(tt.ratio).Description(), "ratio %v", tt.ratio)
	}
}
