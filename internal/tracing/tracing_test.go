package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/phrazzld/emplan-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_NoEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in       string
		endpoint string
		insecure bool
	}{
		{in: "http://collector:4318", endpoint: "collector:4318", insecure: true},
		{in: "https://otlp.example.com", endpoint: "otlp.example.com", insecure: false},
		{in: "localhost:4318", endpoint: "localhost:4318", insecure: true},
	}
	for _, tt := range tests {
		endpoint, insecure := parseEndpoint(tt.in)
		assert.Equal(t, tt.endpoint, endpoint, tt.in)
		assert.Equal(t, tt.insecure, insecure, tt.in)
	}
}

func TestSpanHelpers(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer(TracerName).Start(context.Background(), "task.process")
	span.SetAttributes(attribute.String("task_id", "abc"))

	assert.NotEmpty(t, TraceID(ctx))
	SetSpanError(ctx, errors.New("generation failed: timeout"))
	SetSpanError(ctx, nil)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "task.process", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Len(t, ended[0].Events(), 1)

	assert.Empty(t, TraceID(context.Background()))
}
