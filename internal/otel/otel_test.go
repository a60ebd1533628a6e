package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/replyflow/resilience-service/internal/config"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.OtelConfig{Disable: true})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestTracerProvider_EmitsSpan(t *testing.T) {
	ctx := context.Background()

	rec := tracetest.NewSpanRecorder()

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.Empty()),
		sdktrace.WithSpanProcessor(rec),
	)
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	otel.SetTracerProvider(tp)

	tr := otel.Tracer("test")
	_, span := tr.Start(ctx, "hello")
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "hello", ended[0].Name())
}
