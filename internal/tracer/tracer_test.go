package tracer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/dyluth/agora/internal/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, ok := otel.GetTracerProvider().(noop.TracerProvider)
	assert.True(t, ok)
}

func TestSetupStdout(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{Enabled: true, Exporter: "stdout"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupUnsupported(t *testing.T) {
	_, err := Setup(context.Background(), config.TracingConfig{Enabled: true, Exporter: "zipkin"})
	assert.Error(t, err)
}

func TestStartSpanAndEnd(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartSpan(context.Background(), "send_message", SessionAttr("s1"), AgentAttr("a1"))
	End(span, errors.New("boom"))

	_, ok := StartSpan(context.Background(), "join_session")
	End(ok, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "send_message", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), SessionAttr("s1"))
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
}
