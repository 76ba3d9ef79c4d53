package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { _ = SetLevel("info") })

	require.NoError(t, SetLevel("DEBUG"))
	assert.True(t, Enabled(zapcore.DebugLevel))

	require.NoError(t, SetLevel("warn"))
	assert.False(t, Enabled(zapcore.InfoLevel))

	assert.Error(t, SetLevel("chatty"))
	assert.False(t, Enabled(zapcore.InfoLevel), "invalid level must not change the current one")
}

func TestWithContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := Replace(zap.New(core))
	defer restore()

	t.Run("without span", func(t *testing.T) {
		WithContext(context.Background()).Info("plain")
		entry := logs.TakeAll()
		require.Len(t, entry, 1)
		assert.NotContains(t, entry[0].ContextMap(), "trace_id")
	})

	t.Run("with recording span", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		defer func() { _ = tp.Shutdown(context.Background()) }()

		ctx, span := tp.Tracer("devbar-test").Start(context.Background(), "request")
		defer span.End()

		WithContext(ctx).Info("traced")
		entry := logs.TakeAll()
		require.Len(t, entry, 1)
		fields := entry[0].ContextMap()
		assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"])
		assert.Equal(t, span.SpanContext().SpanID().String(), fields["span_id"])
	})
}
