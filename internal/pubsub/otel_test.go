package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupOTel(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled tracing", func(t *testing.T) {
		tracer, cleanup, err := SetupOTel(ctx, TracingConfig{Enabled: false})
		require.NoError(t, err)
		require.NotNil(t, tracer)
		require.NotNil(t, cleanup)

		_, span := tracer.Start(ctx, "test")
		assert.False(t, span.SpanContext().IsValid(), "no-op tracer should not produce real spans")
		span.End()

		cleanup(ctx)
	})

	t.Run("enabled tracing with unreachable collector", func(t *testing.T) {
		config := TracingConfig{
			Enabled:     true,
			ServiceName: "test-service",
			ZipkinURL:   "http://invalid-url:9411/api/v2/spans",
		}
		tracer, cleanup, err := SetupOTel(ctx, config)
		require.NoError(t, err)
		require.NotNil(t, tracer)

		_, span := tracer.Start(ctx, "test")
		assert.True(t, span.SpanContext().IsValid())

		cleanup(ctx)
	})

	t.Run("malformed collector URL", func(t *testing.T) {
		_, _, err := SetupOTel(ctx, TracingConfig{Enabled: true, ZipkinURL: "://nope"})
		assert.Error(t, err)
	})
}
