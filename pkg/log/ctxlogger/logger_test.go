package ctxlogger

import (
	"context"
	"testing"

	"github.com/smallbiznis/backoffice/internal/actorcontext"
	"github.com/smallbiznis/backoffice/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationActorAndTrace(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))
	ctx = correlation.ContextWithCorrelationID(ctx, "cid-1")
	ctx = actorcontext.WithActor(ctx, actorcontext.Actor{Kind: actorcontext.KindClient, ID: 5, ClientID: 9})

	WithContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "cid-1", fields["correlation_id"])
	assert.Equal(t, "client", fields["actor_type"])
	assert.Equal(t, "9", fields["client_id"])
	assert.Equal(t, traceID.String(), fields["trace_id"])
}

func TestWithContextWithoutMetadata(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	WithContext(context.Background(), zap.New(core)).Info("bare")

	require.Equal(t, 1, logs.Len())
	_, ok := logs.All()[0].ContextMap()["correlation_id"]
	assert.False(t, ok)
}
