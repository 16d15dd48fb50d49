package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracing_RecordsPublishAndProcessSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	bridge := NewWatermillBridge(WithTracer(tp.Tracer("test")))
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan struct{}, 1)
	require.NoError(t, bridge.Subscribe(ctx, "test.topic", func(ctx context.Context, msg Message) error {
		handled <- struct{}{}
		return nil
	}))

	err := bridge.Publish(ctx, Message{
		Topic:     "test.topic",
		SessionID: "session-1",
		Payload:   []byte("Name1"),
	})
	require.NoError(t, err)

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("message not handled")
	}

	require.Eventually(t, func() bool { return len(recorder.Ended()) >= 2 }, 2*time.Second, 10*time.Millisecond)

	spans := make(map[string]trace.ReadOnlySpan)
	for _, s := range recorder.Ended() {
		spans[s.Name()] = s
	}
	publish, ok := spans["pubsub.publish.test.topic"]
	require.True(t, ok)
	process, ok := spans["pubsub.process.test.topic"]
	require.True(t, ok)

	assert.Equal(t, publish.SpanContext().TraceID(), process.SpanContext().TraceID())
	assert.Equal(t, publish.SpanContext().SpanID(), process.Parent().SpanID())
}

func TestTracing_TraceHeadersStayOffHandlerMetadata(t *testing.T) {
	tp := trace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	bridge := NewWatermillBridge(WithTracer(tp.Tracer("test")))
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Message, 1)
	require.NoError(t, bridge.Subscribe(ctx, "t", func(ctx context.Context, msg Message) error {
		received <- msg
		return nil
	}))
	require.NoError(t, bridge.Publish(ctx, Message{Topic: "t", Metadata: map[string]string{"kind": "x"}}))

	select {
	case msg := <-received:
		assert.Equal(t, map[string]string{"kind": "x"}, msg.Metadata)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestSetupOTel(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled tracing", func(t *testing.T) {
		tracer, cleanup, err := SetupOTel(ctx, TracingConfig{Enabled: false})
		require.NoError(t, err)
		require.NotNil(t, tracer)
		require.NotNil(t, cleanup)

		// Should be a no-op tracer
		_, span := tracer.Start(ctx, "test")
		span.End()
		cleanup()
	})

	t.Run("enabled tracing with unreachable collector", func(t *testing.T) {
		config := DefaultTracingConfig()
		config.Enabled = true
		config.ZipkinURL = "http://invalid-url:9411/api/v2/spans"

		tracer, cleanup, err := SetupOTel(ctx, config)
		require.NoError(t, err)
		require.NotNil(t, tracer)
		assert.NotPanics(t, cleanup)
	})
}
