package pubsub

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// payloadPreviewLen is how much of a payload is attached to spans.
const payloadPreviewLen = 100

// propagator carries the publish span across the bus in message metadata. The
// in-memory channel copies messages without their context.
var propagator propagation.TextMapPropagator = propagation.TraceContext{}

// isTraceField reports whether a metadata key belongs to the propagator.
func isTraceField(key string) bool {
	for _, f := range propagator.Fields() {
		if f == key {
			return true
		}
	}
	return false
}

// extractTraceContext returns the message context with the publisher's span as
// remote parent.
func extractTraceContext(wmMsg *message.Message) context.Context {
	return propagator.Extract(wmMsg.Context(), propagation.MapCarrier(wmMsg.Metadata))
}

func payloadPreview(payload []byte) string {
	preview := string(payload)
	if len(preview) > payloadPreviewLen {
		preview = preview[:payloadPreviewLen] + "..."
	}
	return preview
}

// tracedHandler wraps a Handler with a processing span, providing visibility into
// how long each relay step takes on the subscriber side.
func tracedHandler(tracer trace.Tracer, topic string, h Handler) func(context.Context, string, Message) error {
	return func(ctx context.Context, msgID string, msg Message) error {
		if ctx == nil {
			ctx = context.Background()
		}

		spanCtx, span := tracer.Start(ctx, fmt.Sprintf("pubsub.process.%s", topic),
			trace.WithAttributes(
				attribute.String("messaging.system", "watermill"),
				attribute.String("messaging.operation", "process"),
				attribute.String("messaging.destination", topic),
				attribute.String("messaging.message_id", msgID),
				attribute.String("session.id", msg.SessionID),
				attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
				attribute.String("messaging.message_payload_preview", payloadPreview(msg.Payload)),
			),
		)
		defer span.End()

		if err := h(spanCtx, msg); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		return nil
	}
}

// PublisherTracingMiddleware wraps a publisher with tracing capabilities
type PublisherTracingMiddleware struct {
	publisher message.Publisher
	tracer    trace.Tracer
}

// NewPublisherTracingMiddleware creates a new publisher with tracing middleware
func NewPublisherTracingMiddleware(publisher message.Publisher, tracer trace.Tracer) *PublisherTracingMiddleware {
	return &PublisherTracingMiddleware{
		publisher: publisher,
		tracer:    tracer,
	}
}

// Publish wraps the publish operation with tracing
func (p *PublisherTracingMiddleware) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		if err := p.publishOne(topic, msg); err != nil {
			return err
		}
	}
	return nil
}

func (p *PublisherTracingMiddleware) publishOne(topic string, msg *message.Message) error {
	spanCtx, span := p.tracer.Start(msg.Context(), fmt.Sprintf("pubsub.publish.%s", topic),
		trace.WithAttributes(
			attribute.String("messaging.system", "watermill"),
			attribute.String("messaging.operation", "publish"),
			attribute.String("messaging.destination", topic),
			attribute.String("messaging.message_id", msg.UUID),
			attribute.String("session.id", msg.Metadata.Get(metaKeySessionID)),
			attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
			attribute.String("messaging.message_payload_preview", payloadPreview(msg.Payload)),
		),
	)
	defer span.End()

	propagator.Inject(spanCtx, propagation.MapCarrier(msg.Metadata))
	msg.SetContext(spanCtx)
	if err := p.publisher.Publish(topic, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Close closes the wrapped publisher.
func (p *PublisherTracingMiddleware) Close() error {
	return p.publisher.Close()
}
