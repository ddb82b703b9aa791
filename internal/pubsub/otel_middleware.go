package pubsub

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// eventAttributes maps the delivery metadata carried on a stream message to span attributes.
func eventAttributes(msg *message.Message, operation string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", "watermill"),
		attribute.String("messaging.operation", operation),
		attribute.String("messaging.destination", DeliveryTopic),
		attribute.String("messaging.message_id", msg.UUID),
		attribute.String("datahub.topic", msg.Metadata.Get(metaKeyTopic)),
		attribute.String("datahub.subscriber", msg.Metadata.Get(metaKeySubscriber)),
		attribute.String("datahub.dispatch_id", msg.Metadata.Get(metaKeyDispatchID)),
		attribute.String("datahub.state", msg.Metadata.Get(metaKeyState)),
	}
}

// TracingMiddleware creates a watermill middleware that wraps handling of one delivery event
// in a span.
func TracingMiddleware(tracer trace.Tracer) func(message.HandlerFunc) message.HandlerFunc {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx := msg.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			spanCtx, span := tracer.Start(ctx,
				fmt.Sprintf("pubsub.process.%s", msg.Metadata.Get(metaKeyState)),
				trace.WithAttributes(eventAttributes(msg, "process")...),
			)
			defer span.End()

			msg.SetContext(spanCtx)

			produced, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}

			span.SetAttributes(attribute.Int("messaging.messages_produced", len(produced)))
			return produced, nil
		}
	}
}

// tracedPublisher starts a publish span for every message before handing it to the
// wrapped publisher.
type tracedPublisher struct {
	next   message.Publisher
	tracer trace.Tracer
}

// Publish wraps the publish operation with one span per message.
func (p *tracedPublisher) Publish(topic string, messages ...*message.Message) error {
	spans := make([]trace.Span, 0, len(messages))
	defer func() {
		for _, span := range spans {
			span.End()
		}
	}()

	for _, msg := range messages {
		ctx := msg.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		spanCtx, span := p.tracer.Start(ctx, fmt.Sprintf("pubsub.publish.%s", topic),
			trace.WithAttributes(eventAttributes(msg, "publish")...),
		)
		spans = append(spans, span)
		msg.SetContext(spanCtx)
	}

	err := p.next.Publish(topic, messages...)
	if err != nil {
		for _, span := range spans {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	return err
}

func (p *tracedPublisher) Close() error {
	return p.next.Close()
}
