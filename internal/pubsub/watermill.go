package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/nfrund/datahub/internal/hub"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// Metadata keys copied from the delivery event so middleware can read them without decoding.
	metaKeyTopic      = "topic"
	metaKeySubscriber = "subscriber"
	metaKeyDispatchID = "dispatch_id"
	metaKeyState      = "state"
)

// DefaultEventBuffer is the per-monitor output buffer of the stream.
const DefaultEventBuffer = 256

// EventStream implements Stream on top of watermill's in-memory GoChannel.
// Events recorded while nobody is subscribed are discarded.
type EventStream struct {
	pub    message.Publisher
	sub    message.Subscriber
	tracer trace.Tracer
	logger *slog.Logger
}

// StreamOption configures an EventStream.
type StreamOption func(*streamOptions)

type streamOptions struct {
	buffer int64
	tracer trace.Tracer
	logger *slog.Logger
}

// WithBuffer sets how many events each monitor may lag behind before the stream waits on it.
func WithBuffer(n int) StreamOption {
	return func(o *streamOptions) {
		if n >= 0 {
			o.buffer = int64(n)
		}
	}
}

// WithTracer traces publishing and handling of events.
func WithTracer(t trace.Tracer) StreamOption {
	return func(o *streamOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithLogger sets the logger used for stream failures.
func WithLogger(l *slog.Logger) StreamOption {
	return func(o *streamOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewEventStream creates an in-memory delivery event stream.
func NewEventStream(opts ...StreamOption) *EventStream {
	o := streamOptions{
		buffer: DefaultEventBuffer,
		tracer: noop.NewTracerProvider().Tracer(tracerName),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	goChannel := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: o.buffer},
		watermill.NewStdLogger(false, false),
	)

	return &EventStream{
		pub:    &tracedPublisher{next: goChannel, tracer: o.tracer},
		sub:    goChannel,
		tracer: o.tracer,
		logger: o.logger.With("scope", "events"),
	}
}

// toMessage converts a delivery event to a watermill message.
func toMessage(ctx context.Context, ev hub.DeliveryEvent) (*message.Message, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding delivery event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metaKeyTopic, ev.Topic)
	msg.Metadata.Set(metaKeySubscriber, ev.Subscriber)
	msg.Metadata.Set(metaKeyDispatchID, ev.DispatchID)
	msg.Metadata.Set(metaKeyState, string(ev.State))
	msg.SetContext(ctx)
	return msg, nil
}

// fromMessage converts a watermill message back to a delivery event.
func fromMessage(msg *message.Message) (hub.DeliveryEvent, error) {
	var ev hub.DeliveryEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return ev, fmt.Errorf("decoding delivery event %s: %w", msg.UUID, err)
	}
	return ev, nil
}

// Record implements hub.EventSink. Failures are logged and never returned to the hub.
func (s *EventStream) Record(ctx context.Context, ev hub.DeliveryEvent) {
	msg, err := toMessage(ctx, ev)
	if err != nil {
		s.logger.Error("Failed to encode delivery event", "dispatch_id", ev.DispatchID, "error", err)
		return
	}
	if err := s.pub.Publish(DeliveryTopic, msg); err != nil {
		s.logger.Warn("Failed to publish delivery event", "dispatch_id", ev.DispatchID,
			"state", ev.State, "error", err)
	}
}

// Subscribe implements Stream.
func (s *EventStream) Subscribe(ctx context.Context, handler EventHandler) error {
	messages, err := s.sub.Subscribe(ctx, DeliveryTopic)
	if err != nil {
		return err
	}

	process := TracingMiddleware(s.tracer)(func(msg *message.Message) ([]*message.Message, error) {
		ev, err := fromMessage(msg)
		if err != nil {
			return nil, err
		}
		return nil, handler(msg.Context(), ev)
	})

	go func() {
		for msg := range messages {
			if _, err := process(msg); err != nil {
				s.logger.Error("Failed to handle delivery event", "msg_id", msg.UUID, "error", err)
			}
			// Events are informational; a failed monitor must not cause redelivery.
			msg.Ack()
		}
		s.logger.Debug("Event subscription loop ended")
	}()

	return nil
}

// Close stops every subscription loop. Later events are dropped.
func (s *EventStream) Close() error {
	return s.sub.Close()
}

// Shutdown closes the stream when the owning container shuts down.
func (s *EventStream) Shutdown() error {
	return s.Close()
}

var _ Stream = (*EventStream)(nil)
