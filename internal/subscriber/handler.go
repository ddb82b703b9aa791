package subscriber

import (
	"context"
	"fmt"
	"sync"

	"github.com/nfrund/datahub/internal/hub"
	"github.com/nfrund/datahub/internal/topicmgr"
	"github.com/nfrund/datahub/internal/topics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HandlerFunc reacts to one topic. A returned error or a panic marks the delivery FAILED;
// neither reaches the hub or the publisher.
type HandlerFunc func(ctx context.Context, topic topics.Topic, sub Identity) error

// Bindings maps each declared topic name to its handler.
type Bindings map[string]HandlerFunc

// expect rejects topics other than the one fn is bound to.
func expect(name string, fn HandlerFunc) HandlerFunc {
	return func(ctx context.Context, topic topics.Topic, sub Identity) error {
		if got := topic.TopicName().String(); got != name {
			return topicmgr.NewError(topicmgr.ErrorUnknownTopic, got, sub.Name,
				fmt.Sprintf("handler for %s received topic %s", name, got), nil)
		}
		return fn(ctx, topic, sub)
	}
}

// Handling is the handle returned by Handle for one handler run.
type Handling struct {
	Delivery hub.Delivery

	once sync.Once
	done chan struct{}
	err  error
}

func newHandling(d hub.Delivery) *Handling {
	return &Handling{Delivery: d, done: make(chan struct{})}
}

func (h *Handling) finish(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Done is closed when the handler has returned.
func (h *Handling) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handler returns or ctx ends, and returns the handler failure if any.
func (h *Handling) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func spanAttributes(subscriber string, d hub.Delivery) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", "datahub"),
		attribute.String("messaging.operation", "process"),
		attribute.String("messaging.destination", d.Topic.TopicName().String()),
		attribute.String("messaging.message_id", d.DispatchID),
		attribute.String("datahub.subscriber", subscriber),
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
