package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nfrund/datahub/internal/topicmgr"
	"github.com/nfrund/datahub/internal/topics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultMaxWorkers is the number of dispatch workers running concurrently.
	DefaultMaxWorkers = 4

	// DefaultPendingDispatches is how many published topics may wait for a free worker
	// before Publish starts blocking.
	DefaultPendingDispatches = 64
)

// Publisher is the identity a publisher registers with.
type Publisher interface {
	Name() string
	Topics() []string
}

// Subscriber is the identity a subscriber registers with, plus the entry point the
// Worker uses to hand it a topic.
type Subscriber interface {
	Name() string
	Topics() []string

	// Deliver pushes d into the subscriber's queue for d.Topic and signals it to drain.
	Deliver(ctx context.Context, d Delivery) error
}

// Hub coordinates registration and dispatch. Construct one per process and pass it to
// publishers and subscribers.
type Hub struct {
	registry *topicmgr.Registry

	// mu guards subscribers so that a registry entry and its lookup handle appear together.
	mu          sync.RWMutex
	subscribers map[string]Subscriber

	// lifecycle guards closed and submissions to the pool.
	lifecycle sync.RWMutex
	closed    bool
	pool      *pool

	maxWorkers int
	pending    int
	logger     *slog.Logger
	tracer     trace.Tracer
	events     EventSink
}

// Option is a function that configures a Hub.
type Option func(*Hub)

// WithMaxWorkers sets the number of dispatch workers.
func WithMaxWorkers(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxWorkers = n
		}
	}
}

// WithPendingDispatches sets the size of the pending dispatch queue.
func WithPendingDispatches(n int) Option {
	return func(h *Hub) {
		if n >= 0 {
			h.pending = n
		}
	}
}

// WithLogger sets the logger. The hub adds scope=hub to every record.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithTracer sets the tracer used for publish and delivery spans.
func WithTracer(t trace.Tracer) Option {
	return func(h *Hub) {
		if t != nil {
			h.tracer = t
		}
	}
}

// WithEventSink sets where delivery state transitions are reported.
func WithEventSink(s EventSink) Option {
	return func(h *Hub) {
		if s != nil {
			h.events = s
		}
	}
}

// New creates a hub and starts its worker pool.
func New(opts ...Option) *Hub {
	h := &Hub{
		registry:    topicmgr.NewRegistry(),
		subscribers: make(map[string]Subscriber),
		maxWorkers:  DefaultMaxWorkers,
		pending:     DefaultPendingDispatches,
		logger:      slog.Default(),
		tracer:      noop.NewTracerProvider().Tracer("datahub"),
		events:      nopSink{},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("scope", "hub")
	h.pool = newPool(h.maxWorkers, h.pending)
	return h
}

// Registry exposes the hub's registry for read access.
func (h *Hub) Registry() *topicmgr.Registry {
	return h.registry
}

// Logger returns the hub's logger
func (h *Hub) Logger() *slog.Logger {
	return h.logger
}

// Tracer returns the hub's tracer
func (h *Hub) Tracer() trace.Tracer {
	return h.tracer
}

// Events returns the sink delivery transitions are reported to.
func (h *Hub) Events() EventSink {
	return h.events
}

// AddPublisher registers p and its topic ownership claims.
func (h *Hub) AddPublisher(p Publisher) error {
	if p == nil {
		return &topicmgr.TopicError{Type: topicmgr.ErrorInvalidConfig, Message: "cannot add nil publisher"}
	}
	if err := h.registry.RegisterPublisher(p.Name(), p.Topics()); err != nil {
		return err
	}
	h.logger.Info("Publisher registered", "publisher", p.Name(), "topics", p.Topics())
	return nil
}

// AddSubscriber registers s and keeps it for fan-out.
func (h *Hub) AddSubscriber(s Subscriber) error {
	if s == nil {
		return &topicmgr.TopicError{Type: topicmgr.ErrorInvalidConfig, Message: "cannot add nil subscriber"}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.registry.RegisterSubscriber(s.Name(), s.Topics()); err != nil {
		return err
	}
	h.subscribers[s.Name()] = s

	h.logger.Info("Subscriber registered", "subscriber", s.Name(), "topics", s.Topics())
	return nil
}

// Subscriber returns the registered subscriber with the given name.
func (h *Hub) Subscriber(name string) (Subscriber, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.subscribers[name]
	return s, ok
}

// Publish snapshots the subscribers of topic and queues a Worker to deliver it.
// It fails with topicmgr.ErrNoSubscribers when nobody listens, and blocks only while the
// pending dispatch queue is full. The returned Dispatch may be waited on or ignored.
func (h *Hub) Publish(ctx context.Context, topic topics.Topic) (*Dispatch, error) {
	if topic == nil {
		return nil, &topicmgr.TopicError{Type: topicmgr.ErrorInvalidPayload, Message: "cannot publish nil topic"}
	}
	name := topic.TopicName().String()

	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("hub.publish.%s", name),
		trace.WithAttributes(
			attribute.String("messaging.system", "datahub"),
			attribute.String("messaging.operation", "publish"),
			attribute.String("messaging.destination", name),
		),
	)
	defer span.End()

	targets := h.snapshot(name)
	if len(targets) == 0 {
		err := &topicmgr.TopicError{
			Type:    topicmgr.ErrorNoSubscribers,
			Topic:   name,
			Message: fmt.Sprintf("no subscribers for topic %s", name),
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	names := make([]string, len(targets))
	for i, s := range targets {
		names[i] = s.Name()
	}
	d := newDispatch(topic, names)
	span.SetAttributes(
		attribute.String("messaging.message_id", d.ID),
		attribute.Int("datahub.subscriber_count", len(targets)),
	)

	w := &Worker{
		ctx:         context.WithoutCancel(ctx),
		dispatch:    d,
		subscribers: targets,
		logger:      h.logger,
		tracer:      h.tracer,
		events:      h.events,
	}

	h.lifecycle.RLock()
	defer h.lifecycle.RUnlock()

	if h.closed {
		return nil, topicmgr.NewError(topicmgr.ErrorHubClosed, name, "", "hub is closed", nil)
	}
	if err := h.pool.submit(ctx, w); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("queueing dispatch for topic %s: %w", name, err)
	}

	h.logger.Debug("Topic published", "topic", name, "dispatch_id", d.ID, "subscribers", names)
	return d, nil
}

// snapshot returns the subscribers currently registered for topic.
func (h *Hub) snapshot(topic string) []Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()

	info, ok := h.registry.LookupTopic(topic)
	if !ok {
		return nil
	}
	targets := make([]Subscriber, 0, len(info.Subscribers))
	for _, name := range info.Subscribers {
		if s, ok := h.subscribers[name]; ok {
			targets = append(targets, s)
		}
	}
	return targets
}

// Shutdown stops accepting publishes and waits for queued dispatches to finish or ctx to end.
// It is safe to call more than once.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.lifecycle.Lock()
	if h.closed {
		h.lifecycle.Unlock()
		return nil
	}
	h.closed = true
	h.lifecycle.Unlock()

	h.logger.Info("Hub shutting down")
	return h.pool.stop(ctx)
}
