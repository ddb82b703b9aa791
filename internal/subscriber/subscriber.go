package subscriber

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nfrund/datahub/internal/hub"
	"github.com/nfrund/datahub/internal/queue"
	"github.com/nfrund/datahub/internal/topicmgr"
	"github.com/nfrund/datahub/internal/topics"
	"go.opentelemetry.io/otel/trace"
)

// Config is what a subscriber is constructed from: its name and one queue per topic.
type Config struct {
	Name   string         `json:"name" validate:"required"`
	Topics []queue.Config `json:"topics" validate:"required,min=1,dive"`
}

var validate = validator.New()

// Identity is the read-only view of a subscriber that handlers receive.
type Identity struct {
	Name   string
	Topics []string
}

// Subscriber receives topics from the hub into per-topic bounded queues and drains each
// queue into the handler bound to that topic.
type Subscriber struct {
	name     string
	topics   []string
	queues   map[string]queue.MessageQueue[hub.Delivery]
	handlers Bindings
	signals  map[string]chan struct{}
	// gates hold a pushed topic back from its drain loop until its events are recorded.
	gates map[string]*sync.Mutex

	logger *slog.Logger
	tracer trace.Tracer
	events hub.EventSink

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	loops    sync.WaitGroup
	inflight sync.WaitGroup
	running  atomic.Int64
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithLogger sets the base logger; the subscriber adds its own scope.
func WithLogger(l *slog.Logger) Option {
	return func(s *Subscriber) {
		if l != nil {
			s.logger = l
		}
	}
}

// New validates cfg and bindings, then registers the subscriber with h.
// Bindings must cover exactly the configured topics. Any configuration error is reported
// before registration, so a failed New leaves nothing in the registry.
func New(h *hub.Hub, cfg Config, bindings Bindings, opts ...Option) (*Subscriber, error) {
	if h == nil {
		return nil, topicmgr.NewError(topicmgr.ErrorInvalidConfig, "", cfg.Name, "subscriber needs a hub", nil)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, topicmgr.NewError(topicmgr.ErrorInvalidConfig, "", cfg.Name, "invalid subscriber config", err)
	}

	s := &Subscriber{
		name:     cfg.Name,
		queues:   make(map[string]queue.MessageQueue[hub.Delivery], len(cfg.Topics)),
		handlers: make(Bindings, len(cfg.Topics)),
		signals:  make(map[string]chan struct{}, len(cfg.Topics)),
		gates:    make(map[string]*sync.Mutex, len(cfg.Topics)),
		logger:   slog.Default(),
		tracer:   h.Tracer(),
		events:   h.Events(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("scope", fmt.Sprintf("subscriber '%s'", cfg.Name))

	for _, qc := range cfg.Topics {
		if _, dup := s.queues[qc.TopicName]; dup {
			return nil, topicmgr.NewError(topicmgr.ErrorInvalidConfig, qc.TopicName, cfg.Name,
				fmt.Sprintf("topic %s configured more than once", qc.TopicName), nil)
		}
		q, err := queue.New[hub.Delivery](qc)
		if err != nil {
			return nil, err
		}
		fn, ok := bindings[qc.TopicName]
		if !ok || fn == nil {
			return nil, topicmgr.NewError(topicmgr.ErrorInvalidConfig, qc.TopicName, cfg.Name,
				fmt.Sprintf("no handler bound for topic %s", qc.TopicName), nil)
		}
		s.queues[qc.TopicName] = q
		s.handlers[qc.TopicName] = expect(qc.TopicName, fn)
		s.signals[qc.TopicName] = make(chan struct{}, 1)
		s.gates[qc.TopicName] = &sync.Mutex{}
		s.topics = append(s.topics, qc.TopicName)
	}
	for name := range bindings {
		if _, ok := s.queues[name]; !ok {
			return nil, topicmgr.NewError(topicmgr.ErrorInvalidConfig, name, cfg.Name,
				fmt.Sprintf("handler bound for undeclared topic %s", name), nil)
		}
	}
	slices.Sort(s.topics)

	if err := h.AddSubscriber(s); err != nil {
		return nil, err
	}
	s.logger.Info("Subscriber created", "topics", s.topics)
	return s, nil
}

// Name returns the subscriber name
func (s *Subscriber) Name() string {
	return s.name
}

// Topics returns the declared topics, sorted.
func (s *Subscriber) Topics() []string {
	return slices.Clone(s.topics)
}

// Identity returns the view passed to handlers.
func (s *Subscriber) Identity() Identity {
	return Identity{Name: s.name, Topics: s.Topics()}
}

// Queue returns the queue configured for topic.
func (s *Subscriber) Queue(topic string) (queue.MessageQueue[hub.Delivery], bool) {
	q, ok := s.queues[topic]
	return q, ok
}

// Pending returns the topics waiting in the queue for topic, in pop order.
func (s *Subscriber) Pending(topic string) []topics.Topic {
	q, ok := s.queues[topic]
	if !ok {
		return nil
	}
	items := q.Items()
	out := make([]topics.Topic, len(items))
	for i, d := range items {
		out[i] = d.Topic
	}
	return out
}

// Deliver implements hub.Subscriber. It pushes d into the topic's queue, applying the
// queue's overflow policy, and wakes the drain loop. QUEUED is recorded before the drain
// loop can pop the topic.
func (s *Subscriber) Deliver(ctx context.Context, d hub.Delivery) error {
	name := d.Topic.TopicName().String()
	q, ok := s.queues[name]
	if !ok {
		return topicmgr.NewError(topicmgr.ErrorUnknownTopic, name, s.name,
			fmt.Sprintf("subscriber %s does not listen to topic %s", s.name, name), nil)
	}

	gate := s.gates[name]
	gate.Lock()
	dropped, err := q.Push(d)
	if err != nil {
		gate.Unlock()
		s.logger.Warn("Queue full, rejected newest topic", "topic", name, "dispatch_id", d.DispatchID,
			"capacity", q.Cap())
		s.events.Record(ctx, hub.NewDeliveryEvent(d, s.name, hub.StateDropped, err))
		return err
	}
	if dropped.Topic != nil {
		s.logger.Warn("Queue full, evicted queued topic", "topic", name, "dispatch_id", dropped.DispatchID,
			"capacity", q.Cap())
		s.events.Record(ctx, hub.NewDeliveryEvent(dropped, s.name, hub.StateDropped,
			topicmgr.NewError(topicmgr.ErrorQueueOverflow, name, s.name, "evicted by newer topic", nil)))
	}

	s.events.Record(ctx, hub.NewDeliveryEvent(d, s.name, hub.StateQueued, nil))
	gate.Unlock()

	select {
	case s.signals[name] <- struct{}{}:
	default:
	}
	return nil
}

// Start launches one drain loop per topic. Topics delivered before Start wait in their
// queues and are handled once the loops run. Calling Start again is a no-op.
func (s *Subscriber) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, name := range s.topics {
		s.loops.Add(1)
		go s.drain(ctx, name)
	}
	s.logger.Debug("Subscriber started")
}

// drain handles queued topics one at a time until ctx ends, so each queue's ordering is
// the order handlers run in.
func (s *Subscriber) drain(ctx context.Context, name string) {
	defer s.loops.Done()

	q := s.queues[name]
	signal := s.signals[name]
	gate := s.gates[name]

	for {
		for {
			// Counted as running from before Pop so Flush never sees a popped but unhandled topic.
			s.running.Add(1)
			gate.Lock()
			d, err := q.Pop()
			gate.Unlock()
			if err != nil {
				s.running.Add(-1)
				break
			}
			_ = s.handle(ctx, d).Wait(context.Background())
			s.running.Add(-1)
			if ctx.Err() != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-signal:
		}
	}
}

// Handle runs the handler bound to topic on its own goroutine and returns immediately.
// It fails with topicmgr.ErrUnknownTopic when the subscriber does not declare the topic.
func (s *Subscriber) Handle(ctx context.Context, topic topics.Topic) (*Handling, error) {
	if topic == nil {
		return nil, topicmgr.NewError(topicmgr.ErrorInvalidPayload, "", s.name, "cannot handle nil topic", nil)
	}
	name := topic.TopicName().String()
	if _, ok := s.handlers[name]; !ok {
		return nil, topicmgr.NewError(topicmgr.ErrorUnknownTopic, name, s.name,
			fmt.Sprintf("subscriber %s does not listen to topic %s", s.name, name), nil)
	}
	return s.handle(ctx, hub.Delivery{Topic: topic, PublishedAt: time.Now().UTC()}), nil
}

func (s *Subscriber) handle(ctx context.Context, d hub.Delivery) *Handling {
	name := d.Topic.TopicName().String()
	fn := s.handlers[name]
	hd := newHandling(d)

	s.inflight.Add(1)
	s.running.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.running.Add(-1)

		ctx, span := s.tracer.Start(ctx, fmt.Sprintf("subscriber.handle.%s", name),
			trace.WithAttributes(spanAttributes(s.name, d)...))
		defer span.End()

		s.events.Record(ctx, hub.NewDeliveryEvent(d, s.name, hub.StateDispatched, nil))

		err := s.invoke(ctx, fn, d)
		if err != nil {
			recordSpanError(span, err)
			s.logger.Error("Handler failed", "topic", name, "dispatch_id", d.DispatchID, "error", err)
			s.events.Record(ctx, hub.NewDeliveryEvent(d, s.name, hub.StateFailed, err))
		} else {
			s.events.Record(ctx, hub.NewDeliveryEvent(d, s.name, hub.StateHandled, nil))
		}
		hd.finish(err)
	}()

	return hd
}

// invoke calls fn, turning both returned errors and panics into handler failures.
func (s *Subscriber) invoke(ctx context.Context, fn HandlerFunc, d hub.Delivery) (err error) {
	name := d.Topic.TopicName().String()
	defer func() {
		if r := recover(); r != nil {
			err = topicmgr.NewError(topicmgr.ErrorHandlerFailure, name, s.name,
				fmt.Sprintf("handler panicked: %v", r), nil)
		}
	}()

	if err := fn(ctx, d.Topic, s.Identity()); err != nil {
		return topicmgr.NewError(topicmgr.ErrorHandlerFailure, name, s.name, "handler returned an error", err)
	}
	return nil
}

// Flush waits until every queue is empty and no handler is running, or ctx ends.
// It only makes progress once Start has been called.
func (s *Subscriber) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Subscriber) idle() bool {
	if s.running.Load() > 0 {
		return false
	}
	for _, q := range s.queues {
		if !q.IsEmpty() {
			return false
		}
	}
	return s.running.Load() == 0
}

// Shutdown stops the drain loops and waits for running handlers. Queued topics stay queued.
func (s *Subscriber) Shutdown() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.loops.Wait()
	s.inflight.Wait()
	s.logger.Debug("Subscriber stopped")
}

var _ hub.Subscriber = (*Subscriber)(nil)
