package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/nfrund/datahub/internal/hub"
	"github.com/nfrund/datahub/internal/topicmgr"
	"github.com/nfrund/datahub/internal/topics"
)

// Config is what a publisher is constructed from.
type Config struct {
	Name   string   `json:"name" validate:"required"`
	Topics []string `json:"topics" validate:"required,min=1,dive,required"`
}

var validate = validator.New()

// Publisher owns a fixed set of topics and publishes validated instances of them through
// the hub.
type Publisher struct {
	name     string
	topics   []string
	declared map[string]struct{}

	hub     *hub.Hub
	factory topics.Factory
	logger  *slog.Logger

	// exclusive serializes Exclusive async publishes of this publisher.
	exclusive sync.Mutex
	pending   sync.WaitGroup
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithFactory replaces the topic factory used to validate payloads.
func WithFactory(f topics.Factory) Option {
	return func(p *Publisher) {
		if f != nil {
			p.factory = f
		}
	}
}

// WithLogger sets the base logger; the publisher adds its own scope.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// New validates cfg and registers the publisher with h, claiming ownership of its topics.
// This is the only place ownership is claimed.
func New(h *hub.Hub, cfg Config, opts ...Option) (*Publisher, error) {
	if h == nil {
		return nil, topicmgr.NewError(topicmgr.ErrorInvalidConfig, "", cfg.Name, "publisher needs a hub", nil)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, topicmgr.NewError(topicmgr.ErrorInvalidConfig, "", cfg.Name, "invalid publisher config", err)
	}

	p := &Publisher{
		name:     cfg.Name,
		declared: make(map[string]struct{}, len(cfg.Topics)),
		hub:      h,
		factory:  topics.NewCreator(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("scope", fmt.Sprintf("publisher '%s'", cfg.Name))

	for _, t := range cfg.Topics {
		if _, dup := p.declared[t]; dup {
			continue
		}
		p.declared[t] = struct{}{}
		p.topics = append(p.topics, t)
	}
	slices.Sort(p.topics)

	if err := h.AddPublisher(p); err != nil {
		return nil, err
	}
	p.logger.Info("Publisher created", "topics", p.topics)
	return p, nil
}

// Name returns the publisher name
func (p *Publisher) Name() string {
	return p.name
}

// Topics returns the owned topics, sorted.
func (p *Publisher) Topics() []string {
	return slices.Clone(p.topics)
}

// Publish validates payload as an instance of topic and hands it to the hub.
//
// UnknownTopic is reported synchronously in every mode. In Sync mode the call returns once
// every subscriber delivery has been attempted and reports InvalidPayload, NoSubscribers and
// HubClosed. In Async mode those are logged instead, and the work continues even if ctx is
// canceled.
func (p *Publisher) Publish(ctx context.Context, topic string, payload json.RawMessage, opts ...PublishOption) error {
	o := publishOptions{mode: ModeAsync}
	for _, opt := range opts {
		opt(&o)
	}

	if _, ok := p.declared[topic]; !ok {
		return topicmgr.NewError(topicmgr.ErrorUnknownTopic, topic, p.name,
			fmt.Sprintf("publisher %s does not own topic %s", p.name, topic), nil)
	}

	if o.mode == ModeSync {
		return p.publish(ctx, topic, payload)
	}

	// An exclusive caller waits here until this publisher's previous exclusive publish has
	// been delivered, which keeps their queue order equal to call order.
	if o.exclusive {
		p.exclusive.Lock()
	}

	p.pending.Add(1)
	go func(ctx context.Context) {
		defer p.pending.Done()
		if o.exclusive {
			defer p.exclusive.Unlock()
		}
		if err := p.publish(ctx, topic, payload); err != nil {
			p.logger.Error("Async publish failed", "topic", topic, "error", err)
		}
	}(context.WithoutCancel(ctx))

	return nil
}

func (p *Publisher) publish(ctx context.Context, name string, payload json.RawMessage) error {
	topic, err := p.factory.Create(name, payload)
	if err != nil {
		return err
	}

	d, err := p.hub.Publish(ctx, topic)
	if err != nil {
		return err
	}
	if err := d.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for dispatch %s: %w", d.ID, err)
	}

	p.logger.Debug("Topic published", "topic", name, "dispatch_id", d.ID)
	return nil
}

// Wait blocks until every async publish started so far has finished.
func (p *Publisher) Wait() {
	p.pending.Wait()
}

var _ hub.Publisher = (*Publisher)(nil)
