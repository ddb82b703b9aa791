package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/nfrund/datahub/internal/config"
	"github.com/nfrund/datahub/internal/hub"
	"github.com/nfrund/datahub/internal/publisher"
	"github.com/nfrund/datahub/internal/subscriber"
	"github.com/nfrund/datahub/internal/topicmgr"
	"github.com/nfrund/datahub/internal/topics"
	"github.com/samber/do/v2"
)

// BindFunc supplies the handler bindings for a subscriber built from the topology.
type BindFunc func(cfg subscriber.Config) subscriber.Bindings

// LogBindings binds every topic of the subscriber to a handler that logs what it receives.
func LogBindings(logger *slog.Logger) BindFunc {
	return func(cfg subscriber.Config) subscriber.Bindings {
		bindings := make(subscriber.Bindings, len(cfg.Topics))
		for _, q := range cfg.Topics {
			log := logger.With("scope", fmt.Sprintf("subscriber '%s' handler '%s'", cfg.Name, q.TopicName))
			bindings[q.TopicName] = func(_ context.Context, topic topics.Topic, _ subscriber.Identity) error {
				log.Info("Topic handled", "topic", topic)
				return nil
			}
		}
		return bindings
	}
}

// Runtime is a hub populated with the publishers and subscribers of a topology.
type Runtime struct {
	Hub         *hub.Hub
	Publishers  map[string]*publisher.Publisher
	Subscribers map[string]*subscriber.Subscriber
}

// Build resolves the hub from the injector and constructs every component of topo.
// Registration errors abort the build.
func Build(injector do.Injector, topo *config.Topology, bind BindFunc) (*Runtime, error) {
	h, err := do.Invoke[*hub.Hub](injector)
	if err != nil {
		return nil, fmt.Errorf("resolving hub: %w", err)
	}

	rt := &Runtime{
		Hub:         h,
		Publishers:  make(map[string]*publisher.Publisher),
		Subscribers: make(map[string]*subscriber.Subscriber),
	}

	for _, cfg := range topo.SubscriberConfigs() {
		s, err := subscriber.New(h, cfg, bind(cfg))
		if err != nil {
			return nil, fmt.Errorf("creating subscriber %s: %w", cfg.Name, err)
		}
		rt.Subscribers[cfg.Name] = s
	}

	for _, cfg := range topo.PublisherConfigs() {
		p, err := publisher.New(h, cfg)
		if err != nil {
			return nil, fmt.Errorf("creating publisher %s: %w", cfg.Name, err)
		}
		rt.Publishers[cfg.Name] = p
	}

	stats := h.Registry().Stats()
	slog.Info("Topology loaded", "publishers", stats.Publishers, "subscribers", stats.Subscribers,
		"topics", stats.Topics)
	return rt, nil
}

// Start launches every subscriber's drain loops.
func (r *Runtime) Start(ctx context.Context) {
	for _, name := range slices.Sorted(maps.Keys(r.Subscribers)) {
		r.Subscribers[name].Start(ctx)
	}
}

// Publish publishes payload as topic on behalf of the named publisher.
func (r *Runtime) Publish(ctx context.Context, name, topic string, payload json.RawMessage, opts ...publisher.PublishOption) error {
	p, ok := r.Publishers[name]
	if !ok {
		return topicmgr.NewError(topicmgr.ErrorInvalidConfig, topic, name,
			fmt.Sprintf("no publisher named %s", name), nil)
	}
	return p.Publish(ctx, topic, payload, opts...)
}

// Stop waits for async publishes, drains the hub, lets subscribers handle what is queued
// and stops them. Topics still queued when ctx ends are abandoned.
func (r *Runtime) Stop(ctx context.Context) error {
	for _, p := range r.Publishers {
		p.Wait()
	}
	err := r.Hub.Shutdown(ctx)
	for name, s := range r.Subscribers {
		if ferr := s.Flush(ctx); ferr != nil {
			slog.Warn("Subscriber did not drain before shutdown", "subscriber", name, "error", ferr)
		}
		s.Shutdown()
	}
	return err
}
