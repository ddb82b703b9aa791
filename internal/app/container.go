package app

import (
	"context"
	"log/slog"

	"github.com/nfrund/datahub/internal/config"
	"github.com/nfrund/datahub/internal/hub"
	"github.com/nfrund/datahub/internal/pubsub"
	"github.com/samber/do/v2"
	"go.opentelemetry.io/otel/trace"
)

// Tracing holds the process tracer and flushes it on shutdown.
type Tracing struct {
	Tracer  trace.Tracer
	cleanup func(context.Context)
}

// Shutdown flushes pending spans.
func (t *Tracing) Shutdown(ctx context.Context) error {
	t.cleanup(ctx)
	return nil
}

// NewContainer registers the process-wide services: config, tracing, the delivery event
// stream and the single hub. Services are built lazily on first Invoke and shut down in
// reverse dependency order by the returned injector.
func NewContainer(cfg *config.Config) *do.RootScope {
	injector := do.New()

	do.ProvideValue(injector, cfg)

	do.Provide(injector, func(i do.Injector) (*Tracing, error) {
		cfg := do.MustInvoke[*config.Config](i)
		tracer, cleanup, err := pubsub.SetupOTel(context.Background(), cfg.Tracing)
		if err != nil {
			return nil, err
		}
		return &Tracing{Tracer: tracer, cleanup: cleanup}, nil
	})

	do.Provide(injector, func(i do.Injector) (*pubsub.EventStream, error) {
		cfg := do.MustInvoke[*config.Config](i)
		tracing, err := do.Invoke[*Tracing](i)
		if err != nil {
			return nil, err
		}
		return pubsub.NewEventStream(
			pubsub.WithBuffer(cfg.EventBuffer),
			pubsub.WithTracer(tracing.Tracer),
		), nil
	})

	do.Provide(injector, func(i do.Injector) (*hub.Hub, error) {
		cfg := do.MustInvoke[*config.Config](i)
		tracing, err := do.Invoke[*Tracing](i)
		if err != nil {
			return nil, err
		}
		events, err := do.Invoke[*pubsub.EventStream](i)
		if err != nil {
			return nil, err
		}

		slog.Debug("Creating hub", "max_workers", cfg.MaxWorkers, "pending_dispatches", cfg.PendingDispatches)
		return hub.New(
			hub.WithMaxWorkers(cfg.MaxWorkers),
			hub.WithPendingDispatches(cfg.PendingDispatches),
			hub.WithTracer(tracing.Tracer),
			hub.WithEventSink(events),
			hub.WithLogger(slog.Default()),
		), nil
	})

	return injector
}
