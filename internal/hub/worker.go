package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nfrund/datahub/internal/topicmgr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Worker fans one published topic out to the subscriber snapshot taken at publish time.
// Each subscriber is delivered to on its own goroutine; a failure for one is logged and
// recorded without affecting the rest.
type Worker struct {
	ctx         context.Context
	dispatch    *Dispatch
	subscribers []Subscriber
	logger      *slog.Logger
	tracer      trace.Tracer
	events      EventSink
}

// Run delivers to every subscriber and completes the dispatch.
func (w *Worker) Run() {
	defer w.dispatch.complete()

	topic := w.dispatch.topic.TopicName().String()
	w.logger.Debug("Worker start pushing topic", "topic", topic, "dispatch_id", w.dispatch.ID,
		"subscribers", len(w.subscribers))

	var wg sync.WaitGroup
	for _, sub := range w.subscribers {
		wg.Add(1)
		go func(sub Subscriber) {
			defer wg.Done()
			w.deliver(sub)
		}(sub)
	}
	wg.Wait()

	w.logger.Debug("Worker pushed topic to all subscribers", "topic", topic, "dispatch_id", w.dispatch.ID)
}

func (w *Worker) deliver(sub Subscriber) {
	d := w.dispatch.delivery()
	name := sub.Name()

	ctx, span := w.tracer.Start(w.ctx, fmt.Sprintf("hub.deliver.%s", d.Topic.TopicName()),
		trace.WithAttributes(
			attribute.String("messaging.system", "datahub"),
			attribute.String("messaging.operation", "deliver"),
			attribute.String("messaging.destination", d.Topic.TopicName().String()),
			attribute.String("messaging.message_id", d.DispatchID),
			attribute.String("datahub.subscriber", name),
		),
	)
	defer span.End()

	w.events.Record(ctx, NewDeliveryEvent(d, name, StateCreated, nil))

	err := w.safeDeliver(ctx, sub, d)
	w.dispatch.record(name, err)

	switch {
	case err == nil:
		return
	case errors.Is(err, topicmgr.ErrQueueOverflow):
		// Overflow is resolved by the subscriber's policy; the subscriber reports DROPPED.
		w.logger.Warn("Topic dropped by subscriber queue", "topic", d.Topic.TopicName(),
			"subscriber", name, "dispatch_id", d.DispatchID)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.logger.Error("Failed to deliver topic", "topic", d.Topic.TopicName(),
			"subscriber", name, "dispatch_id", d.DispatchID, "error", err)
		w.events.Record(ctx, NewDeliveryEvent(d, name, StateFailed, err))
	}
}

// safeDeliver keeps a panicking subscriber from taking the worker down with it.
func (w *Worker) safeDeliver(ctx context.Context, sub Subscriber, d Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &topicmgr.TopicError{
				Type:      topicmgr.ErrorHandlerFailure,
				Topic:     d.Topic.TopicName().String(),
				Component: sub.Name(),
				Message:   fmt.Sprintf("subscriber panicked during delivery: %v", r),
			}
		}
	}()
	return sub.Deliver(ctx, d)
}

// pool is a fixed set of goroutines draining a bounded queue of pending workers.
type pool struct {
	jobs chan *Worker
	wg   sync.WaitGroup
}

func newPool(workers, pending int) *pool {
	p := &pool{jobs: make(chan *Worker, pending)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *pool) run() {
	defer p.wg.Done()
	for w := range p.jobs {
		w.Run()
	}
}

// submit enqueues w, blocking while the pending queue is full.
func (p *pool) submit(ctx context.Context, w *Worker) error {
	select {
	case p.jobs <- w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop closes the queue and waits for queued workers to finish or ctx to end.
func (p *pool) stop(ctx context.Context) error {
	close(p.jobs)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
