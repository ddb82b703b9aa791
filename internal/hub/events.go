package hub

import (
	"context"
	"time"

	"github.com/nfrund/datahub/internal/topics"
)

// DeliveryState is the position of one topic instance in one subscriber's pipeline.
//
//	CREATED -> QUEUED -> DISPATCHED -> HANDLED
//	        \-> DROPPED            \-> FAILED
//
// DROPPED and FAILED are terminal and never block other subscribers.
type DeliveryState string

const (
	StateCreated    DeliveryState = "CREATED"
	StateQueued     DeliveryState = "QUEUED"
	StateDropped    DeliveryState = "DROPPED"
	StateDispatched DeliveryState = "DISPATCHED"
	StateHandled    DeliveryState = "HANDLED"
	StateFailed     DeliveryState = "FAILED"
)

// Terminal reports whether no further transition follows s.
func (s DeliveryState) Terminal() bool {
	switch s {
	case StateDropped, StateHandled, StateFailed:
		return true
	default:
		return false
	}
}

// Delivery is what a Worker hands to a subscriber: the topic plus the dispatch it belongs to.
type Delivery struct {
	DispatchID  string
	Topic       topics.Topic
	PublishedAt time.Time
}

// DeliveryEvent records one state transition.
type DeliveryEvent struct {
	DispatchID string        `json:"dispatch_id"`
	Topic      string        `json:"topic"`
	Subscriber string        `json:"subscriber"`
	State      DeliveryState `json:"state"`
	Error      string        `json:"error,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// NewDeliveryEvent builds an event for d as seen by subscriber.
func NewDeliveryEvent(d Delivery, subscriber string, state DeliveryState, err error) DeliveryEvent {
	ev := DeliveryEvent{
		DispatchID: d.DispatchID,
		Subscriber: subscriber,
		State:      state,
		Timestamp:  time.Now().UTC(),
	}
	if d.Topic != nil {
		ev.Topic = d.Topic.TopicName().String()
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// EventSink receives delivery state transitions. Implementations must not block for long
// and must swallow their own failures; dispatch never depends on them.
type EventSink interface {
	Record(ctx context.Context, ev DeliveryEvent)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev DeliveryEvent)

// Record calls f.
func (f EventSinkFunc) Record(ctx context.Context, ev DeliveryEvent) {
	f(ctx, ev)
}

type nopSink struct{}

func (nopSink) Record(context.Context, DeliveryEvent) {}
