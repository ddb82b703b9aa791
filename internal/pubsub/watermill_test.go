package pubsub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nfrund/datahub/internal/hub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(state hub.DeliveryState) hub.DeliveryEvent {
	return hub.DeliveryEvent{
		DispatchID: "3f1c2b9e-0d7a-4b55-9d0e-1f2a3b4c5d6e",
		Topic:      "status",
		Subscriber: "viewer",
		State:      state,
		Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func receive(t *testing.T, ch <-chan hub.DeliveryEvent) hub.DeliveryEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery event")
		return hub.DeliveryEvent{}
	}
}

func TestEventStream_RecordReachesSubscribers(t *testing.T) {
	stream := NewEventStream()
	defer stream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := make(chan hub.DeliveryEvent, 1)
	second := make(chan hub.DeliveryEvent, 1)
	require.NoError(t, stream.Subscribe(ctx, func(_ context.Context, ev hub.DeliveryEvent) error {
		first <- ev
		return nil
	}))
	require.NoError(t, stream.Subscribe(ctx, func(_ context.Context, ev hub.DeliveryEvent) error {
		second <- ev
		return nil
	}))

	ev := testEvent(hub.StateQueued)
	stream.Record(context.Background(), ev)

	assert.Equal(t, ev, receive(t, first))
	assert.Equal(t, ev, receive(t, second))
}

func TestEventStream_HandlerErrorDoesNotRedeliver(t *testing.T) {
	stream := NewEventStream()
	defer stream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan hub.DeliveryEvent, 4)
	require.NoError(t, stream.Subscribe(ctx, func(_ context.Context, ev hub.DeliveryEvent) error {
		got <- ev
		return errors.New("monitor offline")
	}))

	stream.Record(context.Background(), testEvent(hub.StateFailed))
	stream.Record(context.Background(), testEvent(hub.StateHandled))

	states := []hub.DeliveryState{receive(t, got).State, receive(t, got).State}
	assert.ElementsMatch(t, []hub.DeliveryState{hub.StateFailed, hub.StateHandled}, states)

	select {
	case ev := <-got:
		t.Fatalf("unexpected redelivery of %s event", ev.State)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventStream_RecordWithoutSubscribers(t *testing.T) {
	stream := NewEventStream(WithBuffer(0))

	assert.NotPanics(t, func() {
		stream.Record(context.Background(), testEvent(hub.StateCreated))
	})
	require.NoError(t, stream.Close())

	assert.NotPanics(t, func() {
		stream.Record(context.Background(), testEvent(hub.StateCreated))
	})
}

func TestEventStream_AsHubSink(t *testing.T) {
	stream := NewEventStream()
	defer stream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan hub.DeliveryEvent, 1)
	require.NoError(t, stream.Subscribe(ctx, func(_ context.Context, ev hub.DeliveryEvent) error {
		got <- ev
		return nil
	}))

	var sink hub.EventSink = stream
	sink.Record(ctx, testEvent(hub.StateDispatched))

	assert.Equal(t, hub.StateDispatched, receive(t, got).State)
}
