package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/datahub/internal/topicmgr"
	"github.com/nfrund/datahub/internal/topics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testPublisher struct {
	name   string
	topics []string
}

func (p testPublisher) Name() string     { return p.name }
func (p testPublisher) Topics() []string { return p.topics }

// recordingSubscriber keeps every delivery it receives and optionally fails or blocks.
type recordingSubscriber struct {
	name   string
	topics []string

	mu        sync.Mutex
	delivered []Delivery

	err     error
	panics  bool
	release chan struct{}
}

func (s *recordingSubscriber) Name() string     { return s.name }
func (s *recordingSubscriber) Topics() []string { return s.topics }

func (s *recordingSubscriber) Deliver(ctx context.Context, d Delivery) error {
	if s.release != nil {
		<-s.release
	}
	if s.panics {
		panic("boom")
	}
	s.mu.Lock()
	s.delivered = append(s.delivered, d)
	s.mu.Unlock()
	return s.err
}

func (s *recordingSubscriber) deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delivery, len(s.delivered))
	copy(out, s.delivered)
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []DeliveryEvent
}

func (l *eventLog) Record(_ context.Context, ev DeliveryEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) states(subscriber string) []DeliveryState {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []DeliveryState
	for _, ev := range l.events {
		if ev.Subscriber == subscriber {
			out = append(out, ev.State)
		}
	}
	return out
}

func newTestHub(t *testing.T, opts ...Option) *Hub {
	t.Helper()
	h := New(opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, h.Shutdown(ctx))
	})
	return h
}

func activeStatus(t *testing.T) topics.Topic {
	t.Helper()
	s, err := topics.NewStatus(topics.StatusActive)
	require.NoError(t, err)
	return s
}

func waitDispatch(t *testing.T, d *Dispatch) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
}

func TestHub_AddPublisher(t *testing.T) {
	h := newTestHub(t)

	require.NoError(t, h.AddPublisher(testPublisher{name: "cam1", topics: []string{"status"}}))

	err := h.AddPublisher(testPublisher{name: "cam2", topics: []string{"status"}})
	assert.ErrorIs(t, err, topicmgr.ErrRegistrationConflict)

	info, ok := h.Registry().LookupTopic("status")
	require.True(t, ok)
	assert.Equal(t, "cam1", info.Owner)

	_, ok = h.Registry().LookupPublisher("cam2")
	assert.False(t, ok)

	assert.ErrorIs(t, h.AddPublisher(nil), topicmgr.ErrInvalidConfig)
}

func TestHub_AddSubscriber(t *testing.T) {
	h := newTestHub(t)
	sub := &recordingSubscriber{name: "viewer", topics: []string{"status"}}

	require.NoError(t, h.AddSubscriber(sub))
	got, ok := h.Subscriber("viewer")
	require.True(t, ok)
	assert.Same(t, sub, got)

	err := h.AddSubscriber(&recordingSubscriber{name: "viewer", topics: []string{"images"}})
	assert.ErrorIs(t, err, topicmgr.ErrRegistrationConflict)
	_, ok = h.Registry().LookupTopic("images")
	assert.False(t, ok, "failed registration must not leave topic entries behind")
}

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	events := &eventLog{}
	h := newTestHub(t, WithEventSink(events))
	require.NoError(t, h.AddPublisher(testPublisher{name: "cam1", topics: []string{"status"}}))

	d, err := h.Publish(context.Background(), activeStatus(t))

	assert.Nil(t, d)
	assert.ErrorIs(t, err, topicmgr.ErrNoSubscribers)
	assert.Empty(t, events.events)
}

func TestHub_PublishFansOut(t *testing.T) {
	events := &eventLog{}
	h := newTestHub(t, WithEventSink(events))
	a := &recordingSubscriber{name: "a", topics: []string{"status"}}
	b := &recordingSubscriber{name: "b", topics: []string{"status"}}
	other := &recordingSubscriber{name: "other", topics: []string{"images"}}
	require.NoError(t, h.AddSubscriber(a))
	require.NoError(t, h.AddSubscriber(b))
	require.NoError(t, h.AddSubscriber(other))

	topic := activeStatus(t)
	d, err := h.Publish(context.Background(), topic)
	require.NoError(t, err)
	waitDispatch(t, d)

	assert.ElementsMatch(t, []string{"a", "b"}, d.Subscribers())
	for _, s := range []*recordingSubscriber{a, b} {
		got := s.deliveries()
		require.Len(t, got, 1)
		assert.Equal(t, d.ID, got[0].DispatchID)
		assert.Equal(t, topic, got[0].Topic)
		assert.Equal(t, []DeliveryState{StateCreated}, events.states(s.name))
	}
	assert.Empty(t, other.deliveries())
	assert.Equal(t, map[string]error{"a": nil, "b": nil}, d.Results())
}

func TestHub_DeliveryFailureIsIsolated(t *testing.T) {
	events := &eventLog{}
	h := newTestHub(t, WithEventSink(events))
	failing := &recordingSubscriber{name: "x", topics: []string{"status"}, err: errors.New("disk full")}
	panicking := &recordingSubscriber{name: "p", topics: []string{"status"}, panics: true}
	healthy := &recordingSubscriber{name: "y", topics: []string{"status"}}
	require.NoError(t, h.AddSubscriber(failing))
	require.NoError(t, h.AddSubscriber(panicking))
	require.NoError(t, h.AddSubscriber(healthy))

	d, err := h.Publish(context.Background(), activeStatus(t))
	require.NoError(t, err)
	waitDispatch(t, d)

	results := d.Results()
	assert.EqualError(t, results["x"], "disk full")
	assert.ErrorIs(t, results["p"], topicmgr.ErrHandlerFailure)
	assert.NoError(t, results["y"])
	assert.Len(t, healthy.deliveries(), 1)

	assert.Equal(t, []DeliveryState{StateCreated, StateFailed}, events.states("x"))
	assert.Equal(t, []DeliveryState{StateCreated, StateFailed}, events.states("p"))
	assert.Equal(t, []DeliveryState{StateCreated}, events.states("y"))
}

func TestHub_OverflowIsNotFailure(t *testing.T) {
	events := &eventLog{}
	h := newTestHub(t, WithEventSink(events))
	full := &recordingSubscriber{
		name:   "full",
		topics: []string{"status"},
		err:    topicmgr.NewError(topicmgr.ErrorQueueOverflow, "status", "full", "queue full", nil),
	}
	require.NoError(t, h.AddSubscriber(full))

	d, err := h.Publish(context.Background(), activeStatus(t))
	require.NoError(t, err)
	waitDispatch(t, d)

	assert.ErrorIs(t, d.Results()["full"], topicmgr.ErrQueueOverflow)
	assert.Equal(t, []DeliveryState{StateCreated}, events.states("full"))
}

func TestHub_SnapshotAtPublishTime(t *testing.T) {
	h := newTestHub(t)
	release := make(chan struct{})
	early := &recordingSubscriber{name: "early", topics: []string{"status"}, release: release}
	require.NoError(t, h.AddSubscriber(early))

	d, err := h.Publish(context.Background(), activeStatus(t))
	require.NoError(t, err)

	late := &recordingSubscriber{name: "late", topics: []string{"status"}}
	require.NoError(t, h.AddSubscriber(late))
	close(release)
	waitDispatch(t, d)

	assert.Equal(t, []string{"early"}, d.Subscribers())
	assert.Empty(t, late.deliveries())
}

func TestHub_PublishBlocksWhenPendingQueueIsFull(t *testing.T) {
	h := newTestHub(t, WithMaxWorkers(1), WithPendingDispatches(0))
	release := make(chan struct{})
	slow := &recordingSubscriber{name: "slow", topics: []string{"status"}, release: release}
	require.NoError(t, h.AddSubscriber(slow))

	first, err := h.Publish(context.Background(), activeStatus(t))
	require.NoError(t, err)

	// The only worker is busy and nothing may wait, so the next publish blocks until ctx ends.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = h.Publish(ctx, activeStatus(t))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	waitDispatch(t, first)
	assert.Len(t, slow.deliveries(), 1)
}

func TestHub_Shutdown(t *testing.T) {
	h := New()
	sub := &recordingSubscriber{name: "viewer", topics: []string{"status"}}
	require.NoError(t, h.AddSubscriber(sub))

	d, err := h.Publish(context.Background(), activeStatus(t))
	require.NoError(t, err)

	require.NoError(t, h.Shutdown(context.Background()))
	require.NoError(t, h.Shutdown(context.Background()))

	select {
	case <-d.Done():
	default:
		t.Fatal("shutdown returned before queued dispatch completed")
	}

	_, err = h.Publish(context.Background(), activeStatus(t))
	assert.ErrorIs(t, err, topicmgr.ErrHubClosed)
}
