package publisher_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nfrund/datahub/internal/hub"
	"github.com/nfrund/datahub/internal/publisher"
	"github.com/nfrund/datahub/internal/queue"
	"github.com/nfrund/datahub/internal/subscriber"
	"github.com/nfrund/datahub/internal/topicmgr"
	"github.com/nfrund/datahub/internal/topics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHub(t *testing.T) *hub.Hub {
	t.Helper()
	h := hub.New()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, h.Shutdown(ctx))
	})
	return h
}

// listen registers an unstarted subscriber so delivered topics stay in its queue.
func listen(t *testing.T, h *hub.Hub, topic string, capacity int) *subscriber.Subscriber {
	t.Helper()
	s, err := subscriber.New(h, subscriber.Config{
		Name: "viewer",
		Topics: []queue.Config{{
			TopicName: topic,
			Capacity:  capacity,
			Ordering:  queue.FIFO,
			Overflow:  queue.RejectNewest,
		}},
	}, subscriber.Bindings{
		topic: func(context.Context, topics.Topic, subscriber.Identity) error { return nil },
	})
	require.NoError(t, err)
	return s
}

func statusPayload(v topics.StatusValue) json.RawMessage {
	return json.RawMessage(`{"status":"` + string(v) + `"}`)
}

func TestNew(t *testing.T) {
	h := newHub(t)

	p, err := publisher.New(h, publisher.Config{Name: "cam1", Topics: []string{"status", "images", "status"}})
	require.NoError(t, err)
	assert.Equal(t, "cam1", p.Name())
	assert.Equal(t, []string{"images", "status"}, p.Topics())

	info, ok := h.Registry().LookupTopic("images")
	require.True(t, ok)
	assert.Equal(t, "cam1", info.Owner)

	t.Run("topic already owned", func(t *testing.T) {
		_, err := publisher.New(h, publisher.Config{Name: "cam2", Topics: []string{"status"}})
		assert.ErrorIs(t, err, topicmgr.ErrRegistrationConflict)
		_, ok := h.Registry().LookupPublisher("cam2")
		assert.False(t, ok)
	})

	t.Run("name taken", func(t *testing.T) {
		_, err := publisher.New(h, publisher.Config{Name: "cam1", Topics: []string{"drawn_images"}})
		assert.ErrorIs(t, err, topicmgr.ErrRegistrationConflict)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := publisher.New(h, publisher.Config{Name: "cam3"})
		assert.ErrorIs(t, err, topicmgr.ErrInvalidConfig)
		_, err = publisher.New(h, publisher.Config{Topics: []string{"segmented_images"}})
		assert.ErrorIs(t, err, topicmgr.ErrInvalidConfig)
	})
}

func TestPublish_UnknownTopic(t *testing.T) {
	h := newHub(t)
	p, err := publisher.New(h, publisher.Config{Name: "cam1", Topics: []string{"status"}})
	require.NoError(t, err)

	err = p.Publish(context.Background(), "images", json.RawMessage(`{}`), publisher.Sync())
	assert.ErrorIs(t, err, topicmgr.ErrUnknownTopic)

	err = p.Publish(context.Background(), "images", json.RawMessage(`{}`), publisher.Async())
	assert.ErrorIs(t, err, topicmgr.ErrUnknownTopic)
}

func TestPublish_Sync(t *testing.T) {
	h := newHub(t)
	p, err := publisher.New(h, publisher.Config{Name: "cam1", Topics: []string{"status"}})
	require.NoError(t, err)

	t.Run("no subscribers", func(t *testing.T) {
		err := p.Publish(context.Background(), "status", statusPayload(topics.StatusActive), publisher.Sync())
		assert.ErrorIs(t, err, topicmgr.ErrNoSubscribers)
	})

	viewer := listen(t, h, "status", 4)

	t.Run("invalid payload is not dispatched", func(t *testing.T) {
		err := p.Publish(context.Background(), "status", json.RawMessage(`{"status":"ON"}`), publisher.Sync())
		assert.ErrorIs(t, err, topicmgr.ErrInvalidPayload)
		assert.Empty(t, viewer.Pending("status"))
	})

	t.Run("delivered before return", func(t *testing.T) {
		err := p.Publish(context.Background(), "status", statusPayload(topics.StatusPending), publisher.Sync())
		require.NoError(t, err)

		pending := viewer.Pending("status")
		require.Len(t, pending, 1)
		assert.Equal(t, topics.StatusPending, pending[0].(topics.Status).Value())
	})
}

func TestPublish_AsyncErrorsAreNotReturned(t *testing.T) {
	h := newHub(t)
	p, err := publisher.New(h, publisher.Config{Name: "cam1", Topics: []string{"status"}})
	require.NoError(t, err)

	assert.NoError(t, p.Publish(context.Background(), "status", statusPayload(topics.StatusActive)))
	assert.NoError(t, p.Publish(context.Background(), "status", json.RawMessage(`not json`)))
	p.Wait()
}

func TestPublish_AsyncSurvivesCanceledContext(t *testing.T) {
	h := newHub(t)
	p, err := publisher.New(h, publisher.Config{Name: "cam1", Topics: []string{"status"}})
	require.NoError(t, err)
	viewer := listen(t, h, "status", 4)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Publish(ctx, "status", statusPayload(topics.StatusActive)))
	cancel()
	p.Wait()

	assert.Len(t, viewer.Pending("status"), 1)
}

func TestPublish_ExclusivePreservesCallOrder(t *testing.T) {
	h := hub.New(hub.WithMaxWorkers(4))
	t.Cleanup(func() { require.NoError(t, h.Shutdown(context.Background())) })

	p, err := publisher.New(h, publisher.Config{Name: "cam1", Topics: []string{"status"}})
	require.NoError(t, err)
	viewer := listen(t, h, "status", 16)

	values := []topics.StatusValue{
		topics.StatusActive, topics.StatusPending, topics.StatusNonActive,
		topics.StatusActive, topics.StatusNonActive, topics.StatusPending,
	}
	for _, v := range values {
		require.NoError(t, p.Publish(context.Background(), "status", statusPayload(v), publisher.Exclusive()))
	}
	p.Wait()

	pending := viewer.Pending("status")
	require.Len(t, pending, len(values))
	for i, v := range values {
		assert.Equal(t, v, pending[i].(topics.Status).Value(), "position %d", i)
	}
}

type countingFactory struct {
	calls atomic.Int32
	next  topics.Factory
}

func (f *countingFactory) Create(name string, raw json.RawMessage) (topics.Topic, error) {
	f.calls.Add(1)
	return f.next.Create(name, raw)
}

func TestPublish_WithFactory(t *testing.T) {
	h := newHub(t)
	factory := &countingFactory{next: topics.NewCreator()}
	p, err := publisher.New(h, publisher.Config{Name: "cam1", Topics: []string{"status"}},
		publisher.WithFactory(factory))
	require.NoError(t, err)
	listen(t, h, "status", 1)

	require.NoError(t, p.Publish(context.Background(), "status", statusPayload(topics.StatusActive), publisher.Sync()))
	assert.Equal(t, int32(1), factory.calls.Load())
}
