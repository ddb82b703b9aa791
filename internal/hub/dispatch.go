package hub

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/datahub/internal/topics"
)

// Dispatch is the handle returned by Publish. It completes once every subscriber in the
// snapshot has had its delivery attempted.
type Dispatch struct {
	ID          string
	PublishedAt time.Time

	topic       topics.Topic
	subscribers []string

	mu      sync.Mutex
	results map[string]error
	done    chan struct{}
}

func newDispatch(topic topics.Topic, subscribers []string) *Dispatch {
	return &Dispatch{
		ID:          uuid.New().String(),
		PublishedAt: time.Now().UTC(),
		topic:       topic,
		subscribers: subscribers,
		results:     make(map[string]error, len(subscribers)),
		done:        make(chan struct{}),
	}
}

// Topic returns the dispatched topic
func (d *Dispatch) Topic() topics.Topic {
	return d.topic
}

// Subscribers returns the subscriber snapshot taken at publish time.
func (d *Dispatch) Subscribers() []string {
	out := make([]string, len(d.subscribers))
	copy(out, d.subscribers)
	return out
}

// Done is closed when the dispatch has completed.
func (d *Dispatch) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the dispatch completes or ctx ends.
// Per-subscriber failures are not returned; see Results.
func (d *Dispatch) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results maps each subscriber that has been attempted to its delivery error. A nil entry
// means the subscriber accepted the topic into its queue; a later drop_oldest eviction is
// reported only as a DROPPED event, not here.
func (d *Dispatch) Results() map[string]error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.results)
}

func (d *Dispatch) delivery() Delivery {
	return Delivery{
		DispatchID:  d.ID,
		Topic:       d.topic,
		PublishedAt: d.PublishedAt,
	}
}

func (d *Dispatch) record(subscriber string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results[subscriber] = err
}

func (d *Dispatch) complete() {
	close(d.done)
}
