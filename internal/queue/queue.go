package queue

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/nfrund/datahub/internal/topicmgr"
	"github.com/nfrund/datahub/internal/topics"
)

// Ordering selects which end of the queue Pop removes from.
type Ordering string

const (
	FIFO Ordering = "FIFO"
	LIFO Ordering = "LIFO"
)

// OverflowPolicy resolves a Push into a full queue.
type OverflowPolicy string

const (
	// DropOldest evicts the current head, the item Pop would return next, to make room for
	// the new one. For FIFO that is the oldest accepted item, for LIFO the newest.
	DropOldest OverflowPolicy = "drop_oldest"
	// RejectNewest discards the incoming item and reports an overflow.
	RejectNewest OverflowPolicy = "reject_newest"
)

// Config describes the queue a subscriber wants for one topic.
type Config struct {
	TopicName string         `json:"topic_name" validate:"required"`
	Capacity  int            `json:"capacity" validate:"min=1"`
	Ordering  Ordering       `json:"ordering" validate:"required,oneof=FIFO LIFO"`
	Overflow  OverflowPolicy `json:"overflow" validate:"required,oneof=drop_oldest reject_newest"`
}

var validate = validator.New()

// Validate checks the config fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return &topicmgr.TopicError{
			Type:    topicmgr.ErrorInvalidConfig,
			Topic:   c.TopicName,
			Message: "invalid queue config",
			Cause:   err,
		}
	}
	return nil
}

// MessageQueue is a bounded, internally synchronized queue owned by one
// (subscriber, topic) pair.
type MessageQueue[T any] interface {
	// Push inserts item. When the queue is full the overflow policy decides what is discarded;
	// the discarded item is returned. RejectNewest also returns topicmgr.ErrQueueOverflow.
	Push(item T) (dropped T, err error)

	// Pop removes the next item, or fails with topicmgr.ErrEmptyQueue.
	Pop() (T, error)

	// Peek returns the next item without removing it.
	Peek() (T, error)

	IsEmpty() bool
	Len() int
	Cap() int

	// Items returns the queued items in pop order.
	Items() []T

	// Config returns the configuration the queue was built from
	Config() Config

	// Stats returns push counters
	Stats() Stats
}

// Stats counts what happened to pushed items.
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Dropped  uint64 `json:"dropped"`
}

// New builds the queue variant selected by cfg.Ordering.
func New[T any](cfg Config) (MessageQueue[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Ordering {
	case FIFO:
		return &FIFOQueue[T]{bounded: newBounded(cfg, (*ring[T]).popFront)}, nil
	case LIFO:
		return &LIFOQueue[T]{bounded: newBounded(cfg, (*ring[T]).popBack)}, nil
	default:
		return nil, &topicmgr.TopicError{
			Type:    topicmgr.ErrorInvalidConfig,
			Topic:   cfg.TopicName,
			Message: fmt.Sprintf("unsupported queue ordering %q", cfg.Ordering),
		}
	}
}

// bounded holds the storage and overflow handling shared by both orderings.
// Items are kept in insertion order: front is the oldest, back the newest.
// head removes the item at the ordering's pop end.
type bounded[T any] struct {
	mu    sync.Mutex
	cfg   Config
	items ring[T]
	head  func(*ring[T]) T
	stats Stats
}

func newBounded[T any](cfg Config, head func(*ring[T]) T) *bounded[T] {
	return &bounded[T]{
		cfg:   cfg,
		items: newRing[T](cfg.Capacity),
		head:  head,
	}
}

func (b *bounded[T]) Push(item T) (T, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.items.len() < b.cfg.Capacity {
		b.items.pushBack(item)
		b.stats.Accepted++
		var zero T
		return zero, nil
	}

	b.stats.Dropped++
	switch b.cfg.Overflow {
	case DropOldest:
		evicted := b.head(&b.items)
		b.items.pushBack(item)
		b.stats.Accepted++
		return evicted, nil
	default:
		return item, &topicmgr.TopicError{
			Type:    topicmgr.ErrorQueueOverflow,
			Topic:   b.cfg.TopicName,
			Message: fmt.Sprintf("queue for topic %s is full (capacity %d)", b.cfg.TopicName, b.cfg.Capacity),
		}
	}
}

func (b *bounded[T]) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items.len() == 0
}

func (b *bounded[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items.len()
}

func (b *bounded[T]) Cap() int {
	return b.cfg.Capacity
}

func (b *bounded[T]) Config() Config {
	return b.cfg
}

func (b *bounded[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *bounded[T]) empty() error {
	return &topicmgr.TopicError{
		Type:    topicmgr.ErrorEmptyQueue,
		Topic:   b.cfg.TopicName,
		Message: fmt.Sprintf("queue for topic %s is empty", b.cfg.TopicName),
	}
}

// FIFOQueue pops items in the order they were accepted.
type FIFOQueue[T any] struct {
	*bounded[T]
}

func (q *FIFOQueue[T]) Pop() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.len() == 0 {
		var zero T
		return zero, q.empty()
	}
	return q.items.popFront(), nil
}

func (q *FIFOQueue[T]) Peek() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.len() == 0 {
		var zero T
		return zero, q.empty()
	}
	return q.items.front(), nil
}

func (q *FIFOQueue[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.slice()
}

// LIFOQueue pops the most recently accepted item first.
type LIFOQueue[T any] struct {
	*bounded[T]
}

func (q *LIFOQueue[T]) Pop() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.len() == 0 {
		var zero T
		return zero, q.empty()
	}
	return q.items.popBack(), nil
}

func (q *LIFOQueue[T]) Peek() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.len() == 0 {
		var zero T
		return zero, q.empty()
	}
	return q.items.back(), nil
}

func (q *LIFOQueue[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items.slice()
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items
}

// Compile-time interface compliance checks
var (
	_ MessageQueue[topics.Topic] = (*FIFOQueue[topics.Topic])(nil)
	_ MessageQueue[topics.Topic] = (*LIFOQueue[topics.Topic])(nil)
)
