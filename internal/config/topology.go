package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/nfrund/datahub/internal/publisher"
	"github.com/nfrund/datahub/internal/queue"
	"github.com/nfrund/datahub/internal/subscriber"
	"github.com/nfrund/datahub/internal/topicmgr"
	"github.com/nfrund/datahub/internal/topics"
	"github.com/spf13/afero"
)

// Topology describes every publisher and subscriber of a hub, keyed by component name.
//
//	{
//	  "publishers":  {"cam1": {"topics": ["images"]}},
//	  "subscribers": {"viewer": {"topics": {"images": {"capacity": 1, "ordering": "FIFO", "overflow": "drop_oldest"}}}}
//	}
type Topology struct {
	Publishers  map[string]PublisherSpec  `json:"publishers" validate:"dive,keys,required,endkeys"`
	Subscribers map[string]SubscriberSpec `json:"subscribers" validate:"dive,keys,required,endkeys"`
}

// PublisherSpec is one publisher entry.
type PublisherSpec struct {
	Topics []string `json:"topics" validate:"required,min=1,dive,required"`
}

// SubscriberSpec is one subscriber entry: the queue features per topic.
type SubscriberSpec struct {
	Topics map[string]QueueSpec `json:"topics" validate:"required,min=1,dive,keys,required,endkeys"`
}

// QueueSpec is the queue a subscriber wants for one topic.
type QueueSpec struct {
	Capacity int                  `json:"capacity" validate:"min=1"`
	Ordering queue.Ordering       `json:"ordering" validate:"required,oneof=FIFO LIFO"`
	Overflow queue.OverflowPolicy `json:"overflow" validate:"required,oneof=drop_oldest reject_newest"`
}

var validate = validator.New()

// LoadTopology reads and validates the topology file at path.
func LoadTopology(fs afero.Fs, path string) (*Topology, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading topology %s: %w", path, err)
	}
	return ParseTopology(data)
}

// ParseTopology decodes and validates a topology document. Unknown fields are rejected.
func ParseTopology(data []byte) (*Topology, error) {
	var t Topology
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return nil, topicmgr.NewError(topicmgr.ErrorInvalidConfig, "", "", "malformed topology", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks field constraints, that every topic is a known topic, and that no topic
// is claimed by two publishers.
func (t *Topology) Validate() error {
	if err := validate.Struct(t); err != nil {
		return topicmgr.NewError(topicmgr.ErrorInvalidConfig, "", "", "invalid topology", err)
	}

	known := make(map[string]bool)
	for _, n := range topics.Names() {
		known[n.String()] = true
	}

	owners := make(map[string]string)
	for _, name := range slices.Sorted(maps.Keys(t.Publishers)) {
		for _, topic := range t.Publishers[name].Topics {
			if !known[topic] {
				return topicmgr.NewError(topicmgr.ErrorUnknownTopic, topic, name,
					fmt.Sprintf("publisher %s declares unknown topic %s", name, topic), nil)
			}
			if owner, taken := owners[topic]; taken && owner != name {
				return topicmgr.NewError(topicmgr.ErrorRegistrationConflict, topic, name,
					fmt.Sprintf("topic %s is owned by both %s and %s", topic, owner, name), nil)
			}
			owners[topic] = name
		}
	}

	for _, name := range slices.Sorted(maps.Keys(t.Subscribers)) {
		for topic := range t.Subscribers[name].Topics {
			if !known[topic] {
				return topicmgr.NewError(topicmgr.ErrorUnknownTopic, topic, name,
					fmt.Sprintf("subscriber %s declares unknown topic %s", name, topic), nil)
			}
		}
	}
	return nil
}

// PublisherConfigs returns one publisher.Config per entry, sorted by name.
func (t *Topology) PublisherConfigs() []publisher.Config {
	out := make([]publisher.Config, 0, len(t.Publishers))
	for _, name := range slices.Sorted(maps.Keys(t.Publishers)) {
		out = append(out, publisher.Config{
			Name:   name,
			Topics: slices.Clone(t.Publishers[name].Topics),
		})
	}
	return out
}

// SubscriberConfigs returns one subscriber.Config per entry, sorted by name, with queues
// sorted by topic.
func (t *Topology) SubscriberConfigs() []subscriber.Config {
	out := make([]subscriber.Config, 0, len(t.Subscribers))
	for _, name := range slices.Sorted(maps.Keys(t.Subscribers)) {
		spec := t.Subscribers[name]
		cfg := subscriber.Config{Name: name}
		for _, topic := range slices.Sorted(maps.Keys(spec.Topics)) {
			q := spec.Topics[topic]
			cfg.Topics = append(cfg.Topics, queue.Config{
				TopicName: topic,
				Capacity:  q.Capacity,
				Ordering:  q.Ordering,
				Overflow:  q.Overflow,
			})
		}
		out = append(out, cfg)
	}
	return out
}
