package topicmgr

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// ownership is the mutable form of TopicOwnership kept inside the registry.
type ownership struct {
	owner       string
	subscribers map[string]struct{}
}

// Registry is the authoritative store of publisher, subscriber and topic ownership records.
// Registrations are serialized by a write lock; lookups share a read lock and always
// observe either the state before or after a registration, never a partial one.
type Registry struct {
	publishers  map[string][]string
	subscribers map[string][]string
	topics      map[string]*ownership
	validator   *Validator
	mu          sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		publishers:  make(map[string][]string),
		subscribers: make(map[string][]string),
		topics:      make(map[string]*ownership),
		validator:   NewValidator(),
	}
}

// RegisterPublisher records a publisher and claims ownership of each of its topics.
// It fails with a registration conflict if the name is taken or any topic already has an owner.
// Nothing is recorded when it fails.
func (r *Registry) RegisterPublisher(name string, topics []string) error {
	normalized, err := r.validate(name, topics)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.publishers[name]; exists {
		return &TopicError{
			Type:      ErrorRegistrationConflict,
			Component: name,
			Message:   fmt.Sprintf("publisher already registered: %s", name),
		}
	}

	// Check every topic before touching any state.
	for _, topic := range normalized {
		if info, exists := r.topics[topic]; exists && info.owner != "" {
			return &TopicError{
				Type:      ErrorRegistrationConflict,
				Topic:     topic,
				Component: name,
				Message:   fmt.Sprintf("topic %s is already owned by publisher %s", topic, info.owner),
			}
		}
	}

	r.publishers[name] = normalized
	for _, topic := range normalized {
		r.entry(topic).owner = name
	}
	return nil
}

// RegisterSubscriber records a subscriber and adds it to each topic's subscriber set.
// Topics need not have an owner yet.
func (r *Registry) RegisterSubscriber(name string, topics []string) error {
	normalized, err := r.validate(name, topics)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.subscribers[name]; exists {
		return &TopicError{
			Type:      ErrorRegistrationConflict,
			Component: name,
			Message:   fmt.Sprintf("subscriber already registered: %s", name),
		}
	}

	r.subscribers[name] = normalized
	for _, topic := range normalized {
		r.entry(topic).subscribers[name] = struct{}{}
	}
	return nil
}

// LookupPublisher returns the publisher record for name.
func (r *Registry) LookupPublisher(name string) (PublisherRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics, exists := r.publishers[name]
	if !exists {
		return PublisherRecord{}, false
	}
	return PublisherRecord{Name: name, Topics: slices.Clone(topics)}, true
}

// LookupSubscriber returns the subscriber record for name.
func (r *Registry) LookupSubscriber(name string) (SubscriberRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics, exists := r.subscribers[name]
	if !exists {
		return SubscriberRecord{}, false
	}
	return SubscriberRecord{Name: name, Topics: slices.Clone(topics)}, true
}

// LookupTopic returns the ownership record for a topic.
func (r *Registry) LookupTopic(topic string) (TopicOwnership, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.topics[topic]
	if !exists {
		return TopicOwnership{}, false
	}
	return info.snapshot(topic), true
}

// ListPublishers returns all publisher records sorted by name
func (r *Registry) ListPublishers() []PublisherRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]PublisherRecord, 0, len(r.publishers))
	for name, topics := range r.publishers {
		records = append(records, PublisherRecord{Name: name, Topics: slices.Clone(topics)})
	}
	slices.SortFunc(records, func(a, b PublisherRecord) int { return cmp.Compare(a.Name, b.Name) })
	return records
}

// ListSubscribers returns all subscriber records sorted by name
func (r *Registry) ListSubscribers() []SubscriberRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]SubscriberRecord, 0, len(r.subscribers))
	for name, topics := range r.subscribers {
		records = append(records, SubscriberRecord{Name: name, Topics: slices.Clone(topics)})
	}
	slices.SortFunc(records, func(a, b SubscriberRecord) int { return cmp.Compare(a.Name, b.Name) })
	return records
}

// ListTopics returns all ownership records sorted by topic name
func (r *Registry) ListTopics() []TopicOwnership {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]TopicOwnership, 0, len(r.topics))
	for name, info := range r.topics {
		records = append(records, info.snapshot(name))
	}
	slices.SortFunc(records, func(a, b TopicOwnership) int { return cmp.Compare(a.TopicName, b.TopicName) })
	return records
}

// Stats returns registry statistics
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		Publishers:  len(r.publishers),
		Subscribers: len(r.subscribers),
		Topics:      len(r.topics),
	}
	for _, info := range r.topics {
		if info.owner == "" {
			stats.UnownedTopics++
		}
		if len(info.subscribers) == 0 {
			stats.UnsubscribedTopics++
		}
	}
	return stats
}

// RegistryStats provides statistics about the registry
type RegistryStats struct {
	Publishers         int `json:"publishers"`
	Subscribers        int `json:"subscribers"`
	Topics             int `json:"topics"`
	UnownedTopics      int `json:"unowned_topics"`
	UnsubscribedTopics int `json:"unsubscribed_topics"`
}

func (r *Registry) validate(name string, topics []string) ([]string, error) {
	if err := r.validator.ValidateComponentName(name); err != nil {
		return nil, &TopicError{
			Type:      ErrorInvalidConfig,
			Component: name,
			Message:   "invalid component name",
			Cause:     err,
		}
	}
	normalized, err := r.validator.normalizeTopics(topics)
	if err != nil {
		return nil, &TopicError{
			Type:      ErrorInvalidConfig,
			Component: name,
			Message:   "invalid topic set",
			Cause:     err,
		}
	}
	return normalized, nil
}

// entry returns the ownership record for topic, creating it on first reference.
// Callers must hold the write lock.
func (r *Registry) entry(topic string) *ownership {
	info, exists := r.topics[topic]
	if !exists {
		info = &ownership{subscribers: make(map[string]struct{})}
		r.topics[topic] = info
	}
	return info
}

func (o *ownership) snapshot(topic string) TopicOwnership {
	subs := make([]string, 0, len(o.subscribers))
	for name := range o.subscribers {
		subs = append(subs, name)
	}
	slices.Sort(subs)
	return TopicOwnership{
		TopicName:   topic,
		Owner:       o.owner,
		Subscribers: subs,
	}
}
