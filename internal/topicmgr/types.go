package topicmgr

// PublisherRecord is the registry's view of a publisher: its name and the topics it owns.
type PublisherRecord struct {
	Name   string   `json:"name"`
	Topics []string `json:"topics"`
}

// SubscriberRecord is the registry's view of a subscriber and the topics it listens to.
type SubscriberRecord struct {
	Name   string   `json:"name"`
	Topics []string `json:"topics"`
}

// TopicOwnership tracks who owns a topic and who subscribes to it.
// Owner is empty until a publisher claims the topic.
type TopicOwnership struct {
	TopicName   string   `json:"topic_name"`
	Owner       string   `json:"owner,omitempty"`
	Subscribers []string `json:"subscribers"`
}

// HasOwner reports whether a publisher has claimed the topic.
func (o TopicOwnership) HasOwner() bool {
	return o.Owner != ""
}

// HasSubscribers reports whether at least one subscriber listens to the topic.
func (o TopicOwnership) HasSubscribers() bool {
	return len(o.Subscribers) > 0
}

// TopicError represents structured errors raised by the hub and its components
type TopicError struct {
	Type      ErrorType `json:"type"`
	Topic     string    `json:"topic,omitempty"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
	Cause     error     `json:"cause,omitempty"`
}

// ErrorType defines the kind of a hub error
type ErrorType string

const (
	ErrorRegistrationConflict ErrorType = "registration_conflict"
	ErrorUnknownTopic         ErrorType = "unknown_topic"
	ErrorInvalidPayload       ErrorType = "invalid_payload"
	ErrorNoSubscribers        ErrorType = "no_subscribers"
	ErrorQueueOverflow        ErrorType = "queue_overflow"
	ErrorEmptyQueue           ErrorType = "empty_queue"
	ErrorHandlerFailure       ErrorType = "handler_failure"
	ErrorInvalidConfig        ErrorType = "invalid_config"
	ErrorHubClosed            ErrorType = "hub_closed"
)

// Sentinels for errors.Is. Any *TopicError with the same Type matches.
var (
	ErrRegistrationConflict = &TopicError{Type: ErrorRegistrationConflict, Message: "registration conflict"}
	ErrUnknownTopic         = &TopicError{Type: ErrorUnknownTopic, Message: "unknown topic"}
	ErrInvalidPayload       = &TopicError{Type: ErrorInvalidPayload, Message: "invalid payload"}
	ErrNoSubscribers        = &TopicError{Type: ErrorNoSubscribers, Message: "no subscribers"}
	ErrQueueOverflow        = &TopicError{Type: ErrorQueueOverflow, Message: "queue overflow"}
	ErrEmptyQueue           = &TopicError{Type: ErrorEmptyQueue, Message: "queue is empty"}
	ErrHandlerFailure       = &TopicError{Type: ErrorHandlerFailure, Message: "handler failed"}
	ErrInvalidConfig        = &TopicError{Type: ErrorInvalidConfig, Message: "invalid configuration"}
	ErrHubClosed            = &TopicError{Type: ErrorHubClosed, Message: "hub is closed"}
)

// Error implements the error interface
func (e *TopicError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *TopicError) Unwrap() error {
	return e.Cause
}

// Is matches any TopicError of the same Type.
func (e *TopicError) Is(target error) bool {
	t, ok := target.(*TopicError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// NewError builds a TopicError of the given type.
func NewError(typ ErrorType, topic, component, message string, cause error) *TopicError {
	return &TopicError{
		Type:      typ,
		Topic:     topic,
		Component: component,
		Message:   message,
		Cause:     cause,
	}
}
