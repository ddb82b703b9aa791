package publisher

// Mode selects whether Publish waits for delivery.
type Mode int

const (
	// ModeAsync returns as soon as the publish has been scheduled.
	ModeAsync Mode = iota
	// ModeSync returns once every subscriber delivery has been attempted.
	ModeSync
)

func (m Mode) String() string {
	switch m {
	case ModeSync:
		return "sync"
	default:
		return "async"
	}
}

type publishOptions struct {
	mode      Mode
	exclusive bool
}

// PublishOption configures a single Publish call.
type PublishOption func(*publishOptions)

// Sync makes Publish block until delivery and report its errors.
func Sync() PublishOption {
	return func(o *publishOptions) { o.mode = ModeSync }
}

// Async makes Publish return immediately. This is the default.
func Async() PublishOption {
	return func(o *publishOptions) { o.mode = ModeAsync }
}

// Exclusive serializes this publisher's async publishes: the call blocks until the previous
// exclusive publish has been delivered. It has no effect in Sync mode.
func Exclusive() PublishOption {
	return func(o *publishOptions) { o.exclusive = true }
}
