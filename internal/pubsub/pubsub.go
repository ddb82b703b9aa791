package pubsub

import (
	"context"

	"github.com/nfrund/datahub/internal/hub"
)

// DeliveryTopic is the stream topic every delivery event is published on.
const DeliveryTopic = "datahub.delivery"

// EventHandler processes one delivery event received from the stream.
type EventHandler func(ctx context.Context, ev hub.DeliveryEvent) error

// Stream carries delivery state transitions from the hub to any number of monitors.
type Stream interface {
	hub.EventSink

	// Subscribe starts a background loop feeding every subsequent event to handler.
	// The loop ends when ctx is canceled or the stream is closed.
	Subscribe(ctx context.Context, handler EventHandler) error
	Close() error
}
