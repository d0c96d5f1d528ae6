// Package eventbus provides event-driven communication infrastructure for
// workflow lifecycle notifications.
package eventbus

import (
	"context"

	"github.com/adlytics/adflow/pkg/events"
)

// Event is anything publishable on the bus.
type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes lifecycle events keyed by execution ID.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventHandler processes one decoded event.
type EventHandler func(ctx context.Context, event any) error

// EventSubscriber routes incoming events to registered handlers.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler)
	Subscribe(ctx context.Context) error
}

// EventBus is the full publish/subscribe surface used by the engine.
type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
