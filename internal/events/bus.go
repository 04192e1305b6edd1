package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(FrameCapturedEvent{...})
func (b *Bus) Publish(ev Event) {
	// kelindar/event is generic; dispatch on the concrete type
	switch e := ev.(type) {
	case CaptureStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case FrameCapturedEvent:
		event.Publish(b.dispatcher, e)
	case FrameDroppedEvent:
		event.Publish(b.dispatcher, e)
	case CaptureTimeoutEvent:
		event.Publish(b.dispatcher, e)
	case CaptureErrorEvent:
		event.Publish(b.dispatcher, e)
	case DeviceRemovedEvent:
		event.Publish(b.dispatcher, e)
	case CaptureMetricsEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler's parameter type selects the events it receives.
// Returns an unsubscribe function; unknown handler types get a no-op.
// Usage: unsub := bus.Subscribe(func(e FrameDroppedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(CaptureStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FrameCapturedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FrameDroppedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CaptureTimeoutEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CaptureErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DeviceRemovedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CaptureMetricsEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
