package events

import (
	"sync"
	"sync/atomic"

	"github.com/kelindar/event"
)

// Forwarder copies selected bus events into one buffered channel for a
// select loop such as an SSE handler. A full channel drops the event and
// counts it; the dispatcher is never blocked.
type Forwarder struct {
	ch      chan any
	dropped atomic.Uint64

	mu     sync.Mutex
	unsubs []func()
	closed bool
}

// NewForwarder creates a forwarder whose channel holds size events.
func NewForwarder(size int) *Forwarder {
	return &Forwarder{ch: make(chan any, size)}
}

// Forward subscribes f to events of type T on bus.
func Forward[T Event](bus *Bus, f *Forwarder) {
	unsub := event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case f.ch <- e:
		default:
			f.dropped.Add(1)
		}
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		unsub()
		return
	}
	f.unsubs = append(f.unsubs, unsub)
}

// C returns the channel events are delivered on.
func (f *Forwarder) C() <-chan any {
	return f.ch
}

// Dropped returns how many events did not fit in the channel.
func (f *Forwarder) Dropped() uint64 {
	return f.dropped.Load()
}

// Close unsubscribes from every event type. The channel stays open so a
// late dispatch cannot panic.
func (f *Forwarder) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, unsub := range f.unsubs {
		unsub()
	}
	f.unsubs = nil
}
