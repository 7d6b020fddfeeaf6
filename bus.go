package synchub

import (
	"context"
	"sync"
)

// ListenerFunc receives one event published on the Bus.
type ListenerFunc func(ctx context.Context, env Envelope)

// Listener is the handle returned by Bus.On. Off removes a registration by
// handle identity, so registering the same function twice yields two
// independent listeners.
type Listener struct {
	event EventType
	fn    ListenerFunc
}

// Event returns the event type the listener is registered for.
func (l *Listener) Event() EventType {
	return l.event
}

// Bus is the in-process publish/subscribe registry that UI-side consumers
// attach to. It knows nothing about the network.
type Bus struct {
	mu        sync.RWMutex
	listeners map[EventType][]*Listener
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[EventType][]*Listener)}
}

// On registers fn for event and returns its handle.
func (b *Bus) On(event EventType, fn ListenerFunc) *Listener {
	l := &Listener{event: event, fn: fn}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[event] = append(b.listeners[event], l)
	return l
}

// Off removes exactly the listener l from event. Unknown handles are ignored.
func (b *Bus) Off(event EventType, l *Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.listeners[event]
	for i, existing := range current {
		if existing != l {
			continue
		}
		next := make([]*Listener, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(b.listeners, event)
		} else {
			b.listeners[event] = next
		}
		return
	}
}

// Emit calls every listener registered for env.Type, in registration order,
// on the calling goroutine. A panicking listener propagates to the caller.
func (b *Bus) Emit(ctx context.Context, env Envelope) {
	b.mu.RLock()
	listeners := b.listeners[env.Type]
	b.mu.RUnlock()

	for _, l := range listeners {
		l.fn(ctx, env)
	}
}

// Clear removes every listener of every event type.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[EventType][]*Listener)
}

// ListenerCount returns how many listeners are registered for event.
func (b *Bus) ListenerCount(event EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[event])
}
