package synchub

import (
	"context"
	"sync"
	"sync/atomic"
)

// Subscriber attaches one callback to one event type on a Bus for the
// lifetime of a consumer (a view, a notifier, a CLI printer).
//
// The callback can be swapped at any time with SetCallback without touching
// the bus registration: the registered wrapper always calls the latest one.
// A Subscriber built with a nil Bus does nothing.
type Subscriber struct {
	bus    *Bus
	event  EventType
	latest atomic.Pointer[ListenerFunc]

	mu       sync.Mutex
	listener *Listener
	active   *atomic.Bool
}

// NewSubscriber creates a detached subscriber.
func NewSubscriber(bus *Bus, event EventType) *Subscriber {
	return &Subscriber{bus: bus, event: event}
}

// SetCallback replaces the callback invoked on the next emission.
func (s *Subscriber) SetCallback(fn ListenerFunc) {
	if fn == nil {
		s.latest.Store(nil)
		return
	}
	s.latest.Store(&fn)
}

// Attach registers the wrapper on the bus. Calling it while attached is a no-op.
func (s *Subscriber) Attach() {
	if s.bus == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return
	}

	active := &atomic.Bool{}
	active.Store(true)
	s.active = active
	s.listener = s.bus.On(s.event, func(ctx context.Context, env Envelope) {
		if !active.Load() {
			return
		}
		if fn := s.latest.Load(); fn != nil {
			(*fn)(ctx, env)
		}
	})
}

// Detach removes the wrapper. Once it returns no new invocation starts,
// including from an emission that was already iterating its listeners.
func (s *Subscriber) Detach() {
	if s.bus == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return
	}
	s.active.Store(false)
	s.bus.Off(s.event, s.listener)
	s.listener = nil
	s.active = nil
}

// Attached reports whether the wrapper is currently registered.
func (s *Subscriber) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil
}

// Subscribe attaches fn to event and detaches it when ctx is done.
func Subscribe(ctx context.Context, bus *Bus, event EventType, fn ListenerFunc) *Subscriber {
	s := NewSubscriber(bus, event)
	s.SetCallback(fn)
	s.Attach()
	if bus != nil {
		context.AfterFunc(ctx, s.Detach)
	}
	return s
}
