// Package eventbus is an in-process publish/subscribe bus keyed by a closed
// topic type. Each component declares its own topic enum; a subscriber that
// cares about several topics lists them explicitly.
package eventbus

import (
	"sync"

	"github.com/oklog/ulid/v2"
)

// Event is delivered to subscribers.
type Event[T comparable] struct {
	Topic   T
	Payload any
}

// Handler receives events for the topics it subscribed to.
type Handler[T comparable] func(Event[T])

// Handle identifies one subscription. The zero Handle is never issued.
type Handle struct {
	id ulid.ULID
}

// IsZero reports whether h was never returned by Subscribe.
func (h Handle) IsZero() bool {
	return h.id == (ulid.ULID{})
}

func (h Handle) String() string {
	return h.id.String()
}

type subscription[T comparable] struct {
	handle  Handle
	topics  map[T]struct{}
	handler Handler[T]
}

// Bus fans events out to subscribers in subscription order.
type Bus[T comparable] struct {
	mu   sync.RWMutex
	subs []*subscription[T]
}

// New creates an empty bus.
func New[T comparable]() *Bus[T] {
	return &Bus[T]{}
}

// Subscribe registers handler for the given topics and returns its handle.
func (b *Bus[T]) Subscribe(handler Handler[T], topics ...T) Handle {
	if handler == nil || len(topics) == 0 {
		return Handle{}
	}
	sub := &subscription[T]{
		handle:  Handle{id: ulid.Make()},
		topics:  make(map[T]struct{}, len(topics)),
		handler: handler,
	}
	for _, topic := range topics {
		sub.topics[topic] = struct{}{}
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub.handle
}

// Unsubscribe revokes the subscription. It reports whether the handle was live.
func (b *Bus[T]) Unsubscribe(handle Handle) bool {
	if handle.IsZero() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.handle == handle {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers payload to every subscriber of topic. Handlers run on the
// caller's goroutine, outside the bus lock, so they may subscribe or
// unsubscribe.
func (b *Bus[T]) Publish(topic T, payload any) int {
	b.mu.RLock()
	targets := make([]Handler[T], 0, len(b.subs))
	for _, sub := range b.subs {
		if _, ok := sub.topics[topic]; ok {
			targets = append(targets, sub.handler)
		}
	}
	b.mu.RUnlock()

	event := Event[T]{Topic: topic, Payload: payload}
	for _, handler := range targets {
		handler(event)
	}
	return len(targets)
}

// Len returns the number of live subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
