package eventbus

// Group collects handles so a component can revoke all of its
// subscriptions at once.
type Group[T comparable] struct {
	bus     *Bus[T]
	handles []Handle
}

// NewGroup returns an empty group bound to bus.
func NewGroup[T comparable](bus *Bus[T]) *Group[T] {
	return &Group[T]{bus: bus}
}

// Subscribe subscribes through the group's bus and remembers the handle.
func (g *Group[T]) Subscribe(handler Handler[T], topics ...T) Handle {
	handle := g.bus.Subscribe(handler, topics...)
	if !handle.IsZero() {
		g.handles = append(g.handles, handle)
	}
	return handle
}

// Close unsubscribes every handle in the group. Closing twice is harmless.
func (g *Group[T]) Close() {
	for _, handle := range g.handles {
		g.bus.Unsubscribe(handle)
	}
	g.handles = nil
}

// Len returns the number of handles held.
func (g *Group[T]) Len() int {
	return len(g.handles)
}
