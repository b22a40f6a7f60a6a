package events

import "sync"

// Registry provides in-process fan-out of state snapshots to subscribers
// keyed by id. Delivery is synchronous and best-effort: no backpressure, no
// guarantee beyond the in-process call. Publishers must hand out immutable
// snapshots, never shared mutable state.
type Registry[T any] struct {
	mu   sync.RWMutex
	subs map[string]func(T)
}

// NewRegistry constructs an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{subs: make(map[string]func(T))}
}

// Subscribe registers a callback under the given id, replacing any previous
// callback registered under the same id.
func (r *Registry[T]) Subscribe(id string, fn func(T)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[id] = fn
}

// Unsubscribe removes the callback registered under id, if any.
func (r *Registry[T]) Unsubscribe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

// Publish delivers the snapshot to every subscriber.
func (r *Registry[T]) Publish(snapshot T) {
	r.mu.RLock()
	fns := make([]func(T), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.RUnlock()

	// Callbacks run synchronously outside the lock; a subscriber may
	// unsubscribe itself from within its callback.
	for _, fn := range fns {
		fn(snapshot)
	}
}

// Len returns the number of registered subscribers.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
