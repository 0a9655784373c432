package subprocess

import (
	"maps"
	"slices"
	"sync"
)

// registry is a set of callbacks that can be removed individually.
// Handlers are invoked in registration order.
type registry[T any] struct {
	mu       sync.Mutex
	next     int
	handlers map[int]func(T)
}

func (r *registry[T]) add(fn func(T)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handlers == nil {
		r.handlers = make(map[int]func(T), 1)
	}

	id := r.next
	r.next++
	r.handlers[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		delete(r.handlers, id)
	}
}

func (r *registry[T]) emit(v T) {
	r.mu.Lock()
	ids := slices.Sorted(maps.Keys(r.handlers))
	fns := make([]func(T), 0, len(ids))

	for _, id := range ids {
		fns = append(fns, r.handlers[id])
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
