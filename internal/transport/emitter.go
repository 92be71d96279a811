package transport

import (
	"sync"
)

// Emitter fans events out to registered listeners.
// The zero value is ready to use.
type Emitter[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]func(T)
}

// On registers fn and returns a function that removes it.
func (e *Emitter[T]) On(fn func(T)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listeners == nil {
		e.listeners = map[uint64]func(T){}
	}
	e.nextID++
	id := e.nextID
	e.listeners[id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
	}
}

// Emit calls every listener with v outside the lock.
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	fns := make([]func(T), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of registered listeners.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}
