// Package event provides a minimal typed publish/subscribe primitive.
//
// Components that fire domain events hold one Emitter per event; listeners
// subscribe with a plain function. Emit delivers synchronously on the calling
// goroutine, so listeners must not block or re-enter the emitting component.
package event

import "sync"

// Emitter fans a value of type T out to every subscribed listener.
// The zero value is ready to use.
type Emitter[T any] struct {
	mu        sync.RWMutex
	listeners []func(T)
}

// Subscribe registers fn to be called on every subsequent Emit.
// Listeners cannot be removed; subscribe once and keep the emitter's lifetime
// tied to its owner.
func (e *Emitter[T]) Subscribe(fn func(T)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// Emit calls every listener in subscription order with v.
// The listener slice is snapshotted under the lock, so a listener may safely
// subscribe further listeners without deadlocking.
func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	listeners := e.listeners
	e.mu.RUnlock()

	for _, fn := range listeners {
		fn(v)
	}
}

// Len reports the current number of listeners.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}
