package core

import "sync"

// Emitter is a typed publish/subscribe primitive. Each event kind gets its
// own Emitter instead of a string-keyed dispatch map; Subscribe hands back
// an explicit unsubscribe func.
type Emitter[T any] struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(T)
}

// Subscribe registers fn and returns its unsubscribe handle. The handle is
// safe to call more than once.
func (e *Emitter[T]) Subscribe(fn func(T)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		e.subs = make(map[int]func(T))
	}
	id := e.next
	e.next++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Emit invokes every subscriber with v, outside the emitter lock so
// subscribers may unsubscribe or re-emit.
func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	fns := make([]func(T), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the current subscriber count.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}
