// Package concurrency is the L5 concurrency/resource model (§5): the
// mutex/once abstractions the rest of the core leans on (generalizing the
// decode-cache's "at-most-one decoder thread per body, concurrent callers
// either race and both decode or wait" policy, §4.4 "Cache policy"), and
// atomic memory operations for the Wasm threads proposal.
package concurrency

import "sync"

// Guarded pairs a value with the mutex that protects it, so every access
// site is forced through With and can never forget to lock. This
// generalizes the ad hoc "lock, mutate, unlock" pattern memprovider's
// baseProvider repeats per method into a single reusable type.
type Guarded[T any] struct {
	mu    sync.Mutex
	value T
}

func NewGuarded[T any](initial T) *Guarded[T] {
	return &Guarded[T]{value: initial}
}

// With runs fn with exclusive access to the guarded value.
func (g *Guarded[T]) With(fn func(v *T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.value)
}

// Lazy computes a value exactly once across any number of concurrent
// callers, matching §4.4's cache policy: "At-most-one decoder thread per
// body; concurrent callers either race and both decode (idempotent) or wait
// depending on the mutex used by the provider." Lazy implements the "wait"
// half: every caller after the first blocks on the same sync.Once and
// observes the same (value, err) pair.
type Lazy[T any] struct {
	once  sync.Once
	value T
	err   error
	init  func() (T, error)
}

func NewLazy[T any](init func() (T, error)) *Lazy[T] {
	return &Lazy[T]{init: init}
}

func (l *Lazy[T]) Get() (T, error) {
	l.once.Do(func() { l.value, l.err = l.init() })
	return l.value, l.err
}
