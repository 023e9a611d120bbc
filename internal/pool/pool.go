// Package pool provides bounded stack-based object pools for hot-path
// payloads (notification buffers, event payloads).
//
// sync.Pool is deliberately not used here: it gives no hit/miss accounting,
// no deterministic capacity bound, and may drop items on GC, all of which the
// pool metrics depend on.
package pool

import (
	"sync"
	"sync/atomic"
)

const DefaultCapacity = 64

// Resettable payloads must clear every field on Reset so a released instance
// never retains caller-owned data.
type Resettable interface {
	Reset()
}

// Pool is a bounded LIFO free list.
type Pool[T Resettable] struct {
	mu    sync.Mutex
	stack []T
	cap   int
	newFn func() T

	hits   atomic.Uint64
	misses atomic.Uint64
}

func New[T Resettable](capacity int, newFn func() T) *Pool[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool[T]{cap: capacity, newFn: newFn, stack: make([]T, 0, capacity)}
}

// Acquire pops a pooled instance (hit) or allocates a fresh one (miss).
func (p *Pool[T]) Acquire() T {
	p.mu.Lock()
	if n := len(p.stack); n > 0 {
		v := p.stack[n-1]
		var zero T
		p.stack[n-1] = zero
		p.stack = p.stack[:n-1]
		p.mu.Unlock()
		p.hits.Add(1)
		return v
	}
	p.mu.Unlock()
	p.misses.Add(1)
	return p.newFn()
}

// Release resets v and pushes it back if the pool has room; otherwise the
// instance is simply dropped for the collector.
func (p *Pool[T]) Release(v T) {
	v.Reset()
	p.mu.Lock()
	if len(p.stack) < p.cap {
		p.stack = append(p.stack, v)
	}
	p.mu.Unlock()
}

func (p *Pool[T]) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stack)
}

func (p *Pool[T]) Hits() uint64   { return p.hits.Load() }
func (p *Pool[T]) Misses() uint64 { return p.misses.Load() }
