// Package pool recycles the short-lived containers the write path churns
// through: batch buffers and request parameter objects.
//
// Unlike sync.Pool, a Pool never drops items behind the caller's back and
// hands back the most recently released item first, so its size can be
// reasoned about and asserted on.
package pool

import "sync"

// Pool is a LIFO free list of T values. It is safe for concurrent use.
type Pool[T any] struct {
	mu      sync.Mutex
	items   []T
	newFn   func() T
	resetFn func(T)

	created int
}

// New returns a pool that builds items with newFn on demand. resetFn, when
// non-nil, clears an item as it is released.
func New[T any](newFn func() T, resetFn func(T)) *Pool[T] {
	return &Pool[T]{newFn: newFn, resetFn: resetFn}
}

// Get pops the most recently released item, or builds a new one.
func (p *Pool[T]) Get() T {
	p.mu.Lock()
	if n := len(p.items); n > 0 {
		item := p.items[n-1]
		var zero T
		p.items[n-1] = zero
		p.items = p.items[:n-1]
		p.mu.Unlock()
		return item
	}
	p.created++
	p.mu.Unlock()
	return p.newFn()
}

// Put resets item and makes it available to the next Get. The caller must
// not touch item afterwards.
func (p *Pool[T]) Put(item T) {
	if p.resetFn != nil {
		p.resetFn(item)
	}
	p.mu.Lock()
	p.items = append(p.items, item)
	p.mu.Unlock()
}

// Len returns the number of idle items.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Created returns how many items the factory has built so far.
func (p *Pool[T]) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}
