// Package ring implements a fixed-capacity, newest-first buffer that
// evicts its oldest element on overflow.
package ring

import "github.com/gammazero/deque"

// Ring is not safe for concurrent use.
type Ring[T any] struct {
	q     deque.Deque[T]
	limit int
}

// New returns a Ring holding at most capacity elements. capacity < 1 is
// treated as 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	r := &Ring[T]{limit: capacity}
	r.q.Grow(capacity)
	return r
}

// PushFront inserts v as the newest element. If the ring was full the
// oldest element is returned with evicted == true.
func (r *Ring[T]) PushFront(v T) (old T, evicted bool) {
	if r.q.Len() == r.limit {
		old, evicted = r.q.PopBack(), true
	}
	r.q.PushFront(v)
	return old, evicted
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int { return r.q.Len() }

// Cap returns the capacity.
func (r *Ring[T]) Cap() int { return r.limit }

// At returns the i-th newest element (0 = newest).
func (r *Ring[T]) At(i int) (T, bool) {
	if i < 0 || i >= r.q.Len() {
		var zero T
		return zero, false
	}
	return r.q.At(i), true
}

// Each calls fn from newest to oldest until fn returns false. Changes fn
// makes through v are stored back.
func (r *Ring[T]) Each(fn func(i int, v *T) bool) {
	for i := 0; i < r.q.Len(); i++ {
		v := r.q.At(i)
		more := fn(i, &v)
		r.q.Set(i, v)
		if !more {
			return
		}
	}
}

// Slice returns a newest-first copy.
func (r *Ring[T]) Slice() []T {
	out := make([]T, r.q.Len())
	for i := range out {
		out[i] = r.q.At(i)
	}
	return out
}

// Reversed returns an oldest-first copy.
func (r *Ring[T]) Reversed() []T {
	n := r.q.Len()
	out := make([]T, n)
	for i := range out {
		out[n-1-i] = r.q.At(i)
	}
	return out
}

// Clear drops every element.
func (r *Ring[T]) Clear() { r.q.Clear() }
