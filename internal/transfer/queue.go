package transfer

import (
	"slices"
	"sync"
)

// queue is a mutex-guarded FIFO safe for any number of producers and
// consumers.
type queue[T comparable] struct {
	mu    sync.Mutex
	items []T
}

func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

func (q *queue[T]) Push(v ...T) {
	q.mu.Lock()
	q.items = append(q.items, v...)
	q.mu.Unlock()
}

// Pop removes and returns the head.
func (q *queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]

	return v, true
}

// Remove deletes v and reports whether it was present.
func (q *queue[T]) Remove(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := slices.Index(q.items, v)
	if i < 0 {
		return false
	}

	q.items = slices.Delete(q.items, i, i+1)

	return true
}

func (q *queue[T]) Contains(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return slices.Contains(q.items, v)
}

// Snapshot returns a copy of the current contents.
func (q *queue[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	return slices.Clone(q.items)
}

// Drain empties the queue and returns what it held.
func (q *queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil

	return out
}

// Extract removes every element matching fn, preserving the order of both
// the extracted and the remaining elements.
func (q *queue[T]) Extract(fn func(T) bool) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []T

	kept := q.items[:0]

	for _, v := range q.items {
		if fn(v) {
			out = append(out, v)
		} else {
			kept = append(kept, v)
		}
	}

	clear(q.items[len(kept):])
	q.items = kept

	return out
}

// Sort orders the queue in place with a stable sort.
func (q *queue[T]) Sort(cmp func(a, b T) int) {
	q.mu.Lock()
	slices.SortStableFunc(q.items, cmp)
	q.mu.Unlock()
}

// Any reports whether some element matches fn.
func (q *queue[T]) Any(fn func(T) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return slices.ContainsFunc(q.items, fn)
}
