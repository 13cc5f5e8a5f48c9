// Package queue implements the FIFO buffer holding requests that wait for
// connectivity, with age and size eviction.
package queue

import (
	"sync"
	"time"
)

// Item is a queued value with its enqueue time
type Item[T any] struct {
	Timestamp time.Time
	Value     T
}

// Queue is a concurrency-safe FIFO
type Queue[T any] struct {
	mu    sync.Mutex
	items []Item[T]
}

// New creates an empty queue
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends value stamped with at
func (q *Queue[T]) Push(value T, at time.Time) {
	q.mu.Lock()
	q.items = append(q.items, Item[T]{Timestamp: at, Value: value})
	q.mu.Unlock()
}

// Pop removes and returns the head
func (q *Queue[T]) Pop() (Item[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero Item[T]
		return zero, false
	}
	head := q.items[0]
	var zero Item[T]
	q.items[0] = zero
	q.items = q.items[1:]
	return head, true
}

// Peek returns the head without removing it
func (q *Queue[T]) Peek() (Item[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero Item[T]
		return zero, false
	}
	return q.items[0], true
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Flush discards every item and returns how many were dropped
func (q *Queue[T]) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Items returns a copy of the queued items in order
func (q *Queue[T]) Items() []Item[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item[T], len(q.items))
	copy(out, q.items)
	return out
}

// Contains reports whether any queued value satisfies match
func (q *Queue[T]) Contains(match func(T) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if match(it.Value) {
			return true
		}
	}
	return false
}

// Evict runs the two eviction passes. With ttl > 0, items are removed from
// the head while older than now-ttl. With maxSize > 0, the oldest items are
// removed until at most maxSize remain. Returns the evicted items, oldest
// first.
func (q *Queue[T]) Evict(now time.Time, ttl time.Duration, maxSize int) []Item[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	drop := 0
	if ttl > 0 {
		cutoff := now.Add(-ttl)
		for drop < len(q.items) && q.items[drop].Timestamp.Before(cutoff) {
			drop++
		}
	}
	if maxSize > 0 && len(q.items)-drop > maxSize {
		drop = len(q.items) - maxSize
	}
	if drop == 0 {
		return nil
	}

	evicted := make([]Item[T], drop)
	copy(evicted, q.items[:drop])
	rest := make([]Item[T], len(q.items)-drop)
	copy(rest, q.items[drop:])
	q.items = rest
	return evicted
}
