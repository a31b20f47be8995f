// Package api
// Author: momentics@gmail.com
//
// Bounded ring buffer contract used by the submission queue.

package api

// Ring is a bounded FIFO ring buffer contract.
type Ring[T any] interface {
	// Enqueue adds an item, returns false if full.
	Enqueue(item T) bool
	// Dequeue removes oldest item, returns false if empty.
	Dequeue() (T, bool)
	// Len returns current number of items.
	Len() int
	// Cap returns buffer capacity.
	Cap() int
}
