// Package api
// Author: momentics@gmail.com
//
// Generic result, error propagation and cancellation.

package api

// Result wraps any payload or error.
type Result[T any] struct {
	Value T
	Err   error
}

// Cancelable is any operation that may be canceled.
type Cancelable interface {
	// Cancel requests cancellation. Cooperative: the operation may still run.
	Cancel() error
	// Done is closed once the outcome is known to the waiter.
	Done() <-chan struct{}
}
