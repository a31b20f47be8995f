// File: api/facility.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Execution facility contract: the thing that actually performs blocking
// reads and writes on behalf of the ring engine.

package api

// Op is a fully resolved operation handed to a Facility.
type Op struct {
	ID     OpID
	Kind   OpKind // OpRead or OpWrite
	FD     int
	Buf    []byte
	Offset int64
}

// CompletionFunc receives the raw outcome of an Op. It may be invoked from
// any goroutine and must not block.
type CompletionFunc func(n int, err error)

// CancelFunc requests best-effort cancellation of an issued Op.
type CancelFunc func()

// Facility performs Ops asynchronously.
type Facility interface {
	// Name identifies the facility in logs and stats.
	Name() string
	// Issue starts op and arranges for done to be called exactly once.
	// Issue must not block on I/O.
	Issue(op Op, done CompletionFunc) (CancelFunc, error)
	// Depth is the maximum number of Ops the facility accepts at once;
	// zero means unbounded.
	Depth() int
	// Close releases facility resources. Ops still running may complete
	// afterwards.
	Close() error
}
