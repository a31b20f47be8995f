// File: api/request.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Request and completion records exchanged between the submission queue,
// the ring engine and the completion queue.

package api

import (
	"fmt"
	"io"
)

// DescriptorID is the opaque engine-assigned handle of an open descriptor.
type DescriptorID uint64

// OpID correlates a Request with its Completion. Seq is unique and
// increasing per descriptor.
type OpID struct {
	Desc DescriptorID
	Seq  uint64
}

// IsZero reports whether id was never assigned. Sequence numbers start at 1.
func (id OpID) IsZero() bool {
	return id.Seq == 0
}

func (id OpID) String() string {
	return fmt.Sprintf("fd#%d/seq#%d", id.Desc, id.Seq)
}

// OpKind enumerates request operations.
type OpKind uint8

const (
	OpRead OpKind = iota + 1
	OpWrite
	OpSeek
)

func (k OpKind) String() string {
	switch k {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpSeek:
		return "seek"
	default:
		return "unknown"
	}
}

// OffsetCursor makes a read or write use, and then advance, the
// descriptor's current offset.
const OffsetCursor int64 = -1

// Whence values for OpSeek, mirroring io.Seek*.
const (
	SeekStart   = io.SeekStart
	SeekCurrent = io.SeekCurrent
	SeekEnd     = io.SeekEnd
)

// Descriptor is the view of a descriptor the submission queue needs.
type Descriptor interface {
	ID() DescriptorID
	// IsOpen reports whether new requests may be accepted.
	IsOpen() bool
	// NextSeq hands out the next sequence number. Callers serialise.
	NextSeq() uint64
}

// Request is one pending I/O operation.
type Request struct {
	ID     OpID // assigned on enqueue
	Desc   Descriptor
	Kind   OpKind
	Buf    []byte // destination for reads, source for writes
	Offset int64  // absolute offset, or OffsetCursor; seek offset for OpSeek
	Whence int    // OpSeek only
}

// Cursor reports whether the request depends on the descriptor cursor.
func (r *Request) Cursor() bool {
	return r.Kind == OpSeek || r.Offset == OffsetCursor
}

// Completion is the outcome of a Request. Short transfers are successes
// with N < len(Buf).
type Completion struct {
	ID     OpID
	Kind   OpKind
	N      int    // bytes transferred
	Data   []byte // reads: Buf[:N]
	Offset int64  // offset the op ran at; resulting cursor for OpSeek
	Err    error
}
