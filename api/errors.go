// Package api
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy for the asynchronous file I/O engine. Every error surfaced
// by the engine, queues and descriptors is an *Error carrying an ErrorKind,
// so callers can match with errors.Is against the sentinel values below.

package api

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies engine failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindPermissionDenied
	KindTooManyOpenFiles
	KindAlreadyClosed
	KindIOError
	KindQueueFull
	KindTimedOut
	KindCancelled
	KindInvalidArgument
	KindEngineClosed
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindPermissionDenied:
		return "permission denied"
	case KindTooManyOpenFiles:
		return "too many open files"
	case KindAlreadyClosed:
		return "already closed"
	case KindIOError:
		return "i/o error"
	case KindQueueFull:
		return "queue full"
	case KindTimedOut:
		return "timed out"
	case KindCancelled:
		return "cancelled"
	case KindInvalidArgument:
		return "invalid argument"
	case KindEngineClosed:
		return "engine closed"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is matching. Only the Kind is compared.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrTooManyOpenFiles = &Error{Kind: KindTooManyOpenFiles}
	ErrAlreadyClosed    = &Error{Kind: KindAlreadyClosed}
	ErrIO               = &Error{Kind: KindIOError}
	ErrQueueFull        = &Error{Kind: KindQueueFull}
	ErrTimedOut         = &Error{Kind: KindTimedOut}
	ErrCancelled        = &Error{Kind: KindCancelled}
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument}
	ErrEngineClosed     = &Error{Kind: KindEngineClosed}

	// ErrUnknownOp is returned when awaiting an id that was never
	// registered or whose completion was already consumed.
	ErrUnknownOp = &Error{Kind: KindInvalidArgument, Op: "await"}
)

// Error is the structured error type used across the module.
type Error struct {
	Kind ErrorKind
	Op   string // operation, e.g. "open", "read", "enqueue"
	Path string // file path when known
	ID   OpID   // operation id when the error belongs to one request
	Err  error  // underlying cause, typically a unix.Errno
}

// NewError builds an *Error of the given kind.
func NewError(kind ErrorKind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	} else if e.Op != "" {
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if !e.ID.IsZero() {
		fmt.Fprintf(&b, " (%s)", e.ID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so sentinels match any error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithPath returns a copy of e annotated with path.
func (e *Error) WithPath(path string) *Error {
	cp := *e
	cp.Path = path
	return &cp
}

// WithID returns a copy of e annotated with the operation id.
func (e *Error) WithID(id OpID) *Error {
	cp := *e
	cp.ID = id
	return &cp
}

// KindOf extracts the ErrorKind from err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
