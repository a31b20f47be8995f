// File: descriptor/descriptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Descriptor owns one open file descriptor and its Open -> Closing -> Closed
// lifecycle. A descriptor is owned by exactly one file handle; the engine
// reads and moves its cursor only from the dispatch loop.

package descriptor

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-aio/api"
	"golang.org/x/sys/unix"
)

// State is the lifecycle state of a Descriptor.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Default flags used by OpenDefault.
const (
	DefaultFlags = unix.O_RDWR
	DefaultPerm  = 0o644
)

// Ensure compile-time interface compliance.
var _ api.Descriptor = (*Descriptor)(nil)

// Descriptor is a handle to one open file.
type Descriptor struct {
	id       api.DescriptorID
	path     string
	readOnly bool

	mu    sync.Mutex // guards fd and state transitions
	fd    int
	state atomic.Int32

	seq    uint64 // serialised by the submission queue lock
	cursor atomic.Int64
}

// Open opens path with the given unix open flags. O_CLOEXEC is always added.
func Open(id api.DescriptorID, path string, flags int, perm uint32) (*Descriptor, error) {
	fd, err := openRetry(path, flags|unix.O_CLOEXEC, perm)
	if err != nil {
		return nil, WrapError("open", path, err)
	}
	d := &Descriptor{
		id:       id,
		path:     path,
		fd:       fd,
		readOnly: flags&(unix.O_WRONLY|unix.O_RDWR) == 0,
	}
	d.state.Store(int32(StateOpen))
	return d, nil
}

// OpenDefault opens path read-write, falling back to read-only when write
// access is refused. Writes on a read-only descriptor fail with IOError.
func OpenDefault(id api.DescriptorID, path string) (*Descriptor, error) {
	d, err := Open(id, path, DefaultFlags, DefaultPerm)
	if err == nil {
		return d, nil
	}
	if api.KindOf(err) != api.KindPermissionDenied {
		return nil, err
	}
	return Open(id, path, unix.O_RDONLY, 0)
}

func openRetry(path string, flags int, perm uint32) (int, error) {
	for {
		fd, err := unix.Open(path, flags, perm)
		if err == unix.EINTR {
			continue
		}
		return fd, err
	}
}

// ID returns the engine-assigned identifier.
func (d *Descriptor) ID() api.DescriptorID { return d.id }

// Path returns the path the descriptor was opened with.
func (d *Descriptor) Path() string { return d.path }

// ReadOnly reports whether the descriptor was opened without write access.
func (d *Descriptor) ReadOnly() bool { return d.readOnly }

// State returns the current lifecycle state.
func (d *Descriptor) State() State { return State(d.state.Load()) }

// IsOpen reports whether new requests may be submitted.
func (d *Descriptor) IsOpen() bool { return d.State() == StateOpen }

// FD returns the raw descriptor, or -1 once closed.
func (d *Descriptor) FD() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State() == StateClosed {
		return -1
	}
	return d.fd
}

// NextSeq returns the next sequence number. The submission queue calls it
// under its lock so sequence order equals queue order.
func (d *Descriptor) NextSeq() uint64 {
	d.seq++
	return d.seq
}

// Cursor returns the current offset.
func (d *Descriptor) Cursor() int64 { return d.cursor.Load() }

// SetCursor moves the current offset.
func (d *Descriptor) SetCursor(off int64) { d.cursor.Store(off) }

// Size returns the current file size.
func (d *Descriptor) Size() (int64, error) {
	fd := d.FD()
	if fd < 0 {
		return 0, &api.Error{Kind: api.KindAlreadyClosed, Op: "stat", Path: d.path}
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, WrapError("stat", d.path, err)
	}
	return st.Size, nil
}

// BeginClose moves Open -> Closing. No request is accepted afterwards.
func (d *Descriptor) BeginClose() error {
	if d.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		return nil
	}
	return &api.Error{Kind: api.KindAlreadyClosed, Op: "close", Path: d.path}
}

// Close releases the file descriptor. The first call succeeds, later calls
// fail with AlreadyClosed.
func (d *Descriptor) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if State(d.state.Load()) == StateClosed {
		return &api.Error{Kind: api.KindAlreadyClosed, Op: "close", Path: d.path}
	}
	d.state.Store(int32(StateClosed))
	fd := d.fd
	d.fd = -1
	// close(2) must not be retried on EINTR: the fd is released regardless.
	if err := unix.Close(fd); err != nil && err != unix.EINTR {
		return WrapError("close", d.path, err)
	}
	return nil
}
