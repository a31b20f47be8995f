// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the engine's interfaces.

package fake

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-aio/api"
	"golang.org/x/sys/unix"
)

// Ensure compile-time interface compliance.
var _ api.Facility = (*Facility)(nil)

// Pending is an op the Facility has accepted but not completed.
type Pending struct {
	Op        api.Op
	done      api.CompletionFunc
	cancelled atomic.Bool
	once      sync.Once
}

// Cancelled reports whether the engine asked to cancel the op.
func (p *Pending) Cancelled() bool { return p.cancelled.Load() }

// Complete reports n and err to the engine. Only the first call counts.
func (p *Pending) Complete(n int, err error) {
	p.once.Do(func() { p.done(n, err) })
}

// Run performs the real pread/pwrite and reports the result. A cancelled op
// reports ECANCELED without touching the file.
func (p *Pending) Run() {
	if p.cancelled.Load() {
		p.Complete(0, unix.ECANCELED)
		return
	}
	var n int
	var err error
	switch p.Op.Kind {
	case api.OpRead:
		n, err = unix.Pread(p.Op.FD, p.Op.Buf, p.Op.Offset)
	case api.OpWrite:
		n, err = unix.Pwrite(p.Op.FD, p.Op.Buf, p.Op.Offset)
	default:
		err = unix.EINVAL
	}
	if err != nil {
		n = 0
	}
	p.Complete(n, err)
}

// Facility is a controllable api.Facility. In run mode every op executes
// on its own goroutine; in hold mode ops wait until the test completes them.
type Facility struct {
	mu      sync.Mutex
	cond    *sync.Cond
	hold    bool
	depth   int
	reject  error
	held    []*Pending
	issued  []api.Op
	running sync.WaitGroup
	closed  bool
}

// NewFacility returns a run-mode facility with the given depth (0 = unbounded).
func NewFacility(depth int) *Facility {
	f := &Facility{depth: depth}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// NewHoldingFacility returns a facility that parks every issued op.
func NewHoldingFacility(depth int) *Facility {
	f := NewFacility(depth)
	f.hold = true
	return f
}

func (f *Facility) Name() string { return "fake" }

func (f *Facility) Depth() int { return f.depth }

// SetReject makes subsequent Issue calls fail with err; nil clears it.
func (f *Facility) SetReject(err error) {
	f.mu.Lock()
	f.reject = err
	f.mu.Unlock()
}

// Issue implements api.Facility.
func (f *Facility) Issue(op api.Op, done api.CompletionFunc) (api.CancelFunc, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, api.ErrEngineClosed
	}
	if f.reject != nil {
		err := f.reject
		f.mu.Unlock()
		return nil, err
	}
	p := &Pending{Op: op, done: done}
	f.issued = append(f.issued, op)
	if f.hold {
		f.held = append(f.held, p)
		f.cond.Broadcast()
		f.mu.Unlock()
	} else {
		f.running.Add(1)
		f.mu.Unlock()
		go func() {
			defer f.running.Done()
			p.Run()
		}()
	}
	return func() { p.cancelled.Store(true) }, nil
}

// Issued returns a copy of every op issued so far, in issue order.
func (f *Facility) Issued() []api.Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.Op(nil), f.issued...)
}

// Held returns the parked ops and removes them from the facility.
func (f *Facility) Held() []*Pending {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.held
	f.held = nil
	return out
}

// WaitHeld blocks until at least n ops are parked, then takes them all.
func (f *Facility) WaitHeld(n int, timeout time.Duration) ([]*Pending, error) {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		f.mu.Lock()
		f.cond.Broadcast()
		f.mu.Unlock()
	})
	defer timer.Stop()

	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.held) < n {
		if !time.Now().Before(deadline) {
			return nil, errors.New("fake: timed out waiting for held ops")
		}
		f.cond.Wait()
	}
	out := f.held
	f.held = nil
	return out, nil
}

// Close stops accepting ops and waits for run-mode goroutines. Held ops are
// left alone; a test may still complete them.
func (f *Facility) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.running.Wait()
	return nil
}
