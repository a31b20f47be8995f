//go:build linux

// File: internal/uring/facility_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package uring

import (
	"fmt"
	"log/slog"
	"sync"
	"syscall"

	"github.com/iceber/iouring-go"
	"github.com/momentics/hioload-aio/api"
)

var (
	probeOnce sync.Once
	probeOK   bool
)

// Supported reports whether the running kernel accepts io_uring_setup.
// The probe runs once per process.
func Supported() bool {
	probeOnce.Do(func() {
		ring, err := iouring.New(1)
		if err != nil {
			return
		}
		_ = ring.Close()
		probeOK = true
	})
	return probeOK
}

// Ensure compile-time interface compliance.
var _ api.Facility = (*Facility)(nil)

// Facility issues positional reads and writes through one io_uring
// instance. Each submitted request is reaped by its own goroutine.
type Facility struct {
	ring    *iouring.IOURing
	entries int
	logger  *slog.Logger

	mu          sync.Mutex
	closed      bool
	closing     chan struct{}
	outstanding map[iouring.Request]struct{}
	wg          sync.WaitGroup
}

// New sets up a ring with the given number of submission entries.
func New(entries uint, logger *slog.Logger) (*Facility, error) {
	if entries == 0 {
		entries = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	ring, err := iouring.New(entries)
	if err != nil {
		return nil, fmt.Errorf("io_uring setup: %w", err)
	}
	logger.Debug("io_uring ready", "component", "uring", "entries", entries)
	return &Facility{
		ring:        ring,
		entries:     int(entries),
		logger:      logger,
		closing:     make(chan struct{}),
		outstanding: make(map[iouring.Request]struct{}),
	}, nil
}

// Name implements api.Facility.
func (f *Facility) Name() string { return NameURing }

// Depth implements api.Facility.
func (f *Facility) Depth() int { return f.entries }

// Issue implements api.Facility.
func (f *Facility) Issue(op api.Op, done api.CompletionFunc) (api.CancelFunc, error) {
	var prep iouring.PrepRequest
	switch op.Kind {
	case api.OpRead:
		prep = iouring.Pread(op.FD, op.Buf, uint64(op.Offset))
	case api.OpWrite:
		prep = iouring.Pwrite(op.FD, op.Buf, uint64(op.Offset))
	default:
		return nil, &api.Error{Kind: api.KindInvalidArgument, Op: op.Kind.String(), ID: op.ID}
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, &api.Error{Kind: api.KindEngineClosed, Op: op.Kind.String(), ID: op.ID}
	}
	req, err := f.ring.SubmitRequest(prep, nil)
	if err != nil {
		f.mu.Unlock()
		return nil, fmt.Errorf("io_uring submit: %w", err)
	}
	f.outstanding[req] = struct{}{}
	f.wg.Add(1)
	f.mu.Unlock()

	go f.reap(req, done)

	return func() { f.cancel(req, op.ID) }, nil
}

func (f *Facility) reap(req iouring.Request, done api.CompletionFunc) {
	defer f.wg.Done()
	select {
	case <-req.Done():
	case <-f.closing:
		// the ring is going away; the kernel may never answer
		f.forget(req)
		done(0, syscall.ECANCELED)
		return
	}
	f.forget(req)
	n, err := req.GetRes()
	if err == nil && n < 0 {
		err = syscall.Errno(-n)
	}
	if err != nil {
		n = 0
	}
	done(n, err)
}

func (f *Facility) forget(req iouring.Request) {
	f.mu.Lock()
	delete(f.outstanding, req)
	f.mu.Unlock()
}

func (f *Facility) cancel(req iouring.Request, id api.OpID) {
	if _, err := req.Cancel(); err != nil {
		f.logger.Debug("io_uring cancel failed", "component", "uring", "id", id.String(), "error", err)
	}
}

// Close cancels requests still in the kernel, releases their reapers and
// tears down the ring. It does not wait for the kernel to answer.
func (f *Facility) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	stuck := make([]iouring.Request, 0, len(f.outstanding))
	for req := range f.outstanding {
		stuck = append(stuck, req)
	}
	f.mu.Unlock()

	for _, req := range stuck {
		_, _ = req.Cancel()
	}
	close(f.closing)
	f.wg.Wait()
	if len(stuck) > 0 {
		f.logger.Warn("io_uring closed with outstanding requests", "component", "uring", "count", len(stuck))
	}
	return f.ring.Close()
}

// Outstanding returns the number of requests not yet reaped.
func (f *Facility) Outstanding() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outstanding)
}
