// File: engine/engine.go
// Package engine implements the ring engine: it bridges the submission
// queue to an execution facility and routes outcomes into the completion
// queue.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One dispatch goroutine per Engine owns all per-descriptor scheduling
// state. Callers only touch the two queues and the descriptor registry.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-aio/adapters"
	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/descriptor"
	"github.com/momentics/hioload-aio/internal/uring"
	"github.com/momentics/hioload-aio/queue"
	"golang.org/x/sys/unix"
)

// Ensure compliance with api.GracefulShutdown.
var _ api.GracefulShutdown = (*Engine)(nil)

// op is the engine-side record of an accepted request.
type op struct {
	req  *api.Request
	desc *descriptor.Descriptor

	cancelled atomic.Bool
	mu        sync.Mutex
	cancelFn  api.CancelFunc

	offset int64 // resolved by the dispatch loop
}

func (o *op) setCancel(fn api.CancelFunc) {
	o.mu.Lock()
	o.cancelFn = fn
	o.mu.Unlock()
	// Cancel may have raced with issue
	if fn != nil && o.cancelled.Load() {
		fn()
	}
}

func (o *op) requestCancel() {
	o.cancelled.Store(true)
	o.mu.Lock()
	fn := o.cancelFn
	o.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// outcome is a raw facility completion routed back to the dispatch loop.
type outcome struct {
	op  *op
	n   int
	err error
}

// Engine is an asynchronous file I/O engine instance. Every descriptor and
// file handle is bound to exactly one Engine.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	facility api.Facility
	sq       *queue.SubmissionQueue
	cq       *queue.CompletionQueue
	control  *adapters.ControlAdapter
	chunk    atomic.Int64

	mu      sync.Mutex
	descs   map[api.DescriptorID]*descriptor.Descriptor
	opening int
	nextID  api.DescriptorID
	ops     map[api.OpID]*op
	live    map[api.DescriptorID]int             // accepted, not yet finished
	idle    map[api.DescriptorID][]chan struct{} // Release waiters

	outcomes chan outcome
	forget   chan api.DescriptorID
	stop     chan struct{}
	stopped  chan struct{}
	once     sync.Once
	closeCtx context.Context

	// dispatch loop only
	states  map[api.DescriptorID]*descState
	blocked map[api.DescriptorID]struct{} // waiting for facility depth
	issued  int

	staged    atomic.Int64
	inflight  atomic.Int64
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
	startedAt time.Time
}

// New constructs an Engine and starts its dispatch loop. Failing to
// allocate the queues or the facility is the only fatal error.
func New(cfg Config) (*Engine, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "engine"),
		cq:        queue.NewCompletionQueue(),
		control:   adapters.NewControlAdapter(),
		descs:     make(map[api.DescriptorID]*descriptor.Descriptor),
		ops:       make(map[api.OpID]*op),
		live:      make(map[api.DescriptorID]int),
		idle:      make(map[api.DescriptorID][]chan struct{}),
		outcomes:  make(chan outcome, cfg.MaxInFlight+1),
		forget:    make(chan api.DescriptorID, 16),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
		states:    make(map[api.DescriptorID]*descState),
		blocked:   make(map[api.DescriptorID]struct{}),
		startedAt: time.Now(),
	}
	e.chunk.Store(int64(cfg.ReadChunkSize))

	sq, err := queue.NewSubmissionQueue(queue.SubmissionConfig{
		Capacity: cfg.SQCapacity,
		Policy:   cfg.FullPolicy,
		Timeout:  cfg.EnqueueTimeout,
		OnAccept: e.accept,
	})
	if err != nil {
		return nil, fmt.Errorf("submission queue: %w", err)
	}
	e.sq = sq

	fac, err := e.selectFacility()
	if err != nil {
		return nil, err
	}
	e.facility = fac

	e.initControl()
	go e.run()
	e.logger.Info("engine started",
		"facility", fac.Name(),
		"sq_capacity", cfg.SQCapacity,
		"max_in_flight", cfg.MaxInFlight,
		"order", cfg.Order.String())
	return e, nil
}

func (e *Engine) selectFacility() (api.Facility, error) {
	if e.cfg.ExecFacility != nil {
		return e.cfg.ExecFacility, nil
	}
	switch uring.Select(e.cfg.Facility) {
	case uring.NameURing:
		f, err := uring.New(e.cfg.RingEntries, e.cfg.Logger)
		if err == nil {
			return f, nil
		}
		if e.cfg.Facility == uring.NameURing {
			return nil, fmt.Errorf("io_uring facility: %w", err)
		}
		e.logger.Warn("io_uring unavailable, falling back to worker pool", "error", err)
	}
	return newWorkerPool(e.cfg.Workers, e.cfg.PinWorkers, e.cfg.Logger), nil
}

// Facility returns the name of the execution facility in use.
func (e *Engine) Facility() string {
	return e.facility.Name()
}

// Logger returns the logger the engine was configured with.
func (e *Engine) Logger() *slog.Logger {
	return e.cfg.Logger
}

// Order returns the completion delivery policy.
func (e *Engine) Order() Order {
	return e.cfg.Order
}

// ReadChunkSize is the length used by reads that do not specify one.
func (e *Engine) ReadChunkSize() int {
	return int(e.chunk.Load())
}

// Open opens path read-write (read-only when write access is refused) and
// registers the descriptor with the engine.
func (e *Engine) Open(path string) (*descriptor.Descriptor, error) {
	return e.open(path, func(id api.DescriptorID) (*descriptor.Descriptor, error) {
		return descriptor.OpenDefault(id, path)
	})
}

// OpenFile opens path with explicit unix open flags and permissions.
func (e *Engine) OpenFile(path string, flags int, perm uint32) (*descriptor.Descriptor, error) {
	return e.open(path, func(id api.DescriptorID) (*descriptor.Descriptor, error) {
		return descriptor.Open(id, path, flags, perm)
	})
}

func (e *Engine) open(path string, fn func(api.DescriptorID) (*descriptor.Descriptor, error)) (*descriptor.Descriptor, error) {
	e.mu.Lock()
	if e.isStopping() {
		e.mu.Unlock()
		return nil, &api.Error{Kind: api.KindEngineClosed, Op: "open", Path: path}
	}
	if max := e.cfg.MaxDescriptors; max > 0 && len(e.descs)+e.opening >= max {
		e.mu.Unlock()
		return nil, &api.Error{Kind: api.KindTooManyOpenFiles, Op: "open", Path: path, Err: unix.EMFILE}
	}
	e.opening++
	e.nextID++
	id := e.nextID
	e.mu.Unlock()

	d, err := fn(id)

	e.mu.Lock()
	e.opening--
	if err == nil {
		e.descs[id] = d
	}
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.control.AddMetric("descriptors_opened", 1)
	e.logger.Debug("descriptor opened", "fd_id", id, "path", path)
	return d, nil
}

// accept runs under the submission queue lock. The open check and the
// live count share e.mu with Release, so a descriptor that started closing
// never gets another request.
func (e *Engine) accept(req *api.Request) error {
	e.mu.Lock()
	d, ok := e.descs[req.ID.Desc]
	if !ok || !d.IsOpen() {
		e.mu.Unlock()
		return &api.Error{Kind: api.KindAlreadyClosed, Op: "submit"}
	}
	e.ops[req.ID] = &op{req: req, desc: d}
	e.live[req.ID.Desc]++
	e.mu.Unlock()
	e.cq.Register(req.ID)
	return nil
}

// Submit enqueues req and returns its id. The request must target a
// descriptor opened by this engine.
func (e *Engine) Submit(ctx context.Context, req *api.Request) (api.OpID, error) {
	if e.isStopping() {
		return api.OpID{}, &api.Error{Kind: api.KindEngineClosed, Op: "submit"}
	}
	if err := e.validate(req); err != nil {
		return api.OpID{}, err
	}
	if _, err := e.sq.Enqueue(ctx, req); err != nil {
		return api.OpID{}, err
	}
	e.submitted.Add(1)
	return req.ID, nil
}

func (e *Engine) validate(req *api.Request) error {
	if req == nil || req.Desc == nil {
		return &api.Error{Kind: api.KindInvalidArgument, Op: "submit", Err: errors.New("request without descriptor")}
	}
	if !req.Desc.IsOpen() {
		return &api.Error{Kind: api.KindAlreadyClosed, Op: "submit"}
	}
	e.mu.Lock()
	d, ok := e.descs[req.Desc.ID()]
	e.mu.Unlock()
	if !ok || api.Descriptor(d) != req.Desc {
		return &api.Error{Kind: api.KindInvalidArgument, Op: "submit", Err: errors.New("descriptor not owned by this engine")}
	}
	switch req.Kind {
	case api.OpRead, api.OpWrite:
		if req.Offset < 0 && req.Offset != api.OffsetCursor {
			return &api.Error{Kind: api.KindInvalidArgument, Op: req.Kind.String(), Path: d.Path(), Err: errors.New("negative offset")}
		}
	case api.OpSeek:
		if req.Whence != api.SeekStart && req.Whence != api.SeekCurrent && req.Whence != api.SeekEnd {
			return &api.Error{Kind: api.KindInvalidArgument, Op: "seek", Path: d.Path(), Err: errors.New("bad whence")}
		}
	default:
		return &api.Error{Kind: api.KindInvalidArgument, Op: "submit", Path: d.Path(), Err: errors.New("unknown op kind")}
	}
	return nil
}

// Await blocks until the completion for id arrives or ctx ends.
func (e *Engine) Await(ctx context.Context, id api.OpID) (api.Completion, error) {
	return e.cq.Await(ctx, id)
}

// AwaitTimeout waits at most d; on expiry it fails with ErrTimedOut and the
// eventual completion is discarded.
func (e *Engine) AwaitTimeout(id api.OpID, d time.Duration) (api.Completion, error) {
	return e.cq.AwaitTimeout(id, d)
}

// Poll returns the oldest unconsumed completion, if any.
func (e *Engine) Poll() (api.Completion, bool) {
	return e.cq.Poll()
}

// Cancel requests cooperative cancellation of id. A request that has not
// reached the facility completes with ErrCancelled without running; a
// running one is cancelled best-effort and its data is suppressed.
func (e *Engine) Cancel(id api.OpID) error {
	e.mu.Lock()
	o, ok := e.ops[id]
	e.mu.Unlock()
	if !ok {
		return api.ErrUnknownOp.WithID(id)
	}
	o.requestCancel()
	return nil
}

// Release closes d once every request accepted for it has completed.
// The first call succeeds; calls after the descriptor is closed fail with
// ErrAlreadyClosed. A Release interrupted by ctx may be retried.
func (e *Engine) Release(ctx context.Context, d *descriptor.Descriptor) error {
	id := d.ID()

	e.mu.Lock()
	if err := d.BeginClose(); err != nil && d.State() != descriptor.StateClosing {
		e.mu.Unlock()
		return err
	}
	var wait chan struct{}
	if e.live[id] > 0 {
		wait = make(chan struct{})
		e.idle[id] = append(e.idle[id], wait)
	}
	e.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return &api.Error{Kind: api.KindCancelled, Op: "close", Path: d.Path(), Err: ctx.Err()}
		case <-e.stopped:
		}
	}

	err := d.Close()
	e.mu.Lock()
	if e.descs[id] == d {
		delete(e.descs, id)
		delete(e.live, id)
	}
	e.mu.Unlock()
	select {
	case e.forget <- id:
	case <-e.stopped:
	}
	if err == nil {
		e.control.AddMetric("descriptors_closed", 1)
		e.logger.Debug("descriptor closed", "fd_id", id, "path", d.Path())
	}
	return err
}

// settled is called by the dispatch loop for every finished request.
func (e *Engine) settled(id api.OpID) {
	e.mu.Lock()
	delete(e.ops, id)
	n := e.live[id.Desc] - 1
	if n <= 0 {
		delete(e.live, id.Desc)
		for _, ch := range e.idle[id.Desc] {
			close(ch)
		}
		delete(e.idle, id.Desc)
	} else {
		e.live[id.Desc] = n
	}
	e.mu.Unlock()
}

// Close shuts the engine down, waiting for issued operations to finish.
func (e *Engine) Close() error {
	return e.Shutdown(context.Background())
}

// Shutdown stops accepting requests, fails queued ones with
// ErrEngineClosed, waits for issued operations until ctx ends, then closes
// the facility and any descriptors still registered.
func (e *Engine) Shutdown(ctx context.Context) error {
	first := false
	e.once.Do(func() {
		first = true
		// closing the queue first guarantees the final drain sees everything
		e.sq.Close()
		e.mu.Lock()
		e.closeCtx = ctx
		close(e.stop)
		e.mu.Unlock()
	})
	<-e.stopped
	if !first {
		return nil
	}

	var errs []error
	if err := e.facility.Close(); err != nil {
		errs = append(errs, fmt.Errorf("facility close: %w", err))
	}
	e.mu.Lock()
	descs := make([]*descriptor.Descriptor, 0, len(e.descs))
	for _, d := range e.descs {
		descs = append(descs, d)
	}
	e.descs = make(map[api.DescriptorID]*descriptor.Descriptor)
	e.mu.Unlock()
	for _, d := range descs {
		_ = d.BeginClose()
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.logger.Info("engine stopped", "leaked_descriptors", len(descs))
	return errors.Join(errs...)
}

func (e *Engine) isStopping() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

// Stats returns engine counters.
func (e *Engine) Stats() map[string]int64 {
	e.mu.Lock()
	open := len(e.descs)
	e.mu.Unlock()
	return map[string]int64{
		"submitted":        e.submitted.Load(),
		"completed":        e.completed.Load(),
		"failed":           e.failed.Load(),
		"cancelled":        e.cancelled.Load(),
		"discarded":        int64(e.cq.Discarded()),
		"staged":           e.staged.Load(),
		"inflight":         e.inflight.Load(),
		"sq_len":           int64(e.sq.Len()),
		"cq_ready":         int64(e.cq.Len()),
		"cq_pending":       int64(e.cq.Pending()),
		"open_descriptors": int64(open),
	}
}
