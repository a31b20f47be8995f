// File: engine/dispatch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Dispatch loop. Drains the submission queue into per-descriptor pending
// FIFOs, issues operations to the facility, and turns facility outcomes
// into completions delivered in per-descriptor order.

package engine

import (
	"github.com/eapache/queue"
	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/descriptor"
)

// descState is the scheduling state of one descriptor.
type descState struct {
	id       api.DescriptorID
	pending  *queue.Queue // *op in sequence order
	inflight int
	barrier  bool                      // a cursor op is in flight
	next     uint64                    // next sequence to deliver (OrderFIFO)
	parked   map[uint64]api.Completion // finished out of order
}

func (e *Engine) state(id api.DescriptorID) *descState {
	st, ok := e.states[id]
	if !ok {
		st = &descState{
			id:      id,
			pending: queue.New(),
			next:    1,
			parked:  make(map[uint64]api.Completion),
		}
		e.states[id] = st
	}
	return st
}

func (e *Engine) run() {
	defer close(e.stopped)
	for {
		e.pull()
		select {
		case <-e.sq.Ready():
		case oc := <-e.outcomes:
			e.complete(oc)
		case id := <-e.forget:
			e.drop(id)
		case <-e.stop:
			e.drainOnStop()
			return
		}
	}
}

// pull moves requests from the submission queue into the engine while the
// staging budget allows. Leaving requests queued is what pushes
// backpressure onto Enqueue.
func (e *Engine) pull() {
	room := e.cfg.MaxInFlight - int(e.staged.Load())
	if room <= 0 {
		return
	}
	for _, req := range e.sq.Drain(room) {
		e.stage(req)
	}
}

func (e *Engine) stage(req *api.Request) {
	e.mu.Lock()
	o := e.ops[req.ID]
	e.mu.Unlock()
	if o == nil {
		// accept always records the op; keep the sequence contiguous anyway
		o = &op{req: req}
	}
	e.staged.Add(1)
	st := e.state(req.ID.Desc)
	st.pending.Add(o)
	e.advance(st)
}

// advance issues as many pending ops of st as ordering rules allow.
// Cursor ops (OffsetCursor reads/writes, seeks) run alone; positional ops
// may overlap up to the window but never pass a cursor op.
func (e *Engine) advance(st *descState) {
	for st.pending.Length() > 0 {
		o := st.pending.Peek().(*op)
		if o.cancelled.Load() {
			st.pending.Remove()
			e.finish(st, o, api.Completion{Err: &api.Error{Kind: api.KindCancelled, Op: o.req.Kind.String()}})
			continue
		}
		if o.req.Cursor() {
			if st.inflight > 0 {
				return
			}
		} else if st.barrier || st.inflight >= e.cfg.Window {
			return
		}
		if o.req.Kind == api.OpSeek {
			st.pending.Remove()
			e.seek(st, o)
			continue
		}
		if depth := e.facility.Depth(); depth > 0 && e.issued >= depth {
			e.blocked[st.id] = struct{}{}
			return
		}
		st.pending.Remove()
		e.issue(st, o)
	}
}

func (e *Engine) seek(st *descState, o *op) {
	d := o.desc
	if d == nil || d.State() == descriptor.StateClosed {
		e.finish(st, o, api.Completion{Err: &api.Error{Kind: api.KindAlreadyClosed, Op: "seek"}})
		return
	}
	var base int64
	switch o.req.Whence {
	case api.SeekCurrent:
		base = d.Cursor()
	case api.SeekEnd:
		size, err := d.Size()
		if err != nil {
			e.finish(st, o, api.Completion{Err: err})
			return
		}
		base = size
	}
	pos := base + o.req.Offset
	if pos < 0 {
		e.finish(st, o, api.Completion{Err: &api.Error{Kind: api.KindInvalidArgument, Op: "seek", Path: d.Path()}})
		return
	}
	d.SetCursor(pos)
	e.finish(st, o, api.Completion{Offset: pos})
}

func (e *Engine) issue(st *descState, o *op) {
	d := o.desc
	fd := -1
	if d != nil {
		fd = d.FD()
	}
	if fd < 0 {
		e.finish(st, o, api.Completion{Err: &api.Error{Kind: api.KindAlreadyClosed, Op: o.req.Kind.String()}})
		return
	}
	o.offset = o.req.Offset
	if o.req.Cursor() {
		o.offset = d.Cursor()
		st.barrier = true
	}

	st.inflight++
	e.issued++
	e.inflight.Add(1)
	done := func(n int, err error) {
		select {
		case e.outcomes <- outcome{op: o, n: n, err: err}:
		case <-e.stopped:
		}
	}
	cancel, err := e.facility.Issue(api.Op{
		ID:     o.req.ID,
		Kind:   o.req.Kind,
		FD:     fd,
		Buf:    o.req.Buf,
		Offset: o.offset,
	}, done)
	if err != nil {
		st.inflight--
		e.issued--
		e.inflight.Add(-1)
		st.barrier = false
		e.logger.Warn("facility rejected op", "id", o.req.ID.String(), "error", err)
		e.finish(st, o, api.Completion{Err: descriptor.WrapError(o.req.Kind.String(), d.Path(), err)})
		return
	}
	o.setCancel(cancel)
}

func (e *Engine) complete(oc outcome) {
	o := oc.op
	st := e.state(o.req.ID.Desc)
	st.inflight--
	e.issued--
	e.inflight.Add(-1)

	c := api.Completion{N: oc.n, Offset: o.offset}
	if o.req.Cursor() {
		st.barrier = false
		if oc.err == nil && o.desc != nil {
			// bytes moved even if the caller cancelled meanwhile
			o.desc.SetCursor(o.offset + int64(oc.n))
		}
	}
	path := ""
	if o.desc != nil {
		path = o.desc.Path()
	}
	switch {
	case oc.err != nil:
		c.N = 0
		c.Err = descriptor.WrapError(o.req.Kind.String(), path, oc.err)
	case o.cancelled.Load():
		c.Err = &api.Error{Kind: api.KindCancelled, Op: o.req.Kind.String(), Path: path}
	case o.req.Kind == api.OpRead:
		c.Data = o.req.Buf[:oc.n]
	}
	e.finish(st, o, c)

	e.advance(st)
	if len(e.blocked) == 0 {
		return
	}
	waiting := make([]api.DescriptorID, 0, len(e.blocked))
	for id := range e.blocked {
		waiting = append(waiting, id)
	}
	clear(e.blocked)
	for _, id := range waiting {
		if other, ok := e.states[id]; ok {
			e.advance(other)
		}
	}
}

// finish records the completion of o and delivers whatever is now in order.
func (e *Engine) finish(st *descState, o *op, c api.Completion) {
	c.ID = o.req.ID
	c.Kind = o.req.Kind
	if apiErr, ok := c.Err.(*api.Error); ok && apiErr.ID.IsZero() {
		c.Err = apiErr.WithID(c.ID)
	}
	e.staged.Add(-1)
	switch {
	case c.Err == nil:
		e.completed.Add(1)
	case api.KindOf(c.Err) == api.KindCancelled:
		e.cancelled.Add(1)
	default:
		e.failed.Add(1)
	}

	if e.cfg.Order == OrderArrival {
		e.deliver(c)
	} else {
		st.parked[c.ID.Seq] = c
		for {
			next, ok := st.parked[st.next]
			if !ok {
				break
			}
			delete(st.parked, st.next)
			st.next++
			e.deliver(next)
		}
	}
	e.settled(c.ID)
}

func (e *Engine) deliver(c api.Completion) {
	if !e.cq.Post(c) {
		e.logger.Debug("completion discarded", "id", c.ID.String())
	}
}

// drop forgets the scheduling state of a released descriptor.
func (e *Engine) drop(id api.DescriptorID) {
	st, ok := e.states[id]
	if !ok {
		return
	}
	if st.pending.Length() == 0 && st.inflight == 0 {
		delete(e.states, id)
		delete(e.blocked, id)
	}
}

// drainOnStop fails every request that never reached the facility, then
// waits for issued operations until the shutdown context ends.
func (e *Engine) drainOnStop() {
	closed := func(o *op) api.Completion {
		return api.Completion{Err: &api.Error{Kind: api.KindEngineClosed, Op: o.req.Kind.String()}}
	}
	for _, req := range e.sq.Drain(0) {
		e.mu.Lock()
		o := e.ops[req.ID]
		e.mu.Unlock()
		if o == nil {
			o = &op{req: req}
		}
		e.staged.Add(1)
		e.state(req.ID.Desc).pending.Add(o)
	}
	for _, st := range e.states {
		for st.pending.Length() > 0 {
			o := st.pending.Remove().(*op)
			e.finish(st, o, closed(o))
		}
	}

	ctx := e.closeCtx
	for e.issued > 0 {
		select {
		case oc := <-e.outcomes:
			e.complete(oc)
		case <-ctx.Done():
			e.abandonIssued()
			return
		}
	}
}

// abandonIssued cancels and resolves issued operations the shutdown
// context gave up on. Their late facility callbacks are dropped once the
// loop has exited.
func (e *Engine) abandonIssued() {
	e.mu.Lock()
	var stuck []*op
	for _, o := range e.ops {
		stuck = append(stuck, o)
	}
	e.mu.Unlock()
	for _, o := range stuck {
		o.requestCancel()
		st := e.state(o.req.ID.Desc)
		e.finish(st, o, api.Completion{Err: &api.Error{Kind: api.KindEngineClosed, Op: o.req.Kind.String()}})
	}
	e.logger.Warn("shutdown abandoned in-flight operations", "count", len(stuck))
}
