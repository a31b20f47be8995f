// File: queue/completion.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-aio/api"
)

// compactThreshold bounds stale ids left in the ready order by Await.
const compactThreshold = 64

type slot struct {
	c         api.Completion
	ready     chan struct{}
	posted    bool
	abandoned bool
}

// CompletionQueue holds finished operations until a caller consumes them.
type CompletionQueue struct {
	mu    sync.Mutex
	slots map[api.OpID]*slot
	order *queue.Queue // api.OpID in post order
	stale int          // ids in order already consumed via Await

	posted    uint64
	consumed  uint64
	discarded uint64
}

// NewCompletionQueue creates an empty queue.
func NewCompletionQueue() *CompletionQueue {
	return &CompletionQueue{
		slots: make(map[api.OpID]*slot),
		order: queue.New(),
	}
}

// Register reserves a slot for id so a later Await can find it.
func (q *CompletionQueue) Register(id api.OpID) {
	q.mu.Lock()
	q.slotLocked(id)
	q.mu.Unlock()
}

func (q *CompletionQueue) slotLocked(id api.OpID) *slot {
	s, ok := q.slots[id]
	if !ok {
		s = &slot{ready: make(chan struct{})}
		q.slots[id] = s
	}
	return s
}

// Post publishes c. It returns false when c was discarded, either because
// its waiter gave up or because the id already has a completion.
func (q *CompletionQueue) Post(c api.Completion) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.slotLocked(c.ID)
	if s.abandoned {
		delete(q.slots, c.ID)
		q.discarded++
		return false
	}
	if s.posted {
		q.discarded++
		return false
	}
	s.c = c
	s.posted = true
	close(s.ready)
	q.order.Add(c.ID)
	q.posted++
	return true
}

// Poll returns the oldest unconsumed completion, if any.
func (q *CompletionQueue) Poll() (api.Completion, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.order.Length() > 0 {
		id := q.order.Remove().(api.OpID)
		s, ok := q.slots[id]
		if !ok || !s.posted {
			if q.stale > 0 {
				q.stale--
			}
			continue
		}
		delete(q.slots, id)
		q.consumed++
		return s.c, true
	}
	return api.Completion{}, false
}

// Await blocks until the completion for id is posted or ctx ends. A
// deadline maps to ErrTimedOut, cancellation to ErrCancelled; in both cases
// the slot is abandoned and a later completion is discarded.
func (q *CompletionQueue) Await(ctx context.Context, id api.OpID) (api.Completion, error) {
	ready, err := q.readyChan(id)
	if err != nil {
		return api.Completion{}, err
	}
	select {
	case <-ready:
		return q.take(id)
	case <-ctx.Done():
		kind := api.KindCancelled
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = api.KindTimedOut
		}
		return q.abandon(id, kind, ctx.Err())
	}
}

// AwaitTimeout is Await with a plain duration. A zero or negative d checks
// once without waiting.
func (q *CompletionQueue) AwaitTimeout(id api.OpID, d time.Duration) (api.Completion, error) {
	ready, err := q.readyChan(id)
	if err != nil {
		return api.Completion{}, err
	}
	if d <= 0 {
		select {
		case <-ready:
			return q.take(id)
		default:
			return q.abandon(id, api.KindTimedOut, nil)
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ready:
		return q.take(id)
	case <-t.C:
		return q.abandon(id, api.KindTimedOut, nil)
	}
}

func (q *CompletionQueue) readyChan(id api.OpID) (<-chan struct{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.slots[id]
	if !ok || s.abandoned {
		return nil, api.ErrUnknownOp.WithID(id)
	}
	return s.ready, nil
}

func (q *CompletionQueue) take(id api.OpID) (api.Completion, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.slots[id]
	if !ok || !s.posted {
		// a concurrent Poll or Await consumed it first
		return api.Completion{}, api.ErrUnknownOp.WithID(id)
	}
	delete(q.slots, id)
	q.consumed++
	q.stale++
	q.compactLocked()
	return s.c, nil
}

func (q *CompletionQueue) abandon(id api.OpID, kind api.ErrorKind, cause error) (api.Completion, error) {
	q.mu.Lock()
	s, ok := q.slots[id]
	if ok && s.posted {
		q.mu.Unlock()
		return q.take(id)
	}
	if ok {
		s.abandoned = true
	}
	q.mu.Unlock()
	if !ok {
		return api.Completion{}, api.ErrUnknownOp.WithID(id)
	}
	return api.Completion{}, &api.Error{Kind: kind, Op: "await", ID: id, Err: cause}
}

// compactLocked drops consumed ids from the ready order once they dominate it.
func (q *CompletionQueue) compactLocked() {
	if q.stale < compactThreshold || q.stale*2 < q.order.Length() {
		return
	}
	fresh := queue.New()
	for q.order.Length() > 0 {
		id := q.order.Remove().(api.OpID)
		if s, ok := q.slots[id]; ok && s.posted {
			fresh.Add(id)
		}
	}
	q.order = fresh
	q.stale = 0
}

// Forget drops the slot for id, posted or not. The engine uses it for
// requests that never reached the queue.
func (q *CompletionQueue) Forget(id api.OpID) {
	q.mu.Lock()
	if s, ok := q.slots[id]; ok {
		delete(q.slots, id)
		if s.posted {
			q.consumed++
			q.stale++
		}
	}
	q.mu.Unlock()
}

// Len returns the number of posted, unconsumed completions.
func (q *CompletionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.posted - q.consumed)
}

// Pending returns the number of live slots, posted or not.
func (q *CompletionQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}

// Discarded returns how many completions were dropped.
func (q *CompletionQueue) Discarded() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.discarded
}
