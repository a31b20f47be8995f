// File: queue/submission.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/internal/concurrency"
)

// FullPolicy selects Enqueue behaviour when the queue is at capacity.
type FullPolicy int32

const (
	// PolicyBlock waits for a free slot with no timeout.
	PolicyBlock FullPolicy = iota
	// PolicyBlockTimeout waits up to the configured timeout, then fails
	// with ErrQueueFull.
	PolicyBlockTimeout
	// PolicyFail fails immediately with ErrQueueFull.
	PolicyFail
)

func (p FullPolicy) String() string {
	switch p {
	case PolicyBlock:
		return "block"
	case PolicyBlockTimeout:
		return "timeout"
	case PolicyFail:
		return "fail"
	default:
		return "unknown"
	}
}

// ParseFullPolicy parses the names produced by String.
func ParseFullPolicy(s string) (FullPolicy, error) {
	switch s {
	case "", "block":
		return PolicyBlock, nil
	case "timeout":
		return PolicyBlockTimeout, nil
	case "fail":
		return PolicyFail, nil
	}
	return PolicyBlock, &api.Error{Kind: api.KindInvalidArgument, Op: "parse policy", Err: errors.New(s)}
}

// SubmissionConfig configures a SubmissionQueue.
type SubmissionConfig struct {
	Capacity int           // maximum queued requests
	Policy   FullPolicy    // behaviour when full
	Timeout  time.Duration // bounded wait for PolicyBlockTimeout
	// OnAccept runs under the queue lock once the request id is assigned,
	// before the request becomes visible to Drain. An error rejects the
	// request and is returned from Enqueue.
	OnAccept func(req *api.Request) error
}

// SubmissionQueue is a bounded FIFO of requests awaiting dispatch.
type SubmissionQueue struct {
	mu       sync.Mutex
	ring     api.Ring[*api.Request]
	slots    chan struct{} // one token per occupied slot
	ready    chan struct{}
	closed   chan struct{}
	once     sync.Once
	policy   atomic.Int32
	timeout  atomic.Int64
	onAccept func(req *api.Request) error
}

// NewSubmissionQueue allocates the queue.
func NewSubmissionQueue(cfg SubmissionConfig) (*SubmissionQueue, error) {
	if cfg.Capacity <= 0 {
		return nil, &api.Error{Kind: api.KindInvalidArgument, Op: "new submission queue", Err: errors.New("capacity must be positive")}
	}
	size := concurrency.NextPowerOfTwo(uint32(cfg.Capacity))
	q := &SubmissionQueue{
		ring:     concurrency.NewRingBuffer[*api.Request](uint64(size)),
		slots:    make(chan struct{}, cfg.Capacity),
		ready:    make(chan struct{}, 1),
		closed:   make(chan struct{}),
		onAccept: cfg.OnAccept,
	}
	q.SetPolicy(cfg.Policy, cfg.Timeout)
	return q, nil
}

// SetPolicy changes the full policy for subsequent Enqueue calls.
func (q *SubmissionQueue) SetPolicy(p FullPolicy, timeout time.Duration) {
	q.policy.Store(int32(p))
	q.timeout.Store(int64(timeout))
}

// Policy returns the current full policy and its timeout.
func (q *SubmissionQueue) Policy() (FullPolicy, time.Duration) {
	return FullPolicy(q.policy.Load()), time.Duration(q.timeout.Load())
}

// Enqueue appends req and returns its sequence number. req.ID is filled in.
func (q *SubmissionQueue) Enqueue(ctx context.Context, req *api.Request) (uint64, error) {
	if req == nil || req.Desc == nil {
		return 0, &api.Error{Kind: api.KindInvalidArgument, Op: "enqueue", Err: errors.New("request without descriptor")}
	}
	if q.isClosed() {
		return 0, &api.Error{Kind: api.KindEngineClosed, Op: "enqueue"}
	}
	if !req.Desc.IsOpen() {
		return 0, &api.Error{Kind: api.KindAlreadyClosed, Op: "enqueue"}
	}
	if err := q.acquire(ctx); err != nil {
		return 0, err
	}

	q.mu.Lock()
	if q.isClosed() {
		q.mu.Unlock()
		q.release(1)
		return 0, &api.Error{Kind: api.KindEngineClosed, Op: "enqueue"}
	}
	if !req.Desc.IsOpen() {
		q.mu.Unlock()
		q.release(1)
		return 0, &api.Error{Kind: api.KindAlreadyClosed, Op: "enqueue"}
	}
	seq := req.Desc.NextSeq()
	req.ID = api.OpID{Desc: req.Desc.ID(), Seq: seq}
	if q.onAccept != nil {
		if err := q.onAccept(req); err != nil {
			q.mu.Unlock()
			q.release(1)
			return 0, err
		}
	}
	// tokens never exceed Capacity <= ring size
	q.ring.Enqueue(req)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return seq, nil
}

func (q *SubmissionQueue) acquire(ctx context.Context) error {
	select {
	case q.slots <- struct{}{}:
		return nil
	default:
	}

	var expire <-chan time.Time
	switch policy, timeout := q.Policy(); policy {
	case PolicyFail:
		return &api.Error{Kind: api.KindQueueFull, Op: "enqueue"}
	case PolicyBlockTimeout:
		if timeout <= 0 {
			return &api.Error{Kind: api.KindQueueFull, Op: "enqueue"}
		}
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}

	select {
	case q.slots <- struct{}{}:
		return nil
	case <-expire:
		return &api.Error{Kind: api.KindQueueFull, Op: "enqueue"}
	case <-ctx.Done():
		return &api.Error{Kind: api.KindCancelled, Op: "enqueue", Err: ctx.Err()}
	case <-q.closed:
		return &api.Error{Kind: api.KindEngineClosed, Op: "enqueue"}
	}
}

func (q *SubmissionQueue) release(n int) {
	for i := 0; i < n; i++ {
		<-q.slots
	}
}

// Drain removes up to max requests in FIFO order and frees their slots.
// max <= 0 drains everything.
func (q *SubmissionQueue) Drain(max int) []*api.Request {
	q.mu.Lock()
	n := q.ring.Len()
	if max > 0 && n > max {
		n = max
	}
	out := make([]*api.Request, 0, n)
	for i := 0; i < n; i++ {
		req, ok := q.ring.Dequeue()
		if !ok {
			break
		}
		out = append(out, req)
	}
	q.mu.Unlock()
	q.release(len(out))
	return out
}

// Ready signals that at least one request was enqueued since the last receive.
func (q *SubmissionQueue) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of queued requests.
func (q *SubmissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.Len()
}

// Cap returns the configured capacity.
func (q *SubmissionQueue) Cap() int {
	return cap(q.slots)
}

// Close rejects further Enqueue calls and wakes blocked callers. Requests
// already queued stay available to Drain.
func (q *SubmissionQueue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		close(q.closed)
		q.mu.Unlock()
	})
}

func (q *SubmissionQueue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}
