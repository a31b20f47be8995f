package queue_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDesc struct {
	id     api.DescriptorID
	seq    uint64
	closed atomic.Bool
}

func (d *stubDesc) ID() api.DescriptorID { return d.id }
func (d *stubDesc) IsOpen() bool         { return !d.closed.Load() }
func (d *stubDesc) NextSeq() uint64      { d.seq++; return d.seq }

func newSQ(t *testing.T, capacity int, p queue.FullPolicy, d time.Duration) *queue.SubmissionQueue {
	t.Helper()
	q, err := queue.NewSubmissionQueue(queue.SubmissionConfig{Capacity: capacity, Policy: p, Timeout: d})
	require.NoError(t, err)
	return q
}

func TestSubmissionFIFOAndSequence(t *testing.T) {
	q := newSQ(t, 8, queue.PolicyFail, 0)
	a := &stubDesc{id: 1}
	b := &stubDesc{id: 2}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seq, err := q.Enqueue(ctx, &api.Request{Desc: a, Kind: api.OpRead})
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), seq)
		_, err = q.Enqueue(ctx, &api.Request{Desc: b, Kind: api.OpWrite})
		require.NoError(t, err)
	}
	assert.Equal(t, 6, q.Len())

	reqs := q.Drain(0)
	require.Len(t, reqs, 6)
	var lastA, lastB uint64
	for _, r := range reqs {
		switch r.ID.Desc {
		case 1:
			assert.Greater(t, r.ID.Seq, lastA)
			lastA = r.ID.Seq
		case 2:
			assert.Greater(t, r.ID.Seq, lastB)
			lastB = r.ID.Seq
		}
	}
	assert.Equal(t, 0, q.Len())
}

func TestSubmissionDrainMax(t *testing.T) {
	q := newSQ(t, 4, queue.PolicyFail, 0)
	d := &stubDesc{id: 1}
	for i := 0; i < 4; i++ {
		_, err := q.Enqueue(context.Background(), &api.Request{Desc: d})
		require.NoError(t, err)
	}
	first := q.Drain(3)
	require.Len(t, first, 3)
	assert.Equal(t, uint64(1), first[0].ID.Seq)
	rest := q.Drain(3)
	require.Len(t, rest, 1)
	assert.Equal(t, uint64(4), rest[0].ID.Seq)
}

func TestSubmissionFailWhenFull(t *testing.T) {
	q := newSQ(t, 2, queue.PolicyFail, 0)
	d := &stubDesc{id: 1}
	ctx := context.Background()
	_, err := q.Enqueue(ctx, &api.Request{Desc: d})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, &api.Request{Desc: d})
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, &api.Request{Desc: d})
	assert.ErrorIs(t, err, api.ErrQueueFull)
	// a rejected request does not consume a sequence number
	assert.Equal(t, uint64(2), d.seq)

	q.Drain(1)
	_, err = q.Enqueue(ctx, &api.Request{Desc: d})
	assert.NoError(t, err)
}

func TestSubmissionBoundedWait(t *testing.T) {
	q := newSQ(t, 1, queue.PolicyBlockTimeout, 20*time.Millisecond)
	d := &stubDesc{id: 1}
	_, err := q.Enqueue(context.Background(), &api.Request{Desc: d})
	require.NoError(t, err)

	start := time.Now()
	_, err = q.Enqueue(context.Background(), &api.Request{Desc: d})
	assert.ErrorIs(t, err, api.ErrQueueFull)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestSubmissionBlocksUntilDrained(t *testing.T) {
	q := newSQ(t, 1, queue.PolicyBlock, 0)
	d := &stubDesc{id: 1}
	_, err := q.Enqueue(context.Background(), &api.Request{Desc: d})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), &api.Request{Desc: d})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("enqueue did not block on a full queue")
	case <-time.After(20 * time.Millisecond):
	}
	q.Drain(1)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked enqueue never resumed")
	}
}

func TestSubmissionBlockedContextCancel(t *testing.T) {
	q := newSQ(t, 1, queue.PolicyBlock, 0)
	d := &stubDesc{id: 1}
	_, err := q.Enqueue(context.Background(), &api.Request{Desc: d})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = q.Enqueue(ctx, &api.Request{Desc: d})
	assert.ErrorIs(t, err, api.ErrCancelled)
}

func TestSubmissionRejectsClosedDescriptor(t *testing.T) {
	q := newSQ(t, 4, queue.PolicyBlock, 0)
	d := &stubDesc{id: 1}
	d.closed.Store(true)
	_, err := q.Enqueue(context.Background(), &api.Request{Desc: d})
	assert.ErrorIs(t, err, api.ErrAlreadyClosed)
	assert.Equal(t, 0, q.Len())

	_, err = q.Enqueue(context.Background(), &api.Request{})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestSubmissionCloseWakesBlocked(t *testing.T) {
	q := newSQ(t, 1, queue.PolicyBlock, 0)
	d := &stubDesc{id: 1}
	_, err := q.Enqueue(context.Background(), &api.Request{Desc: d})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var blockedErr error
	go func() {
		defer wg.Done()
		_, blockedErr = q.Enqueue(context.Background(), &api.Request{Desc: d})
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	wg.Wait()
	assert.ErrorIs(t, blockedErr, api.ErrEngineClosed)

	// queued work survives Close
	assert.Len(t, q.Drain(0), 1)
}

func TestSubmissionOnAcceptAndReady(t *testing.T) {
	var accepted []api.OpID
	q, err := queue.NewSubmissionQueue(queue.SubmissionConfig{
		Capacity: 2,
		OnAccept: func(r *api.Request) error {
			accepted = append(accepted, r.ID)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, q.Cap())

	_, err = q.Enqueue(context.Background(), &api.Request{Desc: &stubDesc{id: 3}})
	require.NoError(t, err)
	assert.Equal(t, []api.OpID{{Desc: 3, Seq: 1}}, accepted)

	select {
	case <-q.Ready():
	default:
		t.Fatal("ready not signalled")
	}
}

func TestSubmissionOnAcceptRejects(t *testing.T) {
	reject := &api.Error{Kind: api.KindAlreadyClosed, Op: "submit"}
	q, err := queue.NewSubmissionQueue(queue.SubmissionConfig{
		Capacity: 1,
		Policy:   queue.PolicyFail,
		OnAccept: func(*api.Request) error { return reject },
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = q.Enqueue(context.Background(), &api.Request{Desc: &stubDesc{id: 1}})
		require.ErrorIs(t, err, api.ErrAlreadyClosed, "a rejected request frees its slot")
	}
	assert.Zero(t, q.Len())
	assert.Empty(t, q.Drain(0))
}

func TestParseFullPolicy(t *testing.T) {
	for _, p := range []queue.FullPolicy{queue.PolicyBlock, queue.PolicyBlockTimeout, queue.PolicyFail} {
		got, err := queue.ParseFullPolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := queue.ParseFullPolicy("spin")
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	_, err = queue.NewSubmissionQueue(queue.SubmissionConfig{})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}
