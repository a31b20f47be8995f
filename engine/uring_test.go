//go:build linux

package engine_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/engine"
	"github.com/momentics/hioload-aio/internal/uring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func uringEngine(t *testing.T) *engine.Engine {
	t.Helper()
	if !uring.Supported() {
		t.Skip("io_uring not available")
	}
	e := newEngine(t, func(c *engine.Config) { c.Facility = uring.NameURing })
	require.Equal(t, uring.NameURing, e.Facility())
	return e
}

// fifo returns a named pipe nobody writes to; reads on it never finish.
func fifo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stuck.fifo")
	require.NoError(t, unix.Mkfifo(path, 0o600))
	return path
}

func TestURingRoundTripAndSeek(t *testing.T) {
	e := uringEngine(t)
	d, err := e.Open(tempFile(t, nil))
	require.NoError(t, err)

	w := await(t, e, submit(t, e, &api.Request{Desc: d, Kind: api.OpWrite, Buf: []byte("hello world"), Offset: api.OffsetCursor}))
	require.NoError(t, w.Err)
	assert.Equal(t, 11, w.N)
	assert.EqualValues(t, 11, d.Cursor())

	s := await(t, e, submit(t, e, &api.Request{Desc: d, Kind: api.OpSeek, Offset: -5, Whence: api.SeekEnd}))
	require.NoError(t, s.Err)
	r := await(t, e, submit(t, e, readAt(d, 16, api.OffsetCursor)))
	require.NoError(t, r.Err)
	assert.Equal(t, "world", string(r.Data))
}

func TestURingFIFODelivery(t *testing.T) {
	e := uringEngine(t)
	content := make([]byte, 64*1024)
	d, err := e.Open(tempFile(t, content))
	require.NoError(t, err)

	const n = 32
	for i := 0; i < n; i++ {
		submit(t, e, readAt(d, 2048, int64(i)*2048))
	}
	var seqs []uint64
	require.Eventually(t, func() bool {
		for {
			c, ok := e.Poll()
			if !ok {
				break
			}
			assert.NoError(t, c.Err)
			seqs = append(seqs, c.ID.Seq)
		}
		return len(seqs) == n
	}, waitFor, time.Millisecond)
	assert.IsIncreasing(t, seqs, "completions surface in submission order")
}

func TestURingShutdownDeadlineWithStuckRead(t *testing.T) {
	e := uringEngine(t)
	d, err := e.OpenFile(fifo(t), unix.O_RDWR, 0)
	require.NoError(t, err)

	id := submit(t, e, readAt(d, 16, 0))
	require.Eventually(t, func() bool { return e.Stats()["inflight"] == 1 }, waitFor, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Shutdown(ctx) }()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown ignored its deadline")
	}
	c, err := e.AwaitTimeout(id, waitFor)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Err, api.ErrEngineClosed)
}

func TestURingCancelStuckRead(t *testing.T) {
	e := uringEngine(t)
	d, err := e.OpenFile(fifo(t), unix.O_RDWR, 0)
	require.NoError(t, err)

	id := submit(t, e, readAt(d, 16, 0))
	require.Eventually(t, func() bool { return e.Stats()["inflight"] == 1 }, waitFor, time.Millisecond)
	require.NoError(t, e.Cancel(id))

	c := await(t, e, id)
	assert.ErrorIs(t, c.Err, api.ErrCancelled)
	require.NoError(t, e.Release(context.Background(), d))
}
