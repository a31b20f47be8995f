// Author: momentics <momentics@gmail.com>
//
// Throughput benchmarks for the engine and its buffer pool.

package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/engine"
	"github.com/momentics/hioload-aio/internal/uring"
	"github.com/momentics/hioload-aio/pool"
)

func benchEngine(b *testing.B, order engine.Order) (*engine.Engine, string) {
	b.Helper()
	cfg := engine.DefaultConfig()
	cfg.Facility = uring.NameWorkerPool
	cfg.Order = order
	cfg.Logger = quietLogger()
	e, err := engine.New(cfg)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = e.Shutdown(context.Background()) })

	path := filepath.Join(b.TempDir(), "bench.bin")
	if err := os.WriteFile(path, make([]byte, 1<<20), 0o644); err != nil {
		b.Fatal(err)
	}
	return e, path
}

func benchmarkPositionalReads(b *testing.B, order engine.Order) {
	e, path := benchEngine(b, order)
	d, err := e.Open(path)
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	const chunk = 4096

	b.SetBytes(chunk)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		off := int64(i%256) * chunk
		id, err := e.Submit(ctx, readAt(d, chunk, off))
		if err != nil {
			b.Fatal(err)
		}
		c, err := e.Await(ctx, id)
		if err != nil || c.Err != nil {
			b.Fatal(err, c.Err)
		}
	}
}

func BenchmarkReadFIFO(b *testing.B)    { benchmarkPositionalReads(b, engine.OrderFIFO) }
func BenchmarkReadArrival(b *testing.B) { benchmarkPositionalReads(b, engine.OrderArrival) }

// BenchmarkCursorReads measures the serialized cursor path.
func BenchmarkCursorReads(b *testing.B) {
	e, path := benchEngine(b, engine.OrderFIFO)
	d, err := e.Open(path)
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	rewind := &api.Request{Kind: api.OpSeek, Offset: 0, Whence: api.SeekStart}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if i%256 == 0 {
			req := *rewind
			req.Desc = d
			id, err := e.Submit(ctx, &req)
			if err != nil {
				b.Fatal(err)
			}
			if _, err := e.Await(ctx, id); err != nil {
				b.Fatal(err)
			}
		}
		id, err := e.Submit(ctx, readAt(d, 4096, api.OffsetCursor))
		if err != nil {
			b.Fatal(err)
		}
		if _, err := e.Await(ctx, id); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkBytePool tests buffer pool allocation performance.
func BenchmarkBytePool(b *testing.B) {
	p := pool.NewBytePool()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := p.Acquire(64 * 1024)
			p.Release(buf)
		}
	})
}
