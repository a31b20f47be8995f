// File: engine/workerpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker pool execution facility: blocking pread/pwrite on executor workers.

package engine

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/internal/concurrency"
	"github.com/momentics/hioload-aio/internal/uring"
	"golang.org/x/sys/unix"
)

// Ensure compile-time interface compliance.
var _ api.Facility = (*workerPool)(nil)

type workerPool struct {
	exec api.Executor
}

func newWorkerPool(workers int, pin bool, logger *slog.Logger) *workerPool {
	var opts []concurrency.ExecutorOption
	if pin {
		opts = append(opts, concurrency.WithCPUPinning())
	}
	return newWorkerPoolOn(concurrency.NewExecutor(workers, logger.With("component", "workerpool"), opts...))
}

// newWorkerPoolOn runs ops on exec. Submit must not block; a saturated
// executor reports concurrency.ErrExecutorBusy.
func newWorkerPoolOn(exec api.Executor) *workerPool {
	return &workerPool{exec: exec}
}

func (p *workerPool) Name() string { return uring.NameWorkerPool }

func (p *workerPool) Depth() int { return 0 }

// Issue is only called from the dispatch loop, which keeps the executor's
// single-producer contract.
func (p *workerPool) Issue(op api.Op, done api.CompletionFunc) (api.CancelFunc, error) {
	var cancelled atomic.Bool
	err := p.exec.Submit(func() {
		if cancelled.Load() {
			done(0, unix.ECANCELED)
			return
		}
		n, err := transfer(op)
		done(n, err)
	})
	switch {
	case err == nil:
		return func() { cancelled.Store(true) }, nil
	case errors.Is(err, concurrency.ErrExecutorBusy):
		return nil, &api.Error{Kind: api.KindQueueFull, Op: op.Kind.String(), ID: op.ID, Err: err}
	default:
		return nil, &api.Error{Kind: api.KindEngineClosed, Op: op.Kind.String(), ID: op.ID, Err: err}
	}
}

func (p *workerPool) Close() error {
	p.exec.Close()
	return nil
}

func (p *workerPool) Stats() map[string]int64 {
	stats := map[string]int64{"num_workers": int64(p.exec.NumWorkers())}
	if s, ok := p.exec.(interface{ Stats() map[string]int64 }); ok {
		stats = s.Stats()
	}
	return stats
}

func transfer(op api.Op) (int, error) {
	for {
		var n int
		var err error
		switch op.Kind {
		case api.OpRead:
			n, err = unix.Pread(op.FD, op.Buf, op.Offset)
		case api.OpWrite:
			n, err = unix.Pwrite(op.FD, op.Buf, op.Offset)
		default:
			return 0, unix.EINVAL
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}
