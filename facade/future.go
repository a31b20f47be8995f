// File: facade/future.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Future: the awaitable result of one submitted request.

package facade

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/engine"
)

// Future resolves to the result of one asynchronous operation. The result
// is memoised: once resolved, every Wait returns the same value and error.
// Wait may be called from several goroutines.
type Future[T any] struct {
	eng     *engine.Engine
	id      api.OpID
	convert func(api.Completion) T

	turn     chan struct{} // held by the goroutine collecting the result
	done     chan struct{}
	res      api.Result[T]
	bgOnce   sync.Once
	resolved sync.Once
}

func newFuture[T any](eng *engine.Engine, id api.OpID, convert func(api.Completion) T) *Future[T] {
	return &Future[T]{
		eng:     eng,
		id:      id,
		convert: convert,
		turn:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// failedFuture is already resolved with err; used when submission fails.
func failedFuture[T any](err error) *Future[T] {
	f := &Future[T]{turn: make(chan struct{}, 1), done: make(chan struct{})}
	f.resolve(api.Result[T]{Err: err})
	return f
}

func (f *Future[T]) resolve(r api.Result[T]) {
	f.resolved.Do(func() {
		f.res = r
		close(f.done)
	})
}

// ID returns the operation id; zero when submission failed.
func (f *Future[T]) ID() api.OpID { return f.id }

// Done is closed once the result is available. The first call starts a
// background collector, so Done works without anyone calling Wait.
func (f *Future[T]) Done() <-chan struct{} {
	f.bgOnce.Do(func() {
		select {
		case <-f.done:
		default:
			go f.Wait(context.Background())
		}
	})
	return f.done
}

// Wait blocks until the operation completes or ctx ends. If ctx ends while
// this call is collecting the result, the completion is abandoned, the
// request is cancelled and the future resolves to ErrTimedOut or
// ErrCancelled.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	return f.collect(ctx, func() (api.Completion, error) {
		return f.eng.Await(ctx, f.id)
	})
}

// WaitTimeout waits at most d. A zero or negative d only checks whether the
// result is already there; on expiry the late completion is discarded.
func (f *Future[T]) WaitTimeout(d time.Duration) (T, error) {
	ctx := context.Background()
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return f.collect(ctx, func() (api.Completion, error) {
		return f.eng.AwaitTimeout(f.id, d)
	})
}

func (f *Future[T]) collect(ctx context.Context, await func() (api.Completion, error)) (T, error) {
	select {
	case <-f.done:
		return f.res.Value, f.res.Err
	case f.turn <- struct{}{}:
	case <-ctx.Done():
		var zero T
		return zero, ctxError(ctx)
	}
	defer func() { <-f.turn }()

	select {
	case <-f.done:
		return f.res.Value, f.res.Err
	default:
	}
	c, err := await()
	switch {
	case err != nil:
		if abandoned(err) {
			// nobody will collect the completion; stop the request too
			_ = f.eng.Cancel(f.id)
		}
		f.resolve(api.Result[T]{Err: err})
	case c.Err != nil:
		f.resolve(api.Result[T]{Err: c.Err})
	default:
		f.resolve(api.Result[T]{Value: f.convert(c)})
	}
	return f.res.Value, f.res.Err
}

// Cancel requests cancellation. It is a no-op once the future resolved.
func (f *Future[T]) Cancel() error {
	select {
	case <-f.done:
		return nil
	default:
	}
	err := f.eng.Cancel(f.id)
	if errors.Is(err, api.ErrUnknownOp) {
		// finished between the check and the call
		return nil
	}
	return err
}

func ctxError(ctx context.Context) error {
	kind := api.KindCancelled
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = api.KindTimedOut
	}
	return &api.Error{Kind: kind, Op: "wait", Err: ctx.Err()}
}
