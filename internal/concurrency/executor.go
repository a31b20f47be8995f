// File: internal/concurrency/executor.go
// Package concurrency implements a task executor for blocking syscalls.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches tasks across worker goroutines, using lock-free local
// queues and a global queue fallback. Idle workers park on a wake channel
// instead of spinning.

package concurrency

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-aio/api"
)

// Ensure compile-time interface compliance.
var _ api.Executor = (*Executor)(nil)

// TaskFunc is a unit of work to execute.
type TaskFunc func()

const (
	localQueueSize = 1024
	idlePoll       = time.Millisecond
)

// Executor manages a pool of worker goroutines.
type Executor struct {
	globalQueue chan TaskFunc              // fallback queue for tasks when local queues are full
	localQueues []*lockFreeQueue[TaskFunc] // per-worker lock-free queues
	workers     []*worker
	closeCh     chan struct{}
	closed      atomic.Bool
	wg          sync.WaitGroup
	logger      *slog.Logger
	pin         bool

	// statistics
	totalTasks     atomic.Int64
	completedTasks atomic.Int64
	panics         atomic.Int64
}

// ExecutorOption customises an Executor.
type ExecutorOption func(*Executor)

// WithCPUPinning binds worker i to CPU i modulo the CPU count.
func WithCPUPinning() ExecutorOption {
	return func(e *Executor) { e.pin = true }
}

// NewExecutor creates a new Executor with the given number of workers.
// If numWorkers <= 0, defaults to runtime.NumCPU().
func NewExecutor(numWorkers int, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		globalQueue: make(chan TaskFunc, numWorkers*4),
		closeCh:     make(chan struct{}),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.localQueues = make([]*lockFreeQueue[TaskFunc], numWorkers)
	e.workers = make([]*worker, numWorkers)
	for i := 0; i < numWorkers; i++ {
		e.localQueues[i] = newLockFreeQueue[TaskFunc](localQueueSize)
	}
	for i := 0; i < numWorkers; i++ {
		w := &worker{
			id:         i,
			executor:   e,
			localQueue: e.localQueues[i],
			wake:       make(chan struct{}, 1),
		}
		e.workers[i] = w
		e.wg.Add(1)
		go w.run()
	}
	return e
}

// Submit enqueues a task for execution. Submit must be called from a single
// goroutine at a time: local queues are single-producer.
func (e *Executor) Submit(task func()) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}
	n := e.totalTasks.Add(1)
	idx := int(n % int64(len(e.localQueues)))
	if e.localQueues[idx].Enqueue(task) {
		e.workers[idx].nudge()
		return nil
	}
	select {
	case e.globalQueue <- task:
		return nil
	case <-e.closeCh:
		e.totalTasks.Add(-1)
		return ErrExecutorClosed
	default:
		e.totalTasks.Add(-1)
		return ErrExecutorBusy
	}
}

// NumWorkers returns the number of workers.
func (e *Executor) NumWorkers() int {
	return len(e.workers)
}

// Close stops the workers after they finish the task at hand and waits for
// them to exit. Queued tasks that never started are dropped.
func (e *Executor) Close() {
	if e.closed.CompareAndSwap(false, true) {
		close(e.closeCh)
		e.wg.Wait()
	}
}

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	total := e.totalTasks.Load()
	done := e.completedTasks.Load()
	return map[string]int64{
		"total_tasks":     total,
		"completed_tasks": done,
		"pending_tasks":   total - done,
		"panics":          e.panics.Load(),
		"num_workers":     int64(e.NumWorkers()),
	}
}

// worker represents a single executor goroutine.
type worker struct {
	id         int
	executor   *Executor
	localQueue *lockFreeQueue[TaskFunc]
	wake       chan struct{}
}

func (w *worker) nudge() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// run is the main loop for a worker.
func (w *worker) run() {
	defer w.executor.wg.Done()
	e := w.executor
	if e.pin {
		if err := pinCurrentThread(w.id); err != nil {
			e.logger.Warn("worker not pinned", "worker", w.id, "error", err)
		}
	}
	idle := time.NewTimer(idlePoll)
	defer idle.Stop()
	for {
		select {
		case <-e.closeCh:
			return
		default:
		}
		if task, ok := w.localQueue.Dequeue(); ok {
			w.executeTask(task)
			continue
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(idlePoll)
		select {
		case task := <-e.globalQueue:
			w.executeTask(task)
		case <-w.wake:
		case <-idle.C:
		case <-e.closeCh:
			return
		}
	}
}

// executeTask runs the task and updates statistics, recovering from panics.
func (w *worker) executeTask(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			w.executor.panics.Add(1)
			w.executor.logger.Error("executor task panicked", "worker", w.id, "panic", r)
		}
		w.executor.completedTasks.Add(1)
	}()
	task()
}
