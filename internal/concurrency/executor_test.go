// Copyright 2025 momentics@gmail.com
// License: Apache 2.0

package concurrency_test

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/hioload-aio/internal/concurrency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestExecutorRunsAllTasks(t *testing.T) {
	ex := concurrency.NewExecutor(4, quiet())
	defer ex.Close()
	require.Equal(t, 4, ex.NumWorkers())

	const n = 500
	var wg sync.WaitGroup
	var counter atomic.Int64
	wg.Add(n)
	for i := 0; i < n; i++ {
		for {
			err := ex.Submit(func() {
				counter.Add(1)
				wg.Done()
			})
			if err == nil {
				break
			}
			require.ErrorIs(t, err, concurrency.ErrExecutorBusy)
			time.Sleep(time.Millisecond)
		}
	}
	wg.Wait()
	assert.EqualValues(t, n, counter.Load())
	require.Eventually(t, func() bool {
		return ex.Stats()["pending_tasks"] == 0
	}, time.Second, time.Millisecond)
	assert.EqualValues(t, n, ex.Stats()["completed_tasks"])
}

func TestExecutorRecoversPanics(t *testing.T) {
	ex := concurrency.NewExecutor(1, quiet())
	defer ex.Close()

	require.NoError(t, ex.Submit(func() { panic("boom") }))
	done := make(chan struct{})
	require.NoError(t, ex.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after a panic")
	}
	assert.EqualValues(t, 1, ex.Stats()["panics"])
}

func TestExecutorSubmitAfterClose(t *testing.T) {
	ex := concurrency.NewExecutor(2, quiet())
	ex.Close()
	ex.Close()
	assert.ErrorIs(t, ex.Submit(func() {}), concurrency.ErrExecutorClosed)
}

func TestExecutorPinnedWorkers(t *testing.T) {
	ex := concurrency.NewExecutor(2, quiet(), concurrency.WithCPUPinning())
	defer ex.Close()

	done := make(chan struct{})
	require.NoError(t, ex.Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pinned worker did not run the task")
	}
}
