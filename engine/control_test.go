package engine_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/control"
	"github.com/momentics/hioload-aio/engine"
	"github.com/momentics/hioload-aio/fake"
	"github.com/momentics/hioload-aio/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlSnapshot(t *testing.T) {
	e := newEngine(t, func(c *engine.Config) { c.ReadChunkSize = 4096 })
	cfg := e.Control().GetConfig()
	assert.Equal(t, "workerpool", cfg["facility"])
	assert.Equal(t, 4096, cfg["read_chunk_size"])
	assert.Equal(t, "fifo", cfg["order"])
	assert.Equal(t, "block", cfg["full_policy"])

	stats := e.Control().Stats()
	assert.Equal(t, "workerpool", stats["facility"])
	assert.Contains(t, stats, "debug.engine")
	assert.Contains(t, stats, "debug.workerpool")
	assert.Contains(t, stats, "debug.platform.cpus")
}

func TestControlTunesReadChunkSize(t *testing.T) {
	e := newEngine(t, nil)
	require.Equal(t, 64*1024, e.ReadChunkSize())

	require.NoError(t, e.Control().SetConfig(map[string]any{"read_chunk_size": 1024}))
	assert.Equal(t, 1024, e.ReadChunkSize())

	// JSON-ish numbers are accepted too
	require.NoError(t, e.Control().SetConfig(map[string]any{"read_chunk_size": float64(2048)}))
	assert.Equal(t, 2048, e.ReadChunkSize())

	require.NoError(t, e.Control().SetConfig(map[string]any{"read_chunk_size": "lots"}))
	assert.Equal(t, 2048, e.ReadChunkSize())
}

func TestControlTunesFullPolicy(t *testing.T) {
	fac := fake.NewHoldingFacility(0)
	e := newEngine(t, func(c *engine.Config) {
		c.ExecFacility = fac
		c.SQCapacity = 1
		c.MaxInFlight = 1
	})
	d, err := e.Open(tempFile(t, []byte("0123")))
	require.NoError(t, err)

	fired := 0
	e.Control().OnReload(func() { fired++ })
	require.NoError(t, e.Control().SetConfig(map[string]any{
		"full_policy":     "timeout",
		"enqueue_timeout": "5ms",
	}))
	assert.Equal(t, 1, fired)

	// one request staged in the engine, one occupying the queue slot
	submit(t, e, readAt(d, 1, 0))
	_, err = fac.WaitHeld(1, waitFor)
	require.NoError(t, err)
	submit(t, e, readAt(d, 1, 1))

	start := time.Now()
	_, err = e.Submit(context.Background(), readAt(d, 1, 2))
	assert.ErrorIs(t, err, api.ErrQueueFull)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)

	require.NoError(t, e.Control().SetConfig(map[string]any{"full_policy": queue.PolicyFail.String()}))
	_, err = e.Submit(context.Background(), readAt(d, 1, 2))
	assert.ErrorIs(t, err, api.ErrQueueFull)
	assert.Equal(t, "fail", e.Control().GetConfig()["full_policy"])
}

func TestConfigFromSettings(t *testing.T) {
	var s control.Settings
	s.Facility = "workerpool"
	s.SQCapacity = 8
	s.FullPolicy = "fail"
	s.Order = "arrival"
	s.ReadChunkSize = 512
	s.LogLevel = "debug"
	s.EnqueueTimeout.Duration = 3 * time.Millisecond

	var logs bytes.Buffer
	cfg, err := engine.ConfigFromSettings(s, &logs)
	require.NoError(t, err)
	assert.Equal(t, "workerpool", cfg.Facility)
	assert.Equal(t, 8, cfg.SQCapacity)
	assert.Equal(t, queue.PolicyFail, cfg.FullPolicy)
	assert.Equal(t, engine.OrderArrival, cfg.Order)
	assert.Equal(t, 512, cfg.ReadChunkSize)
	assert.Equal(t, 3*time.Millisecond, cfg.EnqueueTimeout)
	assert.EqualValues(t, 8, cfg.RingEntries, "unset keys keep defaults")

	e, err := engine.New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Close())
	assert.Contains(t, logs.String(), "engine started")

	_, err = engine.ConfigFromSettings(control.Settings{Order: "sideways"}, nil)
	assert.Error(t, err)
	_, err = engine.ConfigFromSettings(control.Settings{FullPolicy: "maybe"}, nil)
	assert.Error(t, err)
	_, err = engine.ConfigFromSettings(control.Settings{LogLevel: "loud"}, nil)
	assert.Error(t, err)
}
