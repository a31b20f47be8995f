// File: engine/control.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime control surface: config snapshot, hot-tunable keys, metrics and
// debug probes.

package engine

import (
	"time"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/queue"
)

// Control exposes the engine's config store, metrics and debug probes.
// Setting "read_chunk_size", "enqueue_timeout" or "full_policy" takes
// effect for subsequent requests.
func (e *Engine) Control() api.Control {
	return e.control
}

func (e *Engine) initControl() {
	policy, timeout := e.sq.Policy()
	_ = e.control.SetConfig(map[string]any{
		"facility":        e.facility.Name(),
		"ring_entries":    int(e.cfg.RingEntries),
		"workers":         e.cfg.Workers,
		"pin_workers":     e.cfg.PinWorkers,
		"sq_capacity":     e.cfg.SQCapacity,
		"full_policy":     policy.String(),
		"enqueue_timeout": timeout,
		"max_in_flight":   e.cfg.MaxInFlight,
		"window":          e.cfg.Window,
		"order":           e.cfg.Order.String(),
		"max_descriptors": e.cfg.MaxDescriptors,
		"read_chunk_size": e.cfg.ReadChunkSize,
	})
	e.control.OnChange(e.applyConfig)

	e.control.SetMetric("facility", e.facility.Name())
	e.control.SetMetric("started_at", e.startedAt.Format(time.RFC3339))
	e.control.RegisterDebugProbe("engine", func() any { return e.Stats() })
	if wp, ok := e.facility.(*workerPool); ok {
		e.control.RegisterDebugProbe("workerpool", func() any { return wp.Stats() })
	}
}

func (e *Engine) applyConfig(changed map[string]any) {
	if v, ok := changed["read_chunk_size"]; ok {
		if n, ok := asInt(v); ok && n > 0 {
			e.chunk.Store(n)
			e.logger.Info("read chunk size changed", "read_chunk_size", n)
		} else {
			e.logger.Warn("ignoring read_chunk_size", "value", v)
		}
	}

	_, tuneTimeout := changed["enqueue_timeout"]
	_, tunePolicy := changed["full_policy"]
	if !tuneTimeout && !tunePolicy {
		return
	}
	policy, timeout := e.sq.Policy()
	if v, ok := changed["full_policy"]; ok {
		s, _ := v.(string)
		p, err := queue.ParseFullPolicy(s)
		if err != nil {
			e.logger.Warn("ignoring full_policy", "value", v, "error", err)
		} else {
			policy = p
		}
	}
	if v, ok := changed["enqueue_timeout"]; ok {
		if d, ok := asDuration(v); ok && d >= 0 {
			timeout = d
		} else {
			e.logger.Warn("ignoring enqueue_timeout", "value", v)
		}
	}
	e.sq.SetPolicy(policy, timeout)
	e.logger.Info("full policy changed", "full_policy", policy.String(), "enqueue_timeout", timeout)
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), n == float64(int64(n))
	}
	return 0, false
}

func asDuration(v any) (time.Duration, bool) {
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case string:
		p, err := time.ParseDuration(d)
		return p, err == nil
	}
	if n, ok := asInt(v); ok {
		return time.Duration(n) * time.Millisecond, true
	}
	return 0, false
}
