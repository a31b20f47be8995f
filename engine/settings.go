// File: engine/settings.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Conversion from loaded settings to an engine Config.

package engine

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/momentics/hioload-aio/control"
	"github.com/momentics/hioload-aio/queue"
)

// ConfigFromSettings overlays non-zero settings on DefaultConfig. Log output
// goes to w as text at the configured level; a nil w keeps slog.Default.
func ConfigFromSettings(s control.Settings, w io.Writer) (Config, error) {
	cfg := DefaultConfig()
	if s.Facility != "" {
		cfg.Facility = s.Facility
	}
	if s.RingEntries > 0 {
		cfg.RingEntries = s.RingEntries
	}
	if s.Workers > 0 {
		cfg.Workers = s.Workers
	}
	cfg.PinWorkers = s.PinWorkers
	if s.SQCapacity > 0 {
		cfg.SQCapacity = s.SQCapacity
	}
	if s.FullPolicy != "" {
		p, err := queue.ParseFullPolicy(s.FullPolicy)
		if err != nil {
			return cfg, fmt.Errorf("full_policy: %w", err)
		}
		cfg.FullPolicy = p
	}
	if s.EnqueueTimeout.Duration > 0 {
		cfg.EnqueueTimeout = s.EnqueueTimeout.Duration
	}
	if s.MaxInFlight > 0 {
		cfg.MaxInFlight = s.MaxInFlight
	}
	if s.Window > 0 {
		cfg.Window = s.Window
	}
	if s.Order != "" {
		o, err := ParseOrder(s.Order)
		if err != nil {
			return cfg, fmt.Errorf("order: %w", err)
		}
		cfg.Order = o
	}
	if s.MaxDescriptors > 0 {
		cfg.MaxDescriptors = s.MaxDescriptors
	}
	if s.ReadChunkSize > 0 {
		cfg.ReadChunkSize = s.ReadChunkSize
	}

	level, err := control.ParseLogLevel(s.LogLevel)
	if err != nil {
		return cfg, fmt.Errorf("log_level: %w", err)
	}
	if w != nil {
		cfg.Logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return cfg, nil
}
