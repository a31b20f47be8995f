// File: engine/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Engine configuration with defaults.

package engine

import (
	"errors"
	"log/slog"
	"time"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/internal/uring"
	"github.com/momentics/hioload-aio/queue"
)

// Order selects how completions of one descriptor are delivered.
type Order int

const (
	// OrderFIFO delivers completions in submission order per descriptor.
	OrderFIFO Order = iota
	// OrderArrival delivers completions as the facility reports them.
	OrderArrival
)

func (o Order) String() string {
	if o == OrderArrival {
		return "arrival"
	}
	return "fifo"
}

// ParseOrder parses "fifo" or "arrival".
func ParseOrder(s string) (Order, error) {
	switch s {
	case "", "fifo":
		return OrderFIFO, nil
	case "arrival":
		return OrderArrival, nil
	}
	return OrderFIFO, &api.Error{Kind: api.KindInvalidArgument, Op: "parse order", Err: errors.New(s)}
}

// Config holds parameters fixed for the lifetime of an Engine, except the
// ones marked runtime-tunable, which can be changed through Control.
type Config struct {
	Facility       string           // "auto", "uring" or "workerpool"
	RingEntries    uint             // io_uring submission entries
	Workers        int              // worker pool goroutines
	PinWorkers     bool             // bind worker pool goroutines to CPUs
	SQCapacity     int              // submission queue slots
	FullPolicy     queue.FullPolicy // behaviour of Enqueue on a full queue
	EnqueueTimeout time.Duration    // bounded wait for PolicyBlockTimeout (runtime-tunable)
	MaxInFlight    int              // requests staged in the engine (pending + issued)
	Window         int              // positional requests in flight per descriptor
	Order          Order            // completion delivery policy
	MaxDescriptors int              // open descriptors per engine, 0 = unlimited
	ReadChunkSize  int              // default Read length (runtime-tunable)
	Logger         *slog.Logger

	// ExecFacility bypasses facility selection. The engine takes ownership
	// and closes it on shutdown.
	ExecFacility api.Facility
}

// DefaultConfig returns default configuration values.
func DefaultConfig() Config {
	return Config{
		Facility:       uring.NameAuto,
		RingEntries:    8,
		Workers:        4,
		PinWorkers:     false,
		SQCapacity:     256,
		FullPolicy:     queue.PolicyBlock,
		EnqueueTimeout: 0,
		MaxInFlight:    128,
		Window:         4,
		Order:          OrderFIFO,
		MaxDescriptors: 0,
		ReadChunkSize:  64 * 1024,
	}
}

func (c *Config) normalize() error {
	def := DefaultConfig()
	switch c.Facility {
	case "":
		c.Facility = def.Facility
	case uring.NameAuto, uring.NameURing, uring.NameWorkerPool:
	default:
		return &api.Error{Kind: api.KindInvalidArgument, Op: "config", Err: errors.New("unknown facility " + c.Facility)}
	}
	if c.RingEntries == 0 {
		c.RingEntries = def.RingEntries
	}
	if c.SQCapacity <= 0 {
		c.SQCapacity = def.SQCapacity
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = def.MaxInFlight
	}
	if c.Window <= 0 {
		c.Window = 1
	}
	if c.ReadChunkSize <= 0 {
		c.ReadChunkSize = def.ReadChunkSize
	}
	if c.MaxDescriptors < 0 {
		c.MaxDescriptors = 0
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
