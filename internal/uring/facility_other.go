//go:build !linux

// File: internal/uring/facility_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package uring

import (
	"log/slog"

	"github.com/momentics/hioload-aio/api"
)

// Supported is always false off Linux.
func Supported() bool { return false }

// Facility is never constructed off Linux.
type Facility struct{}

// New returns ErrNotSupported.
func New(entries uint, logger *slog.Logger) (*Facility, error) {
	return nil, ErrNotSupported
}

func (f *Facility) Name() string { return NameURing }
func (f *Facility) Depth() int   { return 0 }
func (f *Facility) Issue(op api.Op, done api.CompletionFunc) (api.CancelFunc, error) {
	return nil, ErrNotSupported
}
func (f *Facility) Close() error { return nil }
