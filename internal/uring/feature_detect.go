// File: internal/uring/feature_detect.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime selection of the execution facility.

package uring

import "errors"

// Facility names accepted by Select and the engine configuration.
const (
	NameAuto       = "auto"
	NameURing      = "uring"
	NameWorkerPool = "workerpool"
)

// ErrNotSupported is returned by New where io_uring is unavailable.
var ErrNotSupported = errors.New("io_uring is not supported on this platform")

// Select resolves a configured facility name to a concrete one.
func Select(name string) string {
	switch name {
	case NameURing, NameWorkerPool:
		return name
	}
	if Supported() {
		return NameURing
	}
	return NameWorkerPool
}
