// File: internal/uring/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package uring provides the native io_uring execution facility for the
// ring engine on Linux, built on github.com/iceber/iouring-go. Other
// platforms get a stub that reports io_uring as unsupported so the engine
// falls back to the worker pool.
package uring
