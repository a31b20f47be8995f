// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives behind the I/O engine: a generic ring buffer used
// by the submission queue, a single-producer lock-free queue, and the task
// executor that runs blocking pread/pwrite calls for the worker pool
// facility, with optional CPU pinning of its workers.
package concurrency
