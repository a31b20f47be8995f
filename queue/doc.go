// Package queue
// Author: momentics <momentics@gmail.com>
//
// Submission and completion queues of the ring engine.
//
//   - SubmissionQueue: bounded FIFO of pending requests. Assigns the
//     per-descriptor sequence number under its lock, applies the configured
//     full policy (block, bounded wait, or fail fast).
//   - CompletionQueue: finished operations keyed by OpID. Callers either
//     Await a specific id or Poll the oldest completion.
//
// Both queues are safe for concurrent use. They are the only shared mutable
// state between callers and the engine dispatch loop.
package queue
