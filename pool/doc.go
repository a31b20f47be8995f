// Package pool
// Author: momentics <momentics@gmail.com>
//
// Buffer reuse for the I/O paths. Byte buffers are grouped in power-of-two
// size classes, each backed by a sync.Pool, so bulk reads such as File.Dump
// do not allocate a fresh chunk per request.
package pool
