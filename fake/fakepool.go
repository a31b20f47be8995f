// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"sync/atomic"

	"github.com/momentics/hioload-aio/api"
)

var _ api.BytePool = (*BytePool)(nil)

// BytePool allocates fresh buffers and counts acquire/release calls.
type BytePool struct {
	acquired atomic.Int64
	released atomic.Int64
}

func (p *BytePool) Acquire(n int) []byte {
	p.acquired.Add(1)
	return make([]byte, n)
}

func (p *BytePool) Release(_ []byte) { p.released.Add(1) }

// Outstanding is the number of buffers acquired but not yet released.
func (p *BytePool) Outstanding() int64 {
	return p.acquired.Load() - p.released.Load()
}
