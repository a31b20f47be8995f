// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import (
	"math/bits"
	"sync/atomic"

	"github.com/momentics/hioload-aio/api"
)

const (
	minClassShift = 9  // 512 B
	maxClassShift = 24 // 16 MiB
)

// Ensure compile-time interface compliance.
var _ api.BytePool = (*BytePool)(nil)

// BytePool hands out []byte from power-of-two size classes. Requests larger
// than the biggest class are allocated directly and never pooled.
type BytePool struct {
	classes [maxClassShift - minClassShift + 1]*SyncPool[*[]byte]

	acquired atomic.Int64
	reused   atomic.Int64
	released atomic.Int64
}

// NewBytePool creates an empty pool.
func NewBytePool() *BytePool {
	p := &BytePool{}
	for i := range p.classes {
		size := 1 << (minClassShift + i)
		p.classes[i] = NewSyncPool(func() *[]byte {
			p.reused.Add(-1) // offset the reuse count for fresh buffers
			b := make([]byte, size)
			return &b
		})
	}
	return p
}

var defaultPool = NewBytePool()

// Default returns the process-wide pool.
func Default() *BytePool { return defaultPool }

func classOf(n int) int {
	if n <= 1<<minClassShift {
		return 0
	}
	shift := bits.Len(uint(n - 1))
	if shift > maxClassShift {
		return -1
	}
	return shift - minClassShift
}

// Acquire returns a slice of length n.
func (p *BytePool) Acquire(n int) []byte {
	if n < 0 {
		n = 0
	}
	p.acquired.Add(1)
	c := classOf(n)
	if c < 0 {
		return make([]byte, n)
	}
	p.reused.Add(1)
	b := p.classes[c].Get()
	return (*b)[:n]
}

// Release returns buf to its size class. Buffers whose capacity is not a
// class size are dropped.
func (p *BytePool) Release(buf []byte) {
	c := cap(buf)
	if c == 0 || c&(c-1) != 0 {
		return
	}
	class := classOf(c)
	if class < 0 || 1<<(minClassShift+class) != c {
		return
	}
	p.released.Add(1)
	buf = buf[:c]
	p.classes[class].Put(&buf)
}

// Stats reports acquire, reuse and release counts.
func (p *BytePool) Stats() map[string]int64 {
	return map[string]int64{
		"acquired": p.acquired.Load(),
		"reused":   p.reused.Load(),
		"released": p.released.Load(),
	}
}
