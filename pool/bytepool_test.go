package pool_test

import (
	"testing"

	"github.com/momentics/hioload-aio/pool"
	"github.com/stretchr/testify/assert"
)

func TestBytePoolSizes(t *testing.T) {
	p := pool.NewBytePool()
	for _, n := range []int{0, 1, 512, 513, 4096, 65536, 100000} {
		b := p.Acquire(n)
		assert.Len(t, b, n)
		assert.GreaterOrEqual(t, cap(b), n)
		c := cap(b)
		assert.Zero(t, c&(c-1), "capacity %d is a power of two", c)
		p.Release(b)
	}
}

func TestBytePoolOversized(t *testing.T) {
	p := pool.NewBytePool()
	b := p.Acquire(32 << 20)
	assert.Len(t, b, 32<<20)
	p.Release(b)
	assert.EqualValues(t, 0, p.Stats()["released"], "oversized buffers are not pooled")
}

func TestBytePoolIgnoresForeignBuffers(t *testing.T) {
	p := pool.NewBytePool()
	p.Release(make([]byte, 1000))
	p.Release(nil)
	assert.EqualValues(t, 0, p.Stats()["released"])

	p.Release(make([]byte, 10, 1024))
	assert.EqualValues(t, 1, p.Stats()["released"])
	b := p.Acquire(700)
	assert.Len(t, b, 700)
	assert.Equal(t, 1024, cap(b))
}

func TestBytePoolStats(t *testing.T) {
	p := pool.NewBytePool()
	b := p.Acquire(2048)
	p.Release(b)
	stats := p.Stats()
	assert.EqualValues(t, 1, stats["acquired"])
	assert.EqualValues(t, 1, stats["released"])
	assert.NotNil(t, pool.Default())
}
