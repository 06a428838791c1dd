// Package pool provides reusable byte buffers for copy loops.
//
// sync.Pool caches allocated but unused objects for later reuse, relieving
// pressure on the garbage collector. It is safe for concurrent use. Items in
// the pool are dropped during garbage collection, so it suits short-lived
// objects like copy buffers.
package pool

import (
	"fmt"
	"sync"
)

// FixedBufferPool hands out byte slices of one fixed size.
type FixedBufferPool struct {
	size int64
	pool sync.Pool
}

// NewFixedBuffer creates a pool of size-byte buffers. size must be positive.
func NewFixedBuffer(size int64) *FixedBufferPool {
	if size <= 0 {
		panic(fmt.Sprintf("buffer size %d must be positive", size))
	}
	return &FixedBufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, int(size))
				return &b
			},
		},
	}
}

// Size returns the length of the buffers handed out by the pool.
func (fp *FixedBufferPool) Size() int64 { return fp.size }

// Get returns a buffer of exactly Size bytes.
func (fp *FixedBufferPool) Get() *[]byte {
	b := fp.pool.Get().(*[]byte)
	*b = (*b)[:fp.size]
	return b
}

// Put returns b to the pool. Buffers of a foreign capacity are dropped.
func (fp *FixedBufferPool) Put(b *[]byte) {
	if b == nil || int64(cap(*b)) != fp.size {
		return
	}
	fp.pool.Put(b)
}
