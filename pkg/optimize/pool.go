// Package optimize holds allocation helpers for the media hot path.
package optimize

import (
	"sync"
)

// BytePool hands out fixed-size buffers. It stores pointers so Put does not
// allocate.
type BytePool struct {
	pool sync.Pool
	size int
}

func NewBytePool(size int) *BytePool {
	p := &BytePool{size: size}
	p.pool.New = func() interface{} {
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// Get returns a buffer of exactly Size bytes.
func (p *BytePool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put returns buf to the pool. Buffers smaller than Size are dropped.
func (p *BytePool) Put(buf *[]byte) {
	if buf == nil || cap(*buf) < p.size {
		return
	}
	*buf = (*buf)[:p.size]
	p.pool.Put(buf)
}

func (p *BytePool) Size() int {
	return p.size
}
