// Package pool provides reusable copy buffers for file transfers.
package pool

import (
	"io"
	"sync"
)

// DefaultBufferSize is the default size for copy buffers.
const DefaultBufferSize = 256 * 1024 // 256KB

// BufferPool manages reusable byte buffers.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a new buffer pool with the specified buffer size.
func NewBufferPool(bufferSize int) *BufferPool {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	bp := &BufferPool{size: bufferSize}
	bp.pool.New = func() any {
		buf := make([]byte, bufferSize)
		return &buf
	}
	return bp
}

// Size returns the length of the pooled buffers.
func (p *BufferPool) Size() int {
	return p.size
}

// Get retrieves a buffer from the pool.
func (p *BufferPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool.
func (p *BufferPool) Put(buf *[]byte) {
	if buf == nil || len(*buf) != p.size {
		return
	}
	p.pool.Put(buf)
}

// Copy streams src into dst through a pooled buffer.
func (p *BufferPool) Copy(dst io.Writer, src io.Reader) (int64, error) {
	buf := p.Get()
	defer p.Put(buf)
	return io.CopyBuffer(dst, src, *buf)
}

var shared = NewBufferPool(DefaultBufferSize)

// Copy streams src into dst through the shared pool.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	return shared.Copy(dst, src)
}
