package packets

import "sync"

// PooledSize is the capacity of buffers handed out by DefaultPool.
const PooledSize = 4096

// bufferPool is a pool of byte slices for encoding and reading packets.
// Larger requests still allocate.
var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, PooledSize)
		return &buf
	},
}

// getBuffer returns a buffer of at least size bytes.
func getBuffer(size int) *[]byte {
	if size > PooledSize {
		buf := make([]byte, size)
		return &buf
	}
	return bufferPool.Get().(*[]byte)
}

// putBuffer returns a buffer to the pool.
// Only pooled buffers (exactly PooledSize capacity) are kept.
func putBuffer(bufPtr *[]byte) {
	if cap(*bufPtr) != PooledSize {
		return
	}
	*bufPtr = (*bufPtr)[:PooledSize]
	bufferPool.Put(bufPtr)
}

// DefaultPool is the process-wide allocator used when none is injected.
var DefaultPool defaultPool

type defaultPool struct{}

// Get returns a slice of length n.
func (defaultPool) Get(n int) []byte {
	return (*getBuffer(n))[:n]
}

// Put releases b for reuse.
func (defaultPool) Put(b []byte) {
	putBuffer(&b)
}
