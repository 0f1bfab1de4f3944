// Package utils provides low-level helpers shared across the module:
// scratch buffers for short-lived frame formatting, size-bound validation
// for node geometry, overflow-checked arithmetic, and wrapped errors.
package utils

import "sync"

// bufferPool hands out scratch buffers sized for a single node frame; most
// frames are 512B-16MB but small descend/compare paths dominate, so the
// default capacity favors the common case.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, 0, 4096)
	},
}

// GetBuffer returns a byte slice of length size from the pool, reusing
// capacity where possible to avoid per-call allocation on the descent path.
func GetBuffer(size int) []byte {
	buf := bufferPool.Get().([]byte)
	if cap(buf) < size {
		return make([]byte, size, size*2) // Increase capacity.
	}
	return buf[:size]
}

// ReleaseBuffer returns a buffer to the pool.
func ReleaseBuffer(buf []byte) {
	//nolint:staticcheck // SA6002: slice descriptor copy is acceptable for sync.Pool
	bufferPool.Put(buf[:0])
}
