// Package testing provides test-only collaborators for the B+-tree
// engine: a mock ReaderAt and a fault-injecting Pager, adapted
// from scigolib-hdf5/internal/testing/mock_reader.go's MockReaderAt.
package testing

import (
	"fmt"
	"sync"

	"github.com/cortx-go/m0btree/internal/addr"
	"github.com/cortx-go/m0btree/internal/segment"
)

// MockReaderAt is a fixed-contents io.ReaderAt, grounded on the teacher's
// MockReaderAt, for tests that only need to read canned bytes. Errors
// follow internal/segment.MemSegment's own style (package-prefixed,
// carrying the offending offset/length) rather than the teacher's bare
// strings, so a failure here reads the same way a real segment's would.
type MockReaderAt struct {
	data []byte
}

// NewMockReaderAt creates a new mock reader with the given data.
func NewMockReaderAt(data []byte) *MockReaderAt {
	return &MockReaderAt{data: data}
}

// ReadAt implements io.ReaderAt.
func (m *MockReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("mockreaderat: negative offset %d", off)
	}
	if off >= int64(len(m.data)) {
		return 0, fmt.Errorf("mockreaderat: offset %d beyond length %d", off, len(m.data))
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, fmt.Errorf("mockreaderat: short read at %d: got %d want %d", off, n, len(p))
	}
	return n, nil
}

// FaultyPager wraps a real segment.Pager and can be told to fail the next
// N calls of a given kind, for exercising the engine's NoMemory/BadAddress
// error paths without a real allocator failure.
type FaultyPager struct {
	mu  sync.Mutex
	p   segment.Pager
	allocFailures int
	readFailures  int
}

// NewFaultyPager wraps p.
func NewFaultyPager(p segment.Pager) *FaultyPager {
	return &FaultyPager{p: p}
}

// FailNextAllocs arranges for the next n Alloc calls to fail.
func (f *FaultyPager) FailNextAllocs(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allocFailures = n
}

// FailNextReads arranges for the next n ReadFrame calls to fail.
func (f *FaultyPager) FailNextReads(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readFailures = n
}

func (f *FaultyPager) Alloc(shift uint8) (addr.Addr, error) {
	f.mu.Lock()
	if f.allocFailures > 0 {
		f.allocFailures--
		f.mu.Unlock()
		return addr.Null, fmt.Errorf("faultypager: injected allocation failure")
	}
	f.mu.Unlock()
	return f.p.Alloc(shift)
}

func (f *FaultyPager) Free(a addr.Addr) error { return f.p.Free(a) }

func (f *FaultyPager) ReadFrame(a addr.Addr) ([]byte, error) {
	f.mu.Lock()
	if f.readFailures > 0 {
		f.readFailures--
		f.mu.Unlock()
		return nil, fmt.Errorf("faultypager: injected read failure")
	}
	f.mu.Unlock()
	return f.p.ReadFrame(a)
}

func (f *FaultyPager) WriteFrame(a addr.Addr, buf []byte) error { return f.p.WriteFrame(a, buf) }
