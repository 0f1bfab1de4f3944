package segment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocWriteReadRoundTrip(t *testing.T) {
	mem := NewMemSegment()
	pool := NewPool(mem, 0)

	a, err := pool.Alloc(9)
	require.NoError(t, err)
	require.Equal(t, uint64(512), a.Size())

	buf := make([]byte, a.Size())
	for i := range buf {
		buf[i] = byte(i)
	}
	require.NoError(t, pool.WriteFrame(a, buf))

	got, err := pool.ReadFrame(a)
	require.NoError(t, err)
	require.Equal(t, buf, got)
}

func TestAllocNeverOverlaps(t *testing.T) {
	mem := NewMemSegment()
	pool := NewPool(mem, 0)

	for i := 0; i < 8; i++ {
		_, err := pool.Alloc(9)
		require.NoError(t, err)
	}
	require.NoError(t, pool.ValidateNoOverlaps())
}

func TestFreeThenAllocReusesFrame(t *testing.T) {
	mem := NewMemSegment()
	pool := NewPool(mem, 0)

	a, err := pool.Alloc(9)
	require.NoError(t, err)
	eofBefore := pool.EndOfSegment()

	require.NoError(t, pool.Free(a))
	b, err := pool.Alloc(9)
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.Equal(t, eofBefore, pool.EndOfSegment())
}

func TestFreeNullIsRejected(t *testing.T) {
	mem := NewMemSegment()
	pool := NewPool(mem, 0)
	require.Error(t, pool.Free(0))
}

func TestDifferentSizeClassesDoNotShareFreeList(t *testing.T) {
	mem := NewMemSegment()
	pool := NewPool(mem, 0)

	small, err := pool.Alloc(9)
	require.NoError(t, err)
	require.NoError(t, pool.Free(small))

	big, err := pool.Alloc(10)
	require.NoError(t, err)
	require.NotEqual(t, small.Ptr(), big.Ptr())
}

func TestWriteFrameRejectsWrongSize(t *testing.T) {
	mem := NewMemSegment()
	pool := NewPool(mem, 0)
	a, err := pool.Alloc(9)
	require.NoError(t, err)
	require.Error(t, pool.WriteFrame(a, make([]byte, 10)))
}

func TestAllocAlignsToSegmentStart(t *testing.T) {
	mem := NewMemSegment()
	pool := NewPool(mem, 100) // not 512-aligned
	a, err := pool.Alloc(9)
	require.NoError(t, err)
	require.Equal(t, uint64(0), a.Ptr()%512)
}
