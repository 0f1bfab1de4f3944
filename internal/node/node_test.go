package node

import (
	"testing"

	"github.com/cortx-go/m0btree/internal/addr"
	"github.com/stretchr/testify/require"
)

func newLeaf(t *testing.T, frameSize int) *Fixed {
	t.Helper()
	buf := make([]byte, frameSize)
	f, err := Init(buf, 9, 8, 8, 1, 1, 0)
	require.NoError(t, err)
	return f
}

func newInternal(t *testing.T, frameSize int, level uint8) *Fixed {
	t.Helper()
	buf := make([]byte, frameSize)
	f, err := Init(buf, 9, 8, 8, 1, 1, level)
	require.NoError(t, err)
	return f
}

func putLeafRecord(t *testing.T, f *Fixed, idx int, key, val uint64) {
	t.Helper()
	_, err := f.Make(idx)
	require.NoError(t, err)
	k, v := f.Rec(idx)
	order.PutUint64(k, key)
	order.PutUint64(v, val)
	f.Finalize()
}

func TestInitAndLoadRoundTrip(t *testing.T) {
	f := newLeaf(t, 512)
	require.Equal(t, 0, f.Count())
	require.Equal(t, uint8(9), f.Shift())
	require.Equal(t, uint8(0), f.Level())

	reloaded, err := Load(f.buf)
	require.NoError(t, err)
	require.Equal(t, f.Count(), reloaded.Count())
	require.Equal(t, f.Capacity(), reloaded.Capacity())
}

func TestLoadRejectsCorruptChecksum(t *testing.T) {
	f := newLeaf(t, 512)
	f.buf[headerSize] ^= 0xFF
	_, err := Load(f.buf)
	require.Error(t, err)
}

func TestLoadRejectsBadSignature(t *testing.T) {
	f := newLeaf(t, 512)
	f.buf[0] = 'X'
	_, err := Load(f.buf)
	require.Error(t, err)
}

func TestMakeAndDelKeepOrder(t *testing.T) {
	f := newLeaf(t, 512)
	putLeafRecord(t, f, 0, 10, 100)
	putLeafRecord(t, f, 1, 20, 200)
	putLeafRecord(t, f, 0, 5, 50) // insert before

	require.Equal(t, 3, f.Count())
	k0, v0 := f.Rec(0)
	require.Equal(t, uint64(5), order.Uint64(k0))
	require.Equal(t, uint64(50), order.Uint64(v0))
	k2, v2 := f.Rec(2)
	require.Equal(t, uint64(20), order.Uint64(k2))
	require.Equal(t, uint64(200), order.Uint64(v2))

	_, err := f.Del(1)
	require.NoError(t, err)
	require.Equal(t, 2, f.Count())
	k1, _ := f.Rec(1)
	require.Equal(t, uint64(20), order.Uint64(k1))
}

func TestFindBinarySearch(t *testing.T) {
	f := newLeaf(t, 512)
	for i, k := range []uint64{10, 20, 30, 40} {
		putLeafRecord(t, f, i, k, k*10)
	}

	idx, found := f.Find(keyOf(20))
	require.True(t, found)
	require.Equal(t, 1, idx)

	idx, found = f.Find(keyOf(25))
	require.False(t, found)
	require.Equal(t, 2, idx)

	idx, found = f.Find(keyOf(1))
	require.False(t, found)
	require.Equal(t, 0, idx)

	idx, found = f.Find(keyOf(100))
	require.False(t, found)
	require.Equal(t, 4, idx)
}

func keyOf(v uint64) []byte {
	b := make([]byte, 8)
	order.PutUint64(b, v)
	return b
}

func TestInternalChildIndexAndSentinel(t *testing.T) {
	f := newInternal(t, 512, 1)

	c0, err := addr.Build(512, 9)
	require.NoError(t, err)
	c1, err := addr.Build(1024, 9)
	require.NoError(t, err)
	c2, err := addr.Build(1536, 9)
	require.NoError(t, err)

	_, err = f.Make(0) // sentinel
	require.NoError(t, err)
	f.SetChild(0, c0)

	_, err = f.Make(1)
	require.NoError(t, err)
	copy(f.Key(1), keyOf(10))
	f.SetChild(1, c1)

	_, err = f.Make(2)
	require.NoError(t, err)
	copy(f.Key(2), keyOf(20))
	f.SetChild(2, c2)
	f.Finalize()

	require.Equal(t, 3, f.Count())
	require.Equal(t, 2, f.CountKeys())

	idx, found := f.Find(keyOf(10))
	require.True(t, found)
	require.Equal(t, 1, idx)
	require.Equal(t, 1, f.ChildIndex(idx, found))
	ch, err := f.Child(f.ChildIndex(idx, found))
	require.NoError(t, err)
	require.Equal(t, c1, ch)

	idx, found = f.Find(keyOf(15))
	require.False(t, found)
	require.Equal(t, 2, idx)
	require.Equal(t, 1, f.ChildIndex(idx, found))
	ch, err = f.Child(f.ChildIndex(idx, found))
	require.NoError(t, err)
	require.Equal(t, c1, ch)

	idx, found = f.Find(keyOf(5))
	require.False(t, found)
	require.Equal(t, 1, idx)
	require.Equal(t, 0, f.ChildIndex(idx, found))
	ch, err = f.Child(f.ChildIndex(idx, found))
	require.NoError(t, err)
	require.Equal(t, c0, ch)

	idx, found = f.Find(keyOf(100))
	require.False(t, found)
	require.Equal(t, 3, idx)
	require.Equal(t, 2, f.ChildIndex(idx, found))
	ch, err = f.Child(f.ChildIndex(idx, found))
	require.NoError(t, err)
	require.Equal(t, c2, ch)
}

func TestMoveEvenBalancesFreeSpace(t *testing.T) {
	left := newLeaf(t, 512)
	right := newLeaf(t, 512)
	for i, k := range []uint64{1, 2, 3, 4, 5, 6} {
		putLeafRecord(t, left, i, k, k)
	}

	moved, srcDirty, tgtDirty, err := left.Move(right, MoveRight, 0, MoveEven)
	require.NoError(t, err)
	require.NotZero(t, moved)
	require.NotEmpty(t, srcDirty)
	require.NotEmpty(t, tgtDirty)
	require.LessOrEqual(t, left.Count()-right.Count(), 1)
	require.GreaterOrEqual(t, left.Count()-right.Count(), -1)

	// Order property: right node's keys are still ascending and greater
	// than left node's keys.
	for i := 1; i < right.Count(); i++ {
		k0, _ := right.Rec(i - 1)
		k1, _ := right.Rec(i)
		require.Less(t, order.Uint64(k0), order.Uint64(k1))
	}
	if left.Count() > 0 && right.Count() > 0 {
		lastLeft, _ := left.Rec(left.Count() - 1)
		firstRight, _ := right.Rec(0)
		require.Less(t, order.Uint64(lastLeft), order.Uint64(firstRight))
	}
}

func TestMoveMaxDrainsSource(t *testing.T) {
	src := newLeaf(t, 512)
	dst := newLeaf(t, 2048)
	for i, k := range []uint64{1, 2, 3} {
		putLeafRecord(t, src, i, k, k)
	}

	moved, _, _, err := src.Move(dst, MoveRight, 0, MoveMax)
	require.NoError(t, err)
	require.Equal(t, 3, moved)
	require.Equal(t, 0, src.Count())
	require.Equal(t, 3, dst.Count())
}

func TestIsFitReflectsCapacity(t *testing.T) {
	f := newLeaf(t, headerSize+footerSize+16) // room for exactly one 16-byte slot
	require.True(t, f.IsFit())
	putLeafRecord(t, f, 0, 1, 1)
	require.False(t, f.IsFit())
}

func TestSetLevelForRootPromotion(t *testing.T) {
	f := newLeaf(t, 512)
	require.Equal(t, uint8(0), f.Level())
	f.SetLevel(1)
	require.Equal(t, uint8(1), f.Level())
}
