package addr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildRoundTrip(t *testing.T) {
	a, err := Build(512*17, 12)
	require.NoError(t, err)
	require.True(t, a.IsValid())
	require.Equal(t, uint64(512*17), a.Ptr())
	require.Equal(t, uint8(12), a.Shift())
	require.Equal(t, uint64(1<<12), a.Size())
}

func TestBuildRejectsUnalignedPointer(t *testing.T) {
	_, err := Build(513, 9)
	require.Error(t, err)
}

func TestBuildRejectsShiftOutOfRange(t *testing.T) {
	_, err := Build(0, 8)
	require.Error(t, err)
	_, err = Build(0, 25)
	require.Error(t, err)
}

func TestBuildAcceptsShiftBoundaries(t *testing.T) {
	a, err := Build(0, 9)
	require.NoError(t, err)
	require.Equal(t, uint64(512), a.Size())

	a, err = Build(0, 24)
	require.NoError(t, err)
	require.Equal(t, uint64(1<<24), a.Size())
}

func TestIsValidRejectsReservedBits(t *testing.T) {
	a, err := Build(1024, 10)
	require.NoError(t, err)

	withHighBitSet := a | (1 << 60)
	require.False(t, Addr(withHighBitSet).IsValid())

	withMidBitSet := a | (1 << 6)
	require.False(t, Addr(withMidBitSet).IsValid())
}

func TestNullIsZeroAddr(t *testing.T) {
	require.Equal(t, Addr(0), Null)
}

func TestStringFormatting(t *testing.T) {
	require.Equal(t, "addr(null)", Null.String())

	a, err := Build(1024, 10)
	require.NoError(t, err)
	require.Contains(t, a.String(), "0x400")
	require.Contains(t, a.String(), "@10")
}

// Property 8: every live segment address returns to its frame under shift
// bytes after build -> addr -> shift.
func TestAddressInvariantProperty(t *testing.T) {
	for shift := uint8(9); shift <= 24; shift++ {
		ptr := uint64(shift) * 512
		a, err := Build(ptr, shift)
		require.NoError(t, err)
		require.Equal(t, ptr, a.Ptr())
		require.Equal(t, shift, a.Shift())
	}
}
