package registry

import (
	"testing"

	"github.com/cortx-go/m0btree/internal/addr"
	"github.com/cortx-go/m0btree/internal/cache"
	"github.com/stretchr/testify/require"
)

func TestGetCreatesNewTreeWhenRootIsNull(t *testing.T) {
	r := New(4)
	d, err := r.Get(addr.Null, func(d *Descriptor) error {
		d.Height = 1
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, d.Refcount)
	require.Equal(t, 1, r.Len())
}

func TestGetReopensExistingRootBumpsRefcount(t *testing.T) {
	r := New(4)
	root, err := addr.Build(512, 9)
	require.NoError(t, err)

	d1, err := r.Get(root, func(d *Descriptor) error { d.Root = root; return nil })
	require.NoError(t, err)

	d2, err := r.Get(root, func(d *Descriptor) error {
		t.Fatal("init should not run on a cache hit")
		return nil
	})
	require.NoError(t, err)
	require.Same(t, d1, d2)
	require.Equal(t, 2, d1.Refcount)
}

func TestPoolExhaustionIsAHardError(t *testing.T) {
	r := New(2)
	for i := 0; i < 2; i++ {
		_, err := r.Get(addr.Null, func(d *Descriptor) error { return nil })
		require.NoError(t, err)
	}
	_, err := r.Get(addr.Null, func(d *Descriptor) error { return nil })
	require.Error(t, err)
}

func TestPutReleasesSlotAtZeroRefcount(t *testing.T) {
	r := New(2)
	d, err := r.Get(addr.Null, func(d *Descriptor) error { return nil })
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())

	require.NoError(t, r.Put(d))
	require.Equal(t, 0, r.Len())

	_, err = r.Get(addr.Null, func(d *Descriptor) error { return nil })
	require.NoError(t, err)
}

func TestPutRefusesWhileActiveListNonEmpty(t *testing.T) {
	r := New(2)
	d, err := r.Get(addr.Null, func(d *Descriptor) error { return nil })
	require.NoError(t, err)

	d.Active.PushFront(&cache.Descriptor{})
	require.Error(t, r.Put(d))
	require.Equal(t, 1, r.Len())
}

