// Package registry implements the tree descriptor registry: a fixed pool
// of tree handles keyed by root address, with a bitmap tracking free
// slots. The slot-occupancy bookkeeping is grounded on
// scigolib-hdf5/internal/writer/allocator.go's AllocatedBlock tracking
// style, adapted from "track byte ranges" to "track pool slot occupancy".
package registry

import (
	"fmt"
	"sync"

	"github.com/cortx-go/m0btree/internal/addr"
	"github.com/cortx-go/m0btree/internal/cache"
)

// DefaultMaxTrees is the deployment constant bounding the tree descriptor
// pool; spec.md names "e.g., 20 trees" as a representative size.
const DefaultMaxTrees = 20

// Descriptor is the in-memory handle for a live tree.
type Descriptor struct {
	TreeType  uint32
	NodeType  uint32
	NodeShift uint8
	KSize     uint16
	VSize     uint16

	Root     addr.Addr
	Height   int
	Refcount int
	Active   cache.List
	StartedAt int64 // unix nanos; used for close-timeout bookkeeping

	slot int
}

// Registry is the fixed-size pool of tree descriptors plus its bitmap of
// free slots.
type Registry struct {
	mu      sync.Mutex
	slots   []*Descriptor
	byRoot  map[addr.Addr]*Descriptor
	free    []uint64 // bitset, one bit per slot
	maxSize int
}

// New creates a registry with room for maxSize trees.
func New(maxSize int) *Registry {
	if maxSize <= 0 {
		maxSize = DefaultMaxTrees
	}
	words := (maxSize + 63) / 64
	free := make([]uint64, words)
	for i := range free {
		free[i] = ^uint64(0)
	}
	// Clear bits beyond maxSize in the last word so they are never
	// mistaken for free slots.
	if rem := maxSize % 64; rem != 0 {
		free[words-1] = (uint64(1) << rem) - 1
	}
	return &Registry{
		slots:   make([]*Descriptor, maxSize),
		byRoot:  make(map[addr.Addr]*Descriptor),
		free:    free,
		maxSize: maxSize,
	}
}

func (r *Registry) claimSlot() (int, bool) {
	for w, word := range r.free {
		if word == 0 {
			continue
		}
		bit := trailingZeros64(word)
		idx := w*64 + bit
		if idx >= r.maxSize {
			continue
		}
		r.free[w] &^= 1 << bit
		return idx, true
	}
	return 0, false
}

func (r *Registry) releaseSlot(idx int) {
	r.free[idx/64] |= 1 << (idx % 64)
}

func trailingZeros64(x uint64) int {
	n := 0
	for x&1 == 0 {
		x >>= 1
		n++
	}
	return n
}

// Get returns the descriptor for root, bumping its refcount, if the
// registry already has one open; otherwise it claims a free slot and
// calls init to populate the new descriptor (loading the root, etc.).
// root == addr.Null means "create a new tree", which always claims a
// fresh slot.
func (r *Registry) Get(root addr.Addr, init func(d *Descriptor) error) (*Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if root != addr.Null {
		if d, ok := r.byRoot[root]; ok {
			d.Refcount++
			return d, nil
		}
	}

	idx, ok := r.claimSlot()
	if !ok {
		return nil, fmt.Errorf("registry: pool exhausted (max %d trees)", r.maxSize)
	}

	d := &Descriptor{Root: root, Refcount: 1, slot: idx}
	if err := init(d); err != nil {
		r.releaseSlot(idx)
		return nil, err
	}
	r.slots[idx] = d
	if d.Root != addr.Null {
		r.byRoot[d.Root] = d
	}
	return d, nil
}

// Put decrements d's refcount; at zero, the active list must be empty and
// the slot is returned to the free bitmap.
func (r *Registry) Put(d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d.Refcount--
	if d.Refcount > 0 {
		return nil
	}
	if !d.Active.Empty() {
		d.Refcount = 1 // undo: caller must retry once active nodes drain
		return fmt.Errorf("registry: cannot release tree %s with active nodes", d.Root)
	}
	delete(r.byRoot, d.Root)
	r.slots[d.slot] = nil
	r.releaseSlot(d.slot)
	return nil
}

// Len reports how many slots are currently occupied.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.slots {
		if s != nil {
			n++
		}
	}
	return n
}
