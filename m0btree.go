// Package m0btree is the public entry point for the B+-tree engine: a
// persistent, segment-backed key/value container with node format,
// traversal, split/merge, restartable cooperative concurrency, and
// transactional capture. It wires internal/addr, internal/node,
// internal/cache, internal/registry, internal/segment, internal/txn, and
// internal/engine together behind the operation surface spec.md §6
// describes (Create/Open/Close/Destroy/Put/Get/Iter/Del/LRUListPurge).
package m0btree

import (
	"fmt"
	"time"

	"github.com/cortx-go/m0btree/internal/addr"
	"github.com/cortx-go/m0btree/internal/cache"
	"github.com/cortx-go/m0btree/internal/engine"
	"github.com/cortx-go/m0btree/internal/node"
	"github.com/cortx-go/m0btree/internal/registry"
	"github.com/cortx-go/m0btree/internal/segment"
	"github.com/cortx-go/m0btree/internal/txn"
	"github.com/cortx-go/m0btree/internal/utils"
	"github.com/cortx-go/m0btree/internal/xerr"
)

// Flags, Status, Record and Callback mirror spec.md §6's language-neutral
// operation surface directly onto the engine's types; the root package
// adds nothing of its own here, it only exposes them under one import
// path.
type (
	Flags    = engine.Flags
	Status   = engine.Status
	Record   = engine.Record
	Callback = engine.Callback
)

const (
	FlagCookie  = engine.FlagCookie
	FlagLockAll = engine.FlagLockAll
	FlagEqual   = engine.FlagEqual
	FlagSlant   = engine.FlagSlant
	FlagNext    = engine.FlagNext
	FlagPrev    = engine.FlagPrev
)

const (
	StatusSuccess       = engine.StatusSuccess
	StatusKeyExists     = engine.StatusKeyExists
	StatusKeyNotFound   = engine.StatusKeyNotFound
	StatusBTreeBoundary = engine.StatusBTreeBoundary
)

// closeGracePeriod is spec.md §7's "close found active nodes after a
// grace period (e.g., 5s)" debug aid: Close polls the registry until the
// tree's active list drains, surfacing xerr.CloseTimeout if it never does
// rather than blocking forever or asserting.
const closeGracePeriod = 5 * time.Second

// processCache and processRegistry are the process-wide node descriptor
// cache and tree descriptor pool spec.md §3 describes: every Tree opened
// in this process shares one LRU and one registry, exactly as a single
// m0 instance would.
var (
	processCache    = cache.New()
	processRegistry = registry.New(registry.DefaultMaxTrees)

	// processPager is the in-memory segment Create uses when WithPager is
	// omitted. It is shared because processCache keys descriptors by
	// segment address alone, so trees in separate default segments would
	// collide on equal addresses.
	processPager = segment.NewPool(segment.NewMemSegment(), 0)
)

// LRUListPurge evicts up to count of the process-wide cache's
// least-recently-used, zero-transaction-refcount node descriptors,
// returning how many were actually evicted.
func LRUListPurge(count int) int {
	return processCache.Purge(count)
}

// Tree is one open B+-tree handle.
type Tree struct {
	pager          segment.Pager
	reg            *registry.Registry
	desc           *registry.Descriptor
	eng            *engine.Tree
	lockAllDefault bool
}

// Root returns the tree's root segment address, the handle Open needs to
// reattach to the same tree from another process-local Tree value.
func (t *Tree) Root() addr.Addr { return t.desc.Root }

// Create formats a brand-new empty tree (a single empty leaf at height 1)
// and returns a handle to it. WithNodeSize/WithKeySize/WithValueSize
// configure its fixed geometry; WithPager supplies the segment to format
// it in (a process-wide in-memory segment is used if omitted, convenient
// for tests and for S1-style scenarios that don't need real persistence).
func Create(opts ...Option) (*Tree, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	pager := cfg.pager
	if pager == nil {
		pager = processPager
	}

	shift, err := shiftForNodeSize(cfg.nodeSize)
	if err != nil {
		return nil, xerr.New(xerr.BadFormat, "m0btree.Create", err)
	}

	rootAddr, err := pager.Alloc(shift)
	if err != nil {
		return nil, xerr.New(xerr.NoMemory, "m0btree.Create", err)
	}
	buf := utils.GetBuffer(int(rootAddr.Size()))
	defer utils.ReleaseBuffer(buf)
	if _, err := node.Init(buf, shift, cfg.ksize, cfg.vsize, cfg.nodeType, cfg.treeType, 0); err != nil {
		return nil, xerr.New(xerr.BadFormat, "m0btree.Create", err)
	}
	if err := pager.WriteFrame(rootAddr, buf); err != nil {
		return nil, xerr.New(xerr.NoMemory, "m0btree.Create", err)
	}

	desc, err := processRegistry.Get(addr.Null, func(d *registry.Descriptor) error {
		d.Root = rootAddr
		d.TreeType = cfg.treeType
		d.NodeType = cfg.nodeType
		d.NodeShift = shift
		d.KSize = cfg.ksize
		d.VSize = cfg.vsize
		d.Height = 1
		return nil
	})
	if err != nil {
		return nil, xerr.New(xerr.PoolExhausted, "m0btree.Create", err)
	}

	return newTree(pager, desc, cfg), nil
}

// Open reattaches to an existing tree at rootAddr, recovering its
// geometry from the on-segment node frames themselves (spec.md §6:
// `open(root_address, node_size) -> tree` takes no separate key/value
// size arguments). Key size and node-type/tree-type ids are read directly
// off the root frame's header; value size is read off the root frame only
// when the root is itself a leaf; when the root is internal (vsize there
// is always the fixed child-address size), the leftmost child chain is
// followed down to an actual leaf frame to recover the tree's true
// per-record value size. WithPager is required: Open has no segment to
// read from otherwise.
func Open(rootAddr addr.Addr, opts ...Option) (*Tree, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.pager == nil {
		return nil, xerr.New(xerr.BadAddress, "m0btree.Open", fmt.Errorf("WithPager is required to open an existing tree"))
	}
	pager := cfg.pager

	desc, err := processRegistry.Get(rootAddr, func(d *registry.Descriptor) error {
		buf, err := pager.ReadFrame(rootAddr)
		if err != nil {
			return xerr.New(xerr.BadAddress, "m0btree.Open", err)
		}
		root, err := node.Load(buf)
		if err != nil {
			return xerr.New(xerr.BadFormat, "m0btree.Open", err)
		}
		vsize, err := leafValueSize(pager, root)
		if err != nil {
			return err
		}
		d.NodeShift = rootAddr.Shift()
		d.KSize = root.KSize()
		d.VSize = vsize
		d.NodeType = root.NodeType()
		d.TreeType = root.TreeType()
		d.Height = int(root.Level()) + 1
		return nil
	})
	if err != nil {
		return nil, err
	}

	return newTree(pager, desc, cfg), nil
}

// leafValueSize recovers the tree's true per-record value size, following
// the sentinel leftmost-child chain down to a leaf when root is internal
// (an internal node's own vsize is always node.ChildValueSize, not the
// tree's configured value size).
func leafValueSize(pager segment.Pager, root *node.Fixed) (uint16, error) {
	cur := root
	for cur.Level() > 0 {
		child, err := cur.Child(0)
		if err != nil {
			return 0, xerr.New(xerr.BadAddress, "m0btree.Open", err)
		}
		buf, err := pager.ReadFrame(child)
		if err != nil {
			return 0, xerr.New(xerr.BadAddress, "m0btree.Open", err)
		}
		n, err := node.Load(buf)
		if err != nil {
			return 0, xerr.New(xerr.BadFormat, "m0btree.Open", err)
		}
		cur = n
	}
	return cur.VSize(), nil
}

func newTree(pager segment.Pager, desc *registry.Descriptor, cfg config) *Tree {
	sink := cfg.sink
	if sink == nil {
		sink = txn.NullSink{}
	}
	eng := engine.NewTree(pager, processCache, processRegistry, desc, sink, cfg.maxTrials)
	if cfg.logger != nil {
		eng.SetLogger(cfg.logger)
		processCache.SetLogger(cfg.logger)
	}
	return &Tree{pager: pager, reg: processRegistry, desc: desc, eng: eng, lockAllDefault: cfg.lockAllDefault}
}

func shiftForNodeSize(size int) (uint8, error) {
	if size <= 0 {
		return 0, fmt.Errorf("node size must be positive, got %d", size)
	}
	for shift := uint8(9); shift <= 24; shift++ {
		if 1<<shift == size {
			return shift, nil
		}
	}
	return 0, fmt.Errorf("node size %d is not a power of two in [512, 16777216]", size)
}

func (t *Tree) withDefaultFlags(flags Flags) Flags {
	if t.lockAllDefault {
		flags |= FlagLockAll
	}
	return flags
}

// Put inserts a new record for key, invoking cb to fill its value once
// the slot has been opened. Returns StatusKeyExists without mutation if
// key is already present.
func (t *Tree) Put(key []byte, cb Callback, flags Flags) (Status, error) {
	return t.eng.Put(key, cb, t.withDefaultFlags(flags))
}

// Get looks up key, invoking cb with the matching record. With FlagSlant
// set, a miss returns the next greater key instead of StatusKeyNotFound.
func (t *Tree) Get(key []byte, cb Callback, flags Flags) (Status, error) {
	return t.eng.Get(key, cb, t.withDefaultFlags(flags))
}

// Iter positions at key and returns the next (FlagNext) or previous
// (FlagPrev) stored record, invoking cb with it; StatusBTreeBoundary is
// reported when the walk runs off the corresponding end of the tree.
func (t *Tree) Iter(key []byte, cb Callback, flags Flags) (Status, error) {
	return t.eng.Iter(key, cb, t.withDefaultFlags(flags))
}

// Del removes the record for key, invoking cb with its former contents.
// Returns StatusKeyNotFound without mutation if key is absent.
func (t *Tree) Del(key []byte, cb Callback, flags Flags) (Status, error) {
	return t.eng.Del(key, cb, t.withDefaultFlags(flags))
}

// Close releases this handle's reference to the tree, waiting up to
// closeGracePeriod for any other handles' active node descriptors to
// drain before giving up with xerr.CloseTimeout (spec.md §7: "a close
// found active nodes after a grace period -> timeout error; operation
// aborted, tree stays open").
func (t *Tree) Close() error {
	deadline := time.Now().Add(closeGracePeriod)
	for {
		err := t.reg.Put(t.desc)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return xerr.New(xerr.CloseTimeout, "m0btree.Close", err)
		}
		time.Sleep(time.Millisecond)
	}
}

// Destroy frees the tree's root frame and releases its registry slot.
// Precondition: the root must be empty (spec.md §6).
func (t *Tree) Destroy() error {
	buf, err := t.pager.ReadFrame(t.desc.Root)
	if err != nil {
		return xerr.New(xerr.BadAddress, "m0btree.Destroy", err)
	}
	root, err := node.Load(buf)
	if err != nil {
		return xerr.New(xerr.BadFormat, "m0btree.Destroy", err)
	}
	if root.Count() != 0 {
		return xerr.New(xerr.BadFormat, "m0btree.Destroy", fmt.Errorf("cannot destroy a non-empty tree (root has %d records)", root.Count()))
	}
	rootAddr := t.desc.Root
	if err := t.Close(); err != nil {
		return err
	}
	return t.pager.Free(rootAddr)
}
