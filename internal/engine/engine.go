// Package engine implements the operation state machine: the cooperative,
// restartable descent/validate/act protocol that every public record
// operation (PUT/GET/DEL/ITER) drives through; the root package's
// Create/Open/Close/Destroy do not go through it. The phase names follow spec.md's state diagram directly so the
// code stays cross-referencable against it:
//
//	INIT -> COOKIE -> SETUP -> LOCKALL -> DOWN -> NEXTDOWN* ->
//	  { ALLOC* (PUT) | SIBLING* (ITER) | STORE_CHILD (DEL) | LOCK }
//	  -> CHECK -> { MAKESPACE (PUT) | ACT } -> FREENODE* (DEL) ->
//	  CLEANUP -> FINI -> DONE
//
// Each operation (put.go, get.go, del.go, iter.go) documents, in its own
// doc comment, the subset of phases it actually visits and in what order;
// there is no single generic dispatcher trying to cover all four, since
// ALLOC/STORE_CHILD/SIBLING/MAKESPACE/FREENODE apply to disjoint
// operations and forcing them through one switch obscures more than it
// shares. What is shared -- descent, optimistic validation, restart and
// escalation, and cleanup -- lives here.
//
// Concurrency is modeled the way the teacher's allocator tracks
// overlapping regions defensively (scigolib-hdf5/internal/writer/
// allocator.go): explicit bookkeeping structures (OpContext's level
// stack) rather than implicit call-stack recursion, so CHECK can
// re-validate every node touched by a single pass with a plain loop.
package engine

import (
	"fmt"

	"github.com/cortx-go/m0btree/internal/addr"
	"github.com/cortx-go/m0btree/internal/cache"
	"github.com/cortx-go/m0btree/internal/node"
	"github.com/cortx-go/m0btree/internal/registry"
	"github.com/cortx-go/m0btree/internal/segment"
	"github.com/cortx-go/m0btree/internal/txn"
	"github.com/cortx-go/m0btree/internal/xerr"
)

// Phase names the operation state machine's states, kept 1:1 with
// spec.md's diagram for cross-referencability.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseCookie
	PhaseSetup
	PhaseLockAll
	PhaseDown
	PhaseNextDown
	PhaseAlloc
	PhaseSibling
	PhaseStoreChild
	PhaseLock
	PhaseCheck
	PhaseMakeSpace
	PhaseAct
	PhaseFreeNode
	PhaseCleanup
	PhaseFini
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhaseCookie:
		return "COOKIE"
	case PhaseSetup:
		return "SETUP"
	case PhaseLockAll:
		return "LOCKALL"
	case PhaseDown:
		return "DOWN"
	case PhaseNextDown:
		return "NEXTDOWN"
	case PhaseAlloc:
		return "ALLOC"
	case PhaseSibling:
		return "SIBLING"
	case PhaseStoreChild:
		return "STORE_CHILD"
	case PhaseLock:
		return "LOCK"
	case PhaseCheck:
		return "CHECK"
	case PhaseMakeSpace:
		return "MAKESPACE"
	case PhaseAct:
		return "ACT"
	case PhaseFreeNode:
		return "FREENODE"
	case PhaseCleanup:
		return "CLEANUP"
	case PhaseFini:
		return "FINI"
	case PhaseDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// DefaultMaxTrials is MAX_TRIALS from spec.md §4.5.1/§5: the number of
// failed CHECK validations an operation tolerates before escalating to
// whole-tree locking.
const DefaultMaxTrials = 3

// Flags mirrors the public API's per-call flags (spec.md §6).
type Flags uint32

const (
	FlagCookie Flags = 1 << iota
	FlagLockAll
	FlagEqual
	FlagSlant
	FlagNext
	FlagPrev
)

// Status is the code returned through a Record's Status field, mirroring
// rec.flags in spec.md §6.
type Status int

const (
	StatusSuccess Status = iota
	StatusKeyExists
	StatusKeyNotFound
	StatusBTreeBoundary
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusKeyExists:
		return "KEY_EXISTS"
	case StatusKeyNotFound:
		return "KEY_NOT_FOUND"
	case StatusBTreeBoundary:
		return "KEY_BTREE_BOUNDARY"
	default:
		return "UNKNOWN"
	}
}

// Record is the slot ACT hands to the caller's callback; Key and Value
// alias the node frame and must not be retained past the callback's
// return.
type Record struct {
	Key    []byte
	Value  []byte
	Status Status
}

// Callback is invoked at most once per operation, at ACT. A non-nil
// return aborts the operation; on PUT/DEL this triggers full undo.
type Callback func(rec *Record) error

// levelEntry is one frame visited during descent: its cache descriptor,
// the Find result at that frame, and the sequence number snapshotted at
// NEXTDOWN for CHECK to re-validate.
type levelEntry struct {
	d     *cache.Descriptor
	idx   int
	found bool
	seq   uint64
}

// OpContext is the per-operation context allocated at INIT: the level
// stack, height snapshot, retry trial counter, and lock-escalation flag.
type OpContext struct {
	levels    []levelEntry
	height    int
	trial     int
	lockAll   bool
	lockHeld  bool
	lockWrite bool

	// spares holds frames allocated during ALLOC (PUT) that must be
	// freed on restart or undo, and extra is the root-split spare
	// holding the relocated old-root contents, if any.
	spares []*spareFrame
	extra  *spareFrame

	// freeList holds frames marked for release during DEL's underflow
	// loop, freed in sequence at FREENODE.
	freeList []addr.Addr

	// otherRootChild is STORE_CHILD's preload: when the root has exactly
	// two children, the child not already on the descent path, loaded
	// optimistically so a delete that empties the other one can demote
	// the root onto this child's contents without a second descent.
	otherRootChild    *cache.Descriptor
	otherRootChildSeq uint64

	trace []Phase
}

func newOpContext(lockAll bool) *OpContext {
	return &OpContext{lockAll: lockAll}
}

func (c *OpContext) mark(p Phase) { c.trace = append(c.trace, p) }

// Trace returns the sequence of phases this operation visited, for tests
// that assert on the state machine's actual path (e.g. retry escalation).
func (c *OpContext) Trace() []Phase { return append([]Phase(nil), c.trace...) }

type spareFrame struct {
	addr  addr.Addr
	node  *node.Fixed
	level uint8
}

// Logger is the minimal logging seam the engine accepts; a nil Logger
// (the default) disables logging entirely. Defined locally rather than
// imported so this package never depends on a concrete logging library
// (see SPEC_FULL.md's ambient-stack section).
type Logger interface {
	Printf(format string, args ...interface{})
}

// Tree is one open tree's engine-side state: its descriptor, the shared
// node cache and pager, the transaction sink, and the per-tree write
// lock.
type Tree struct {
	pager segment.Pager
	cache *cache.Cache
	reg   *registry.Registry
	desc  *registry.Descriptor
	sink  txn.Sink

	maxTrials int
	lock      *NamedLock
	logger    Logger
}

// SetLogger wires an optional logger; trial-escalation events are logged
// through it when non-nil.
func (t *Tree) SetLogger(l Logger) { t.logger = l }

// NewTree wires a Tree's engine-side collaborators together. desc must
// already be registered in reg (registry.Get having run its init
// callback to populate Root/Height/geometry).
func NewTree(pager segment.Pager, c *cache.Cache, reg *registry.Registry, desc *registry.Descriptor, sink txn.Sink, maxTrials int) *Tree {
	if maxTrials <= 0 {
		maxTrials = DefaultMaxTrials
	}
	if sink == nil {
		sink = txn.NullSink{}
	}
	return &Tree{
		pager:     pager,
		cache:     c,
		reg:       reg,
		desc:      desc,
		sink:      sink,
		maxTrials: maxTrials,
		lock:      newNamedLock("tree-write-lock"),
	}
}

// Descriptor exposes the tree's registry descriptor (root address,
// height, geometry) for the root package.
func (t *Tree) Descriptor() *registry.Descriptor { return t.desc }

func (t *Tree) loadNode(a addr.Addr) (*cache.Descriptor, error) {
	return t.cache.Acquire(a, &t.desc.Active, t.desc, func(a addr.Addr) (*node.Fixed, error) {
		buf, err := t.pager.ReadFrame(a)
		if err != nil {
			return nil, xerr.New(xerr.BadAddress, "engine.loadNode", err)
		}
		n, err := node.Load(buf)
		if err != nil {
			return nil, xerr.New(xerr.BadFormat, "engine.loadNode", err)
		}
		return n, nil
	})
}

func (t *Tree) releaseLevels(ctx *OpContext) {
	for _, e := range ctx.levels {
		t.cache.Release(e.d)
	}
	ctx.levels = nil
	t.releaseOtherRootChild(ctx)
}

// releaseOtherRootChild releases STORE_CHILD's preloaded sibling, if any.
func (t *Tree) releaseOtherRootChild(ctx *OpContext) {
	if ctx.otherRootChild != nil {
		t.cache.Release(ctx.otherRootChild)
		ctx.otherRootChild = nil
	}
}

// loadOtherRootChild is DEL's STORE_CHILD: when the root is internal with
// exactly two children, it preloads the child not on the descent path so
// that an underflow propagating all the way to the root can demote it
// onto that child's contents within the same locked pass.
func (t *Tree) loadOtherRootChild(ctx *OpContext) error {
	if len(ctx.levels) < 2 {
		return nil
	}
	root := ctx.levels[0]
	rn := root.d.Node
	if rn.Level() == 0 || rn.Count() != 2 {
		return nil
	}
	takenSlot := rn.ChildIndex(root.idx, root.found)
	otherSlot := 1 - takenSlot
	otherAddr, err := rn.Child(otherSlot)
	if err != nil {
		return err
	}
	d, err := t.loadNode(otherAddr)
	if err != nil {
		return err
	}
	ctx.otherRootChild = d
	ctx.otherRootChildSeq = d.Seq
	return nil
}

// reinitRootFrame reformats the root frame (keeping its segment address)
// at newLevel, recomputing its value size per the tree-wide invariant that
// vsize is a pure function of level (desc.VSize at level 0, the fixed
// ChildValueSize at every internal level): unlike Reset, this changes the
// frame's record geometry and capacity, which is required whenever a root
// split or demotion crosses the leaf/internal boundary.
func (t *Tree) reinitRootFrame(d *cache.Descriptor, newLevel uint8) (*node.Fixed, error) {
	vsize := t.desc.VSize
	if newLevel > 0 {
		vsize = node.ChildValueSize
	}
	n, err := node.Init(d.Node.Buf(), t.desc.NodeShift, t.desc.KSize, vsize, t.desc.NodeType, t.desc.TreeType, newLevel)
	if err != nil {
		return nil, xerr.New(xerr.NoMemory, "engine.reinitRootFrame", err)
	}
	d.Node = n
	return n, nil
}

// descend performs LOCKALL+DOWN+NEXTDOWN: a walk from the root to a leaf,
// binding a levelEntry (with its Find result and sequence snapshot) at
// every level. The walk is optimistic and lock-free unless ctx.lockAll is
// set, in which case the tree write lock is taken before descent.
func (t *Tree) descend(ctx *OpContext, key []byte) error {
	if ctx.lockAll && !ctx.lockHeld {
		ctx.mark(PhaseLockAll)
		t.lock.Lock()
		ctx.lockHeld = true
		ctx.lockWrite = true
	}
	ctx.mark(PhaseDown)
	ctx.height = t.desc.Height
	cur := t.desc.Root
	if cur == addr.Null {
		return xerr.New(xerr.KeyNotFound, "engine.descend", fmt.Errorf("tree is empty"))
	}
	for lvl := t.desc.Height - 1; lvl >= 0; lvl-- {
		ctx.mark(PhaseNextDown)
		d, err := t.loadNode(cur)
		if err != nil {
			return err
		}
		idx, found := d.Node.Find(key)
		ctx.levels = append(ctx.levels, levelEntry{d: d, idx: idx, found: found, seq: d.Seq})
		if d.Node.Level() == 0 {
			break
		}
		ci := d.Node.ChildIndex(idx, found)
		child, err := d.Node.Child(ci)
		if err != nil {
			return err
		}
		cur = child
	}
	return nil
}

// checkAndLock is CHECK: it takes the tree lock (skipping if LOCKALL
// already holds it) and validates the height snapshot plus every level's
// sequence counter. It returns false on a failed validation with the lock
// still held, leaving the caller's restart to release it.
func (t *Tree) checkAndLock(ctx *OpContext, write bool) bool {
	ctx.mark(PhaseLock)
	if !ctx.lockHeld {
		if ctx.lockAll || write {
			t.lock.Lock()
			ctx.lockWrite = true
		} else {
			t.lock.RLock()
			ctx.lockWrite = false
		}
		ctx.lockHeld = true
	}

	ctx.mark(PhaseCheck)
	if ctx.height != t.desc.Height {
		return false
	}
	for _, e := range ctx.levels {
		if e.d.Seq != e.seq {
			return false
		}
	}
	if ctx.otherRootChild != nil && ctx.otherRootChild.Seq != ctx.otherRootChildSeq {
		return false
	}
	return true
}

func (t *Tree) unlock(ctx *OpContext) {
	if !ctx.lockHeld {
		return
	}
	if ctx.lockWrite {
		t.lock.Unlock()
	} else {
		t.lock.RUnlock()
	}
	ctx.lockHeld = false
}

// restart releases the lock and every acquired descriptor from a failed
// attempt, bumps the trial counter, and escalates to whole-tree locking
// once the trial count reaches maxTrials (spec.md §4.5.1 CHECK, §5 ordering
// guarantees).
func (t *Tree) restart(ctx *OpContext) {
	t.unlock(ctx)
	t.releaseLevels(ctx)
	ctx.trial++
	if ctx.trial >= t.maxTrials && !ctx.lockAll {
		ctx.lockAll = true
		if t.logger != nil {
			t.logger.Printf("engine: escalating to LOCKALL after %d failed CHECK restarts", ctx.trial)
		}
	}
}

// cleanup is CLEANUP+FINI: release every node held across the level
// stack and STORE_CHILD's preloaded root child, then release the lock.
// Spare frames are not released here; Put frees unused spares itself
// through freeSpares.
func (t *Tree) cleanup(ctx *OpContext) {
	ctx.mark(PhaseCleanup)
	t.releaseLevels(ctx)
	t.unlock(ctx)
	ctx.mark(PhaseFini)
}

// captureNode is the engine's half of §4.6: it writes the node's current
// in-memory frame back through the pager (so a future cache eviction
// reloads the mutated content rather than stale bytes), bumps the
// descriptor's sequence counter so CHECK can detect the change, and
// forwards the dirty ranges to the transaction sink. WriteFrame must run
// before Capture: a RecordingSink's snapshot function reads the frame
// back out of the pager, so the pager has to already hold the mutated
// bytes for the captured range to reflect them (spec.md S6).
func (t *Tree) captureNode(d *cache.Descriptor, ranges []node.Range) error {
	if len(ranges) == 0 {
		return nil
	}
	d.Node.Finalize()
	if err := t.pager.WriteFrame(d.Addr, d.Node.Buf()); err != nil {
		return xerr.New(xerr.NoMemory, "engine.capture", err)
	}
	t.cache.Touch(d)
	if t.sink == nil {
		return nil
	}
	if err := t.sink.Capture(d.Addr, ranges); err != nil {
		return xerr.New(xerr.NoMemory, "engine.capture", err)
	}
	return nil
}

// persistSpare writes a freshly formatted (not yet cache-tracked) spare
// frame's content through the pager, for frames created during ALLOC that
// never go through the cache (the tree descriptor's active list only
// tracks frames loaded via Acquire; a spare is written directly and only
// picked up by the cache the next time something descends into it).
func (t *Tree) persistSpare(s *spareFrame) error {
	s.node.Finalize()
	if err := t.pager.WriteFrame(s.addr, s.node.Buf()); err != nil {
		return xerr.New(xerr.NoMemory, "engine.ALLOC", err)
	}
	if t.sink != nil {
		if err := t.sink.Capture(s.addr, []node.Range{s.node.FrameRange()}); err != nil {
			return xerr.New(xerr.NoMemory, "engine.ALLOC", err)
		}
	}
	return nil
}

// invokeCallback runs cb and, on success, passes dirty to captureNode. With
// no dirty ranges (GET and SLANT pass nil) nothing is written or captured
// and the sequence counter is left as it is.
func (t *Tree) invokeCallback(d *cache.Descriptor, rec *Record, dirty []node.Range, cb Callback) error {
	if err := cb(rec); err != nil {
		return xerr.New(xerr.CallbackError, "engine.ACT", err)
	}
	return t.captureNode(d, dirty)
}

// allocSpare reserves a fresh frame at the tree's node shift and formats
// it as an empty node at level via node.Init. The buffer is built locally
// rather than round-tripped through pager.ReadFrame: a freshly allocated
// region of a growable segment (internal/segment.Pool backed by a
// MemSegment) may not have been written yet, and reading unwritten bytes
// back out is not a contract any Pager implementation is required to
// support.
func (t *Tree) allocSpare(level uint8) (*spareFrame, error) {
	a, err := t.pager.Alloc(t.desc.NodeShift)
	if err != nil {
		return nil, xerr.New(xerr.NoMemory, "engine.ALLOC", err)
	}
	vsize := t.desc.VSize
	if level > 0 {
		vsize = node.ChildValueSize
	}
	buf := make([]byte, a.Size())
	n, err := node.Init(buf, t.desc.NodeShift, t.desc.KSize, vsize, t.desc.NodeType, t.desc.TreeType, level)
	if err != nil {
		return nil, xerr.New(xerr.NoMemory, "engine.ALLOC", err)
	}
	return &spareFrame{addr: a, node: n, level: level}, nil
}

// freeSpares returns every unused spare (and extra) frame allocated during
// a restarted attempt's ALLOC phase back to the pager, and clears them
// from ctx so a fresh ALLOC starts clean on the next pass.
func (t *Tree) freeSpares(ctx *OpContext) {
	for _, s := range ctx.spares {
		if s != nil {
			_ = t.pager.Free(s.addr)
		}
	}
	ctx.spares = nil
	if ctx.extra != nil {
		_ = t.pager.Free(ctx.extra.addr)
		ctx.extra = nil
	}
}
