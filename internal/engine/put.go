package engine

import (
	"github.com/cortx-go/m0btree/internal/addr"
	"github.com/cortx-go/m0btree/internal/node"
	"github.com/cortx-go/m0btree/internal/xerr"
)

// Put runs spec.md §4.5.2's phase sequence: INIT -> SETUP -> DOWN ->
// NEXTDOWN* -> ALLOC* -> LOCK -> CHECK -> MAKESPACE -> ACT -> CLEANUP ->
// FINI -> DONE. ALLOC walks the descent stack bottom-up, allocating one
// spare frame per level that would overflow, plus a second spare ("extra")
// if the root itself would overflow. MAKESPACE then either inserts
// directly (no split), splits the leaf (and, if that propagates, every
// full ancestor up to and including the root), or — if the root is itself
// the leaf — performs a root split directly.
//
// The key is supplied to the descent and to MAKESPACE; the callback fills
// only the value, which aliases the newly opened leaf slot.
func (t *Tree) Put(key []byte, cb Callback, flags Flags) (Status, error) {
	ctx := newOpContext(flags&FlagLockAll != 0)
	ctx.mark(PhaseInit)
	defer t.cleanup(ctx)

	for {
		ctx.mark(PhaseSetup)
		ctx.levels = ctx.levels[:0]
		ctx.spares = nil
		ctx.extra = nil

		if err := t.descend(ctx, key); err != nil {
			return 0, err
		}

		if err := t.allocForPut(ctx); err != nil {
			t.freeSpares(ctx)
			return 0, err
		}

		if !t.checkAndLock(ctx, true) {
			t.freeSpares(ctx)
			t.restart(ctx)
			continue
		}

		status, err := t.makeSpaceAndAct(ctx, key, cb)
		return status, err
	}
}

// allocForPut is ALLOC: it walks the descent stack from the leaf up,
// allocating a spare for every level that is already full (one more slot
// would overflow it), stopping at the first level with room. If the walk
// reaches the root and the root itself is full, a second spare ("extra")
// is also allocated to receive the old root's relocated contents.
func (t *Tree) allocForPut(ctx *OpContext) error {
	ctx.mark(PhaseAlloc)
	leaf := ctx.levels[len(ctx.levels)-1]
	if leaf.found {
		return nil // KEY_EXISTS: ACT reports it without mutation, nothing to allocate.
	}

	ctx.spares = make([]*spareFrame, len(ctx.levels))
	needSplit := !leaf.d.Node.IsFit()
	for i := len(ctx.levels) - 1; i >= 0 && needSplit; i-- {
		lvl := ctx.levels[i]
		spare, err := t.allocSpare(lvl.d.Node.Level())
		if err != nil {
			return err
		}
		ctx.spares[i] = spare

		if i == 0 {
			extra, err := t.allocSpare(lvl.d.Node.Level())
			if err != nil {
				return err
			}
			ctx.extra = extra
			return nil
		}
		needSplit = !ctx.levels[i-1].d.Node.IsFit()
	}
	return nil
}

// makeSpaceAndAct is MAKESPACE followed by ACT: it opens (and, if
// necessary, splits for) the new leaf slot, invokes the caller's callback
// to fill its value, and — only once the callback has succeeded — applies
// whatever split this produced to the tree's ancestor levels. A callback
// failure undoes the leaf-level split (if any) and the opened slot, and
// never touches anything above the leaf.
func (t *Tree) makeSpaceAndAct(ctx *OpContext, key []byte, cb Callback) (Status, error) {
	leafEntry := ctx.levels[len(ctx.levels)-1]
	leaf := leafEntry.d.Node

	if leafEntry.found {
		ctx.mark(PhaseAct)
		rec := &Record{Key: leaf.Key(leafEntry.idx), Value: leaf.Value(leafEntry.idx), Status: StatusKeyExists}
		_ = cb(rec)
		return StatusKeyExists, nil
	}

	ctx.mark(PhaseMakeSpace)
	spare := ctx.spares[len(ctx.levels)-1]
	isRootLeaf := len(ctx.levels) == 1

	var (
		target    *node.Fixed
		targetIdx int
		split     = spare != nil
	)

	switch {
	case !split:
		idx, _ := leaf.Find(key)
		if _, err := leaf.Make(idx); err != nil {
			return 0, xerr.New(xerr.NoMemory, "engine.MAKESPACE", err)
		}
		target, targetIdx = leaf, idx

	case isRootLeaf:
		extra := ctx.extra
		if _, err := extra.node.CopyRecordsFrom(leaf); err != nil {
			return 0, xerr.New(xerr.NoMemory, "engine.MAKESPACE", err)
		}
		if _, _, _, err := extra.node.Move(spare.node, node.MoveRight, 0, node.MoveEven); err != nil {
			return 0, xerr.New(xerr.NoMemory, "engine.MAKESPACE", err)
		}
		target = extra.node
		if spare.node.Count() > 0 && node.Compare(key, spare.node.Key(0)) >= 0 {
			target = spare.node
		}
		idx, _ := target.Find(key)
		if _, err := target.Make(idx); err != nil {
			return 0, xerr.New(xerr.NoMemory, "engine.MAKESPACE", err)
		}
		targetIdx = idx

	default:
		if _, _, _, err := leaf.Move(spare.node, node.MoveRight, 0, node.MoveEven); err != nil {
			return 0, xerr.New(xerr.NoMemory, "engine.MAKESPACE", err)
		}
		target = leaf
		if spare.node.Count() > 0 && node.Compare(key, spare.node.Key(0)) >= 0 {
			target = spare.node
		}
		idx, _ := target.Find(key)
		if _, err := target.Make(idx); err != nil {
			return 0, xerr.New(xerr.NoMemory, "engine.MAKESPACE", err)
		}
		targetIdx = idx
	}
	copy(target.Key(targetIdx), key)

	ctx.mark(PhaseAct)
	rec := &Record{Key: target.Key(targetIdx), Value: target.Value(targetIdx), Status: StatusSuccess}
	if err := cb(rec); err != nil {
		_, _ = target.Del(targetIdx)
		if split {
			if isRootLeaf {
				_ = t.pager.Free(ctx.extra.addr)
			} else {
				_, _, _, _ = spare.node.Move(leaf, node.MoveLeft, 0, node.MoveMax)
			}
			_ = t.pager.Free(spare.addr)
		}
		return 0, xerr.New(xerr.CallbackError, "engine.ACT", err)
	}
	target.Finalize()

	if err := t.captureNode(leafEntry.d, []node.Range{leaf.FrameRange()}); err != nil {
		return 0, err
	}
	if !split {
		return StatusSuccess, nil
	}

	promotedKey := append([]byte(nil), spare.node.Key(0)...)

	if isRootLeaf {
		if err := t.persistSpare(ctx.extra); err != nil {
			return 0, err
		}
		if err := t.persistSpare(spare); err != nil {
			return 0, err
		}
		return t.finishRootSplit(ctx, leaf, ctx.extra.addr, spare, promotedKey)
	}

	if err := t.persistSpare(spare); err != nil {
		return 0, err
	}
	return t.propagateSplit(ctx, len(ctx.levels)-2, promotedKey, spare.addr)
}

// propagateSplit is the upward continuation of a leaf split: it inserts
// the promoted (key, child) pair into ancestor level i, splitting that
// level too (and recursing to i-1) if it is also full, or performing a
// root split if i is the root.
func (t *Tree) propagateSplit(ctx *OpContext, i int, key []byte, child addr.Addr) (Status, error) {
	for {
		lvl := ctx.levels[i]
		n := lvl.d.Node
		spare := ctx.spares[i]

		if spare == nil {
			idx, _ := n.Find(key)
			if _, err := n.Make(idx); err != nil {
				return 0, xerr.New(xerr.NoMemory, "engine.MAKESPACE", err)
			}
			copy(n.Key(idx), key)
			n.SetChild(idx, child)
			n.Finalize()
			if err := t.captureNode(lvl.d, []node.Range{n.FrameRange()}); err != nil {
				return 0, err
			}
			return StatusSuccess, nil
		}

		if i == 0 {
			return t.rootSplitInsert(ctx, key, child)
		}

		if _, _, _, err := n.Move(spare.node, node.MoveRight, 0, node.MoveEven); err != nil {
			return 0, xerr.New(xerr.NoMemory, "engine.MAKESPACE", err)
		}
		target := n
		if spare.node.Count() > 0 && node.Compare(key, spare.node.Key(0)) >= 0 {
			target = spare.node
		}
		idx, _ := target.Find(key)
		if _, err := target.Make(idx); err != nil {
			return 0, xerr.New(xerr.NoMemory, "engine.MAKESPACE", err)
		}
		copy(target.Key(idx), key)
		target.SetChild(idx, child)
		target.Finalize()

		if err := t.captureNode(lvl.d, []node.Range{n.FrameRange()}); err != nil {
			return 0, err
		}
		if err := t.persistSpare(spare); err != nil {
			return 0, err
		}

		key = append([]byte(nil), spare.node.Key(0)...)
		child = spare.addr
		i--
	}
}

// rootSplitInsert handles a root split triggered by a (key, child) pair
// promoted from the level below: the root's entire current content is
// relocated into extra, the pair is inserted into whichever of extra or
// the new spare it belongs in, and the root frame is reformatted in
// place (§4.5.2 "Root split").
func (t *Tree) rootSplitInsert(ctx *OpContext, key []byte, child addr.Addr) (Status, error) {
	root := ctx.levels[0].d.Node
	extra := ctx.extra
	spare := ctx.spares[0]

	if _, err := extra.node.CopyRecordsFrom(root); err != nil {
		return 0, xerr.New(xerr.NoMemory, "engine.MAKESPACE", err)
	}
	if _, _, _, err := extra.node.Move(spare.node, node.MoveRight, 0, node.MoveEven); err != nil {
		return 0, xerr.New(xerr.NoMemory, "engine.MAKESPACE", err)
	}
	target := extra.node
	if spare.node.Count() > 0 && node.Compare(key, spare.node.Key(0)) >= 0 {
		target = spare.node
	}
	idx, _ := target.Find(key)
	if _, err := target.Make(idx); err != nil {
		return 0, xerr.New(xerr.NoMemory, "engine.MAKESPACE", err)
	}
	copy(target.Key(idx), key)
	target.SetChild(idx, child)
	target.Finalize()

	if err := t.persistSpare(extra); err != nil {
		return 0, err
	}
	if err := t.persistSpare(spare); err != nil {
		return 0, err
	}

	promotedKey := append([]byte(nil), spare.node.Key(0)...)
	return t.finishRootSplit(ctx, root, extra.addr, spare, promotedKey)
}

// finishRootSplit resets the root frame (which keeps its address, since
// the registry keys trees by root address) in place as the tree's new top
// level: a sentinel slot (null key) pointing at extra, which now holds
// everything the root used to, and a real slot for the newly split-off
// sibling. Height increases by one.
func (t *Tree) finishRootSplit(ctx *OpContext, oldRoot *node.Fixed, extraAddr addr.Addr, spare *spareFrame, promotedKey []byte) (Status, error) {
	newLevel := oldRoot.Level() + 1
	root, err := t.reinitRootFrame(ctx.levels[0].d, newLevel)
	if err != nil {
		return 0, err
	}

	if _, err := root.Make(0); err != nil {
		return 0, xerr.New(xerr.NoMemory, "engine.MAKESPACE", err)
	}
	for i := range root.Key(0) {
		root.Key(0)[i] = 0
	}
	root.SetChild(0, extraAddr)

	if _, err := root.Make(1); err != nil {
		return 0, xerr.New(xerr.NoMemory, "engine.MAKESPACE", err)
	}
	copy(root.Key(1), promotedKey)
	root.SetChild(1, spare.addr)
	root.Finalize()

	if err := t.captureNode(ctx.levels[0].d, []node.Range{root.FrameRange()}); err != nil {
		return 0, err
	}
	t.desc.Height++
	return StatusSuccess, nil
}
