package engine

import (
	"fmt"

	"github.com/cortx-go/m0btree/internal/cache"
	"github.com/cortx-go/m0btree/internal/node"
	"github.com/cortx-go/m0btree/internal/xerr"
)

// Del runs spec.md §4.5.3's phase sequence: INIT -> SETUP -> DOWN ->
// NEXTDOWN* -> STORE_CHILD -> LOCK -> CHECK -> ACT -> FREENODE* -> CLEANUP
// -> FINI -> DONE.
//
// Underflow is defined, per the Open Question this engine resolves, as a
// node's record count reaching zero -- there is no borrow-from-sibling or
// merge step. ACT deletes the leaf's matched slot; if that empties the
// leaf (and the leaf is not itself the root), the resulting hole is
// removed from the parent's slot, which may itself underflow, and so on
// up the tree. A climb that empties one of the root's two children
// demotes the root onto the other one (STORE_CHILD's preload), shrinking
// the tree's height by one. FREENODE frees every emptied frame, in order,
// once the whole climb has committed.
func (t *Tree) Del(key []byte, cb Callback, flags Flags) (Status, error) {
	ctx := newOpContext(flags&FlagLockAll != 0)
	ctx.mark(PhaseInit)
	defer t.cleanup(ctx)

	for {
		ctx.mark(PhaseSetup)
		ctx.levels = ctx.levels[:0]
		ctx.freeList = ctx.freeList[:0]
		t.releaseOtherRootChild(ctx)

		if err := t.descend(ctx, key); err != nil {
			return 0, err
		}

		ctx.mark(PhaseStoreChild)
		if err := t.loadOtherRootChild(ctx); err != nil {
			return 0, err
		}

		if !t.checkAndLock(ctx, true) {
			t.restart(ctx)
			continue
		}

		status, err := t.deleteAndCollapse(ctx, cb)
		if err != nil {
			return 0, err
		}

		ctx.mark(PhaseFreeNode)
		for _, a := range ctx.freeList {
			_ = t.pager.Free(a)
		}
		ctx.freeList = nil

		return status, nil
	}
}

// deleteAndCollapse is ACT plus the underflow climb. It never returns a
// status other than StatusSuccess/StatusKeyNotFound; there is no restart
// path once CHECK has passed, since the operation holds the write lock
// for its entire remaining duration.
func (t *Tree) deleteAndCollapse(ctx *OpContext, cb Callback) (Status, error) {
	leafEntry := ctx.levels[len(ctx.levels)-1]
	leaf := leafEntry.d.Node

	ctx.mark(PhaseAct)
	if !leafEntry.found {
		rec := &Record{Status: StatusKeyNotFound}
		_ = cb(rec)
		return StatusKeyNotFound, nil
	}

	idx := leafEntry.idx
	oldKey := append([]byte(nil), leaf.Key(idx)...)
	oldVal := append([]byte(nil), leaf.Value(idx)...)

	if _, err := leaf.Del(idx); err != nil {
		return 0, xerr.New(xerr.NoMemory, "engine.ACT", err)
	}

	rec := &Record{Key: oldKey, Value: oldVal, Status: StatusSuccess}
	if err := cb(rec); err != nil {
		// Undo: reinsert the deleted record exactly where it was.
		if _, merr := leaf.Make(idx); merr == nil {
			copy(leaf.Key(idx), oldKey)
			copy(leaf.Value(idx), oldVal)
			leaf.Finalize()
		}
		return 0, xerr.New(xerr.CallbackError, "engine.ACT", err)
	}
	leaf.Finalize()

	if err := t.captureNode(leafEntry.d, []node.Range{leaf.FrameRange()}); err != nil {
		return 0, err
	}

	if leaf.Count() > 0 || len(ctx.levels) == 1 {
		// No underflow, or the leaf is the root: an empty root leaf just
		// means the tree is empty, nothing further to collapse.
		return StatusSuccess, nil
	}

	return t.collapseUnderflow(ctx)
}

// collapseUnderflow removes the now-empty node at the bottom of the
// descent stack from its parent's slot, repeating one level up for as
// long as the removal itself empties the parent, and demotes the root if
// the climb reaches it with only one child left.
func (t *Tree) collapseUnderflow(ctx *OpContext) (Status, error) {
	emptyAddr := ctx.levels[len(ctx.levels)-1].d.Addr
	ctx.freeList = append(ctx.freeList, emptyAddr)

	for i := len(ctx.levels) - 2; i >= 0; i-- {
		lvl := ctx.levels[i]
		parent := lvl.d.Node
		childSlot := parent.ChildIndex(lvl.idx, lvl.found)

		if err := removeChildSlot(parent, childSlot); err != nil {
			return 0, err
		}
		parent.Finalize()
		if err := t.captureNode(lvl.d, []node.Range{parent.FrameRange()}); err != nil {
			return 0, err
		}

		if i > 0 {
			if parent.Count() > 0 {
				return StatusSuccess, nil
			}
			emptyAddr = lvl.d.Addr
			ctx.freeList = append(ctx.freeList, emptyAddr)
			continue
		}

		// parent is the root.
		switch parent.Count() {
		case 0:
			if _, err := t.reinitRootFrame(lvl.d, 0); err != nil {
				return 0, err
			}
			lvl.d.Node.Finalize()
			if err := t.captureNode(lvl.d, []node.Range{lvl.d.Node.FrameRange()}); err != nil {
				return 0, err
			}
			t.desc.Height = 1
			return StatusSuccess, nil
		case 1:
			return t.demoteRoot(ctx, lvl.d)
		default:
			return StatusSuccess, nil
		}
	}
	return StatusSuccess, nil
}

// removeChildSlot deletes childSlot's (key, child) pair from an internal
// node. Slot 0 is the sentinel leftmost-child slot and carries no
// meaningful key, so removing it instead promotes slot 1's child into
// slot 0 and drops slot 1 (discarding slot 1's key, which delimited a
// boundary that no longer exists).
func removeChildSlot(parent *node.Fixed, childSlot int) error {
	if childSlot == 0 && parent.Count() > 1 {
		next, err := parent.Child(1)
		if err != nil {
			return xerr.New(xerr.BadAddress, "engine.FREENODE", err)
		}
		parent.SetChild(0, next)
		if _, err := parent.Del(1); err != nil {
			return xerr.New(xerr.NoMemory, "engine.FREENODE", err)
		}
		return nil
	}
	if _, err := parent.Del(childSlot); err != nil {
		return xerr.New(xerr.NoMemory, "engine.FREENODE", err)
	}
	return nil
}

// demoteRoot pulls the root's sole remaining child's contents into the
// root frame (which keeps its address) and frees the child's frame,
// shrinking the tree's height by one. The remaining child is always
// STORE_CHILD's preloaded otherRootChild: the root had exactly two
// children before this delete (root demotion is only reachable in one
// underflow step from a two-child root), and the one that just emptied is
// the one on the descent path, so the survivor is the other one.
func (t *Tree) demoteRoot(ctx *OpContext, rootDesc *cache.Descriptor) (Status, error) {
	child := ctx.otherRootChild
	if child == nil {
		return 0, xerr.New(xerr.BadFormat, "engine.FREENODE", fmt.Errorf("root demotion reached with no preloaded sibling"))
	}

	newLevel := child.Node.Level()
	root, err := t.reinitRootFrame(rootDesc, newLevel)
	if err != nil {
		return 0, err
	}
	if _, err := root.CopyRecordsFrom(child.Node); err != nil {
		return 0, xerr.New(xerr.NoMemory, "engine.FREENODE", err)
	}
	root.Finalize()
	if err := t.captureNode(rootDesc, []node.Range{root.FrameRange()}); err != nil {
		return 0, err
	}

	ctx.freeList = append(ctx.freeList, child.Addr)
	t.releaseOtherRootChild(ctx)
	t.desc.Height--
	return StatusSuccess, nil
}
