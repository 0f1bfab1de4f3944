package engine

import (
	"github.com/cortx-go/m0btree/internal/addr"
	"github.com/cortx-go/m0btree/internal/node"
	"github.com/cortx-go/m0btree/internal/xerr"
)

// sibNext and sibPrev name the two iteration directions for the
// pivot/sibling machinery shared by Iter and Get's SLANT fallback.
const (
	sibNext = true
	sibPrev = false
)

// Iter runs spec.md §4.5.4's phase sequence: INIT -> SETUP -> DOWN ->
// NEXTDOWN* (tracking a pivot level) -> SIBLING* -> LOCK -> CHECK -> ACT ->
// CLEANUP -> FINI -> DONE.
//
// NEXTDOWN descends exactly as GET does, remembering the deepest internal
// level that still has a valid neighbor child in the requested direction
// (the pivot). At the leaf, the in-leaf sibling slot is computed from the
// descent's found/index result; if it falls within the leaf, that record
// is the answer. Otherwise, if no pivot was seen the tree boundary has
// been reached; otherwise the pivot's neighbor child is descended to its
// leftmost (NEXT) or rightmost (PREV) leaf, and that extreme record is
// the answer. The sibling descent happens before LOCK/CHECK, exactly like
// the root-to-leaf descent, so it shares the same optimistic
// sequence-counter validation.
func (t *Tree) Iter(key []byte, cb Callback, flags Flags) (Status, error) {
	dirNext := flags&FlagNext != 0

	ctx := newOpContext(flags&FlagLockAll != 0)
	ctx.mark(PhaseInit)
	defer t.cleanup(ctx)

	for {
		ctx.mark(PhaseSetup)
		ctx.levels = ctx.levels[:0]

		if err := t.descend(ctx, key); err != nil {
			return 0, err
		}

		recNode, recIdx, boundary, err := t.siblingWalk(ctx, dirNext)
		if err != nil {
			return 0, err
		}

		if !t.checkAndLock(ctx, false) {
			t.restart(ctx)
			continue
		}

		ctx.mark(PhaseAct)
		if boundary {
			rec := &Record{Status: StatusBTreeBoundary}
			_ = cb(rec)
			return StatusBTreeBoundary, nil
		}
		rec := &Record{Key: recNode.Key(recIdx), Value: recNode.Value(recIdx), Status: StatusSuccess}
		if err := cb(rec); err != nil {
			return 0, xerr.New(xerr.CallbackError, "engine.ACT", err)
		}
		return StatusSuccess, nil
	}
}

// siblingWalk computes the in-leaf sibling slot from the descent already
// recorded in ctx.levels and, if that slot lies off the end of the leaf,
// performs the SIBLING descent from the pivot level's neighbor child down
// to the extreme leaf. It mutates ctx.levels (appending the SIBLING path)
// but takes no lock, matching spec.md's SIBLING* phase running before
// LOCK.
func (t *Tree) siblingWalk(ctx *OpContext, dirNext bool) (recNode *node.Fixed, recIdx int, boundary bool, err error) {
	leaf := ctx.levels[len(ctx.levels)-1]
	sib := leafSiblingIndex(leaf.idx, leaf.found, dirNext)
	if sib >= 0 && sib < leaf.d.Node.Count() {
		return leaf.d.Node, sib, false, nil
	}

	pivot, sibAddr, perr := t.findPivot(ctx, dirNext)
	if perr != nil {
		return nil, 0, false, perr
	}
	if pivot == -1 {
		return nil, 0, true, nil
	}

	ctx.mark(PhaseSibling)
	n, idx, serr := t.descendToExtreme(ctx, sibAddr, dirNext)
	if serr != nil {
		return nil, 0, false, serr
	}
	return n, idx, false, nil
}

// leafSiblingIndex translates a leaf's Find result into the index of the
// record one step away in the requested direction: for NEXT, the slot
// just past an exact match or the already-past-target slot Find returned
// on a miss; for PREV, the slot just before either case.
func leafSiblingIndex(idx int, found bool, dirNext bool) int {
	if dirNext {
		if found {
			return idx + 1
		}
		return idx
	}
	return idx - 1
}

// findPivot walks the internal levels of the descent stack (excluding the
// leaf) from deepest to shallowest, returning the first (deepest) level
// that has a valid neighbor child in the requested direction.
func (t *Tree) findPivot(ctx *OpContext, dirNext bool) (int, addr.Addr, error) {
	for i := len(ctx.levels) - 2; i >= 0; i-- {
		lvl := ctx.levels[i]
		n := lvl.d.Node
		childIdx := n.ChildIndex(lvl.idx, lvl.found)
		nb := childIdx + 1
		if !dirNext {
			nb = childIdx - 1
		}
		if nb >= 0 && nb < n.Count() {
			a, err := n.Child(nb)
			if err != nil {
				return -1, addr.Null, xerr.New(xerr.BadAddress, "engine.SIBLING", err)
			}
			return i, a, nil
		}
	}
	return -1, addr.Null, nil
}

// descendToExtreme descends from start to its leftmost (NEXT) or
// rightmost (PREV) leaf, appending every node it loads to ctx.levels so
// CHECK validates the whole path and CLEANUP releases it.
func (t *Tree) descendToExtreme(ctx *OpContext, start addr.Addr, dirNext bool) (*node.Fixed, int, error) {
	cur := start
	for {
		d, err := t.loadNode(cur)
		if err != nil {
			return nil, 0, err
		}
		ctx.levels = append(ctx.levels, levelEntry{d: d, seq: d.Seq})
		n := d.Node
		if n.Level() == 0 {
			idx := 0
			if !dirNext {
				idx = n.Count() - 1
			}
			return n, idx, nil
		}
		childIdx := 0
		if !dirNext {
			childIdx = n.Count() - 1
		}
		child, err := n.Child(childIdx)
		if err != nil {
			return nil, 0, xerr.New(xerr.BadAddress, "engine.SIBLING", err)
		}
		cur = child
	}
}

// boundaryOrSibling is GET's SLANT fallback: it runs after Get has already
// locked and validated the ordinary descent, so it only needs to perform
// the (lock-protected) sibling walk and report the result.
func (t *Tree) boundaryOrSibling(ctx *OpContext, cb Callback, dirNext bool) (Status, error) {
	pivot, sibAddr, err := t.findPivot(ctx, dirNext)
	if err != nil {
		return 0, err
	}
	if pivot == -1 {
		ctx.mark(PhaseAct)
		rec := &Record{Status: StatusBTreeBoundary}
		_ = cb(rec)
		return StatusBTreeBoundary, nil
	}

	ctx.mark(PhaseSibling)
	n, idx, err := t.descendToExtreme(ctx, sibAddr, dirNext)
	if err != nil {
		return 0, err
	}

	ctx.mark(PhaseAct)
	rec := &Record{Key: n.Key(idx), Value: n.Value(idx), Status: StatusSuccess}
	if err := cb(rec); err != nil {
		return 0, xerr.New(xerr.CallbackError, "engine.ACT", err)
	}
	return StatusSuccess, nil
}
