package engine

// Get runs the read-only phase sequence: INIT -> SETUP -> DOWN ->
// NEXTDOWN* -> LOCK -> CHECK -> ACT -> CLEANUP -> FINI -> DONE.
//
// With FlagSlant set, a miss falls through to the leaf's next record (or,
// if the leaf has none greater, the SIBLING descent ITER uses) instead of
// reporting KEY_NOT_FOUND; spec.md §4.5.4 describes this as GET sharing
// ITER's sibling-descent machinery when the found index runs past the
// end of the leaf.
func (t *Tree) Get(key []byte, cb Callback, flags Flags) (Status, error) {
	ctx := newOpContext(flags&FlagLockAll != 0)
	ctx.mark(PhaseInit)
	defer t.cleanup(ctx)

	for {
		ctx.mark(PhaseSetup)
		ctx.levels = ctx.levels[:0]
		if err := t.descend(ctx, key); err != nil {
			return StatusKeyNotFound, err
		}

		if !t.checkAndLock(ctx, false) {
			t.restart(ctx)
			continue
		}

		leaf := ctx.levels[len(ctx.levels)-1]
		ctx.mark(PhaseAct)

		if leaf.found {
			rec := &Record{Key: leaf.d.Node.Key(leaf.idx), Value: leaf.d.Node.Value(leaf.idx), Status: StatusSuccess}
			if err := t.invokeCallback(leaf.d, rec, nil, cb); err != nil {
				return StatusSuccess, err
			}
			return StatusSuccess, nil
		}

		if flags&FlagSlant == 0 {
			rec := &Record{Status: StatusKeyNotFound}
			_ = cb(rec)
			return StatusKeyNotFound, nil
		}

		return t.slantFromLeaf(ctx, leaf, cb)
	}
}

// slantFromLeaf implements SLANT: leaf.idx is already the first slot
// with key >= target (Find's contract), so if it lies within the leaf
// that is directly the successor record; otherwise fall through to the
// pivot/sibling walk ITER uses.
func (t *Tree) slantFromLeaf(ctx *OpContext, leaf levelEntry, cb Callback) (Status, error) {
	if leaf.idx < leaf.d.Node.Count() {
		ctx.mark(PhaseAct)
		rec := &Record{Key: leaf.d.Node.Key(leaf.idx), Value: leaf.d.Node.Value(leaf.idx), Status: StatusSuccess}
		if err := t.invokeCallback(leaf.d, rec, nil, cb); err != nil {
			return StatusSuccess, err
		}
		return StatusSuccess, nil
	}
	return t.boundaryOrSibling(ctx, cb, sibNext)
}
