package beefdb

// pageParent is a pair of page pointers used on descent paths: a page,
// its parent, and the page's index within the parent.
type pageParent struct {
	page   *page
	parent *page
	index  int
}

// searchPage descends from the root to the leaf responsible for key.
// With modify set, every page on the path is touched (copy-on-write),
// which may move the transaction's root. Without a transaction the
// root of the environment's current meta copy (updated by every
// commit) is used; the meta pages are not read again from the file.
func (e *Env) searchPage(txn *Txn, key []byte, modify bool) (pageParent, error) {
	var pp pageParent

	var root pgno
	if txn != nil {
		root = txn.root
	} else {
		e.mu.RLock()
		root = e.meta.Root
		e.mu.RUnlock()
	}
	if root == pInvalid {
		return pp, NewError(ErrEmptyTree)
	}

	p, err := e.getPage(root, txn)
	if err != nil {
		return pp, err
	}
	pp.page = p
	if modify {
		if err := txn.touch(&pp); err != nil {
			return pp, err
		}
	}

	for pp.page.isBranch() {
		idx := routeIndex(pp.page, key, e.cmp)
		child, err := pp.page.nodeChildPgno(idx)
		if err != nil {
			return pp, err
		}
		cp, err := e.getPage(child, txn)
		if err != nil {
			return pp, err
		}
		pp.parent = pp.page
		pp.index = idx
		pp.page = cp
		if modify {
			if err := txn.touch(&pp); err != nil {
				return pp, err
			}
		}
	}

	if !pp.page.isLeaf() {
		return pp, Errorf(ErrInvalidPageType, "page %d on descent is neither branch nor leaf", pp.page.pageNo())
	}
	return pp, nil
}

// routeIndex picks the branch slot to follow: the largest slot whose
// key is less-or-equal to the query, the last slot when the query is
// greater than every stored key.
func routeIndex(p *page, key []byte, cmp CmpFunc) int {
	i, exact, found := searchNode(p, key, cmp)
	switch {
	case !found:
		return p.numKeys() - 1
	case exact:
		return i
	default:
		return i - 1
	}
}

// addNode adds an entry to a page at the given slot index. Branch
// pages store (key, child pgno); leaf pages store (key, value), with
// values of pageSize/MinKeys bytes or more moved to a freshly
// allocated overflow chain. Returns ErrNoSpace, without having
// allocated anything, when the entry does not fit; the caller splits.
func (txn *Txn) addNode(p *page, key, val []byte, child pgno, index int, nflags nodeFlags) error {
	if !p.isLeaf() {
		return p.insertNode(index, key, nil, child, nflags)
	}

	ps := txn.env.pageSize
	if len(val) >= ps/MinKeys {
		// pre-flight before allocating the chain, so ErrNoSpace does
		// not leak overflow pages
		nsize := nodeCalcSize(len(key), 0, true, true)
		if nsize+slotSize > p.leftSpace() {
			return Errorf(ErrNoSpace, "page %d: need %d, left %d", p.pageNo(), nsize+slotSize, p.leftSpace())
		}

		npages := (len(val) + pageHeaderSize + ps - 1) / ps
		dp, err := txn.newPage(pageOverflow, npages)
		if err != nil {
			return err
		}
		copy(dp.page.data[pageHeaderSize:], val)

		var headPn [pgnoSize]byte
		putUint64LE(headPn[:], dp.page.pageNo())
		return p.insertNode(index, key, headPn[:], uint64(len(val)), nflags|nodeBigData)
	}

	return p.insertNode(index, key, val, uint64(len(val)), nflags)
}

// Put inserts or (with KOverwrite) replaces a key/value pair.
func (txn *Txn) Put(key, val []byte, opFlags uint32) error {
	if txn.done {
		return NewError(ErrBrokenTxn)
	}
	if txn.IsReadOnly() {
		return NewError(ErrReadOnlyTxn)
	}
	if txn.Broken() {
		return NewError(ErrBrokenTxn)
	}
	if len(key) == 0 || len(key) >= MaxKeySize {
		return Errorf(ErrInvalidKey, "key length %d", len(key))
	}
	if val == nil {
		return Errorf(ErrInvalidKey, "nil value")
	}

	e := txn.env
	pp, err := e.searchPage(txn, key, true)
	if err != nil {
		if Code(err) == ErrEmptyTree {
			return txn.putFirst(key, val)
		}
		return txn.markBroken(err)
	}

	leaf := pp.page
	i, exact, found := searchNode(leaf, key, e.cmp)
	insIdx := leaf.numKeys()
	if found {
		insIdx = i
	}
	if found && exact {
		if opFlags&KOverwrite == 0 {
			return NewError(ErrKeyExist)
		}
		// replace: drop the old node first, then insert at its slot
		if err := leaf.delNode(i); err != nil {
			return txn.markBroken(err)
		}
		txn.stat.Entries--
		insIdx = i
	}

	err = txn.addNode(leaf, key, val, 0, insIdx, 0)
	if isNoSpace(err) {
		_, _, err = txn.split(&pp, key, val, 0, insIdx, 0)
	}
	if err != nil {
		return txn.markBroken(err)
	}
	txn.stat.Entries++
	return nil
}

// putFirst creates the root leaf of an empty tree with its single
// entry.
func (txn *Txn) putFirst(key, val []byte) error {
	dp, err := txn.newPage(pageLeaf, 1)
	if err != nil {
		return txn.markBroken(err)
	}
	if err := txn.addNode(dp.page, key, val, 0, 0, 0); err != nil {
		return txn.markBroken(err)
	}
	txn.root = dp.page.pageNo()
	txn.stat.Depth++
	txn.stat.Entries++
	return nil
}

// Del removes a single entry. The tree is not rebalanced; an overflow
// chain of a big-data entry is left unreferenced (reclamation is a
// free-list concern).
func (txn *Txn) Del(key []byte) error {
	if txn.done {
		return NewError(ErrBrokenTxn)
	}
	if txn.IsReadOnly() {
		return NewError(ErrReadOnlyTxn)
	}
	if txn.Broken() {
		return NewError(ErrBrokenTxn)
	}
	if len(key) == 0 || len(key) >= MaxKeySize {
		return Errorf(ErrInvalidKey, "key length %d", len(key))
	}

	e := txn.env
	pp, err := e.searchPage(txn, key, true)
	if err != nil {
		if Code(err) == ErrEmptyTree {
			return NewError(ErrKeyNotFound)
		}
		return txn.markBroken(err)
	}

	i, exact, found := searchNode(pp.page, key, e.cmp)
	if !found || !exact {
		return NewError(ErrKeyNotFound)
	}
	if err := pp.page.delNode(i); err != nil {
		return txn.markBroken(err)
	}
	txn.stat.Entries--
	return nil
}

// Get returns the value for a key within this transaction's snapshot.
// The returned slice points into the memory map or the writer's
// scratch pages and must not be modified.
func (txn *Txn) Get(key []byte) ([]byte, error) {
	if txn.done {
		return nil, NewError(ErrBrokenTxn)
	}
	e := txn.env
	pp, err := e.searchPage(txn, key, false)
	if err != nil {
		if Code(err) == ErrEmptyTree {
			return nil, NewError(ErrKeyNotFound)
		}
		return nil, err
	}
	i, exact, found := searchNode(pp.page, key, e.cmp)
	if !found || !exact {
		return nil, NewError(ErrKeyNotFound)
	}
	return e.leafValue(pp.page, i, txn)
}

// leafValue returns the full value of a leaf node, following the
// overflow chain for big-data entries.
func (e *Env) leafValue(leaf *page, i int, txn *Txn) ([]byte, error) {
	nh, err := leaf.node(i)
	if err != nil {
		return nil, err
	}
	if nh.Flags&nodeBigData == 0 {
		return leaf.nodeValue(i)
	}

	head, err := leaf.nodeOverflowPgno(i)
	if err != nil {
		return nil, err
	}
	op, err := e.getPage(head, txn)
	if err != nil {
		return nil, err
	}
	if !op.isOverflow() {
		return nil, Errorf(ErrInvalidPageType, "page %d is not an overflow head", head)
	}
	size := int(nh.Union)
	if pageHeaderSize+size > len(op.data) {
		return nil, Errorf(ErrCorrupted, "overflow run at page %d shorter than value (%d bytes)", head, size)
	}
	return op.data[pageHeaderSize : pageHeaderSize+size : pageHeaderSize+size], nil
}

// split divides a full page into two siblings, promoting a separator
// key to the parent (recursively splitting it when needed), and places
// the pending new entry on the side it sorts into. Returns the page
// and index that received the new entry.
//
// The victim must already be dirty (touched on descent).
func (txn *Txn) split(pp *pageParent, key, val []byte, child pgno, insIdx int, nflags nodeFlags) (*page, int, error) {
	e := txn.env
	ps := e.pageSize
	v := pp.page
	dpv := txn.dirtyOf(v.pageNo())
	if dpv == nil {
		return nil, 0, Errorf(ErrPageNotFound, "split victim %d is not dirty", v.pageNo())
	}

	e.log.V(2).Info("splitting page", "pgno", v.pageNo(), "numKeys", v.numKeys(), "insIdx", insIdx)

	// Splitting the root grows the tree: a new branch root whose
	// leftmost sentinel points at the victim.
	if pp.parent == nil {
		pdp, err := txn.newPage(pageBranch, 1)
		if err != nil {
			return nil, 0, err
		}
		if err := pdp.page.insertNode(0, nil, nil, v.pageNo(), 0); err != nil {
			return nil, 0, err
		}
		txn.root = pdp.page.pageNo()
		txn.stat.Depth++
		pp.parent = pdp.page
		pp.index = 0
		dpv.parent = pdp.page
	}

	sdp, err := txn.newPage(v.flags()&(pageBranch|pageLeaf), 1)
	if err != nil {
		return nil, 0, err
	}
	sib := sdp.page
	sdp.parent = pp.parent

	// Copy the victim aside and reset its heap for the replay.
	cp := &page{data: make([]byte, ps)}
	copy(cp.data, v.data[:ps])
	v.resetHeap(ps)

	n := cp.numKeys()
	splitIdx := n/2 + 1
	if insIdx != splitIdx && splitIdx >= n {
		// tiny pages: keep the separator readable from the copy
		splitIdx = n - 1
	}

	var sepKey []byte
	if insIdx == splitIdx {
		sepKey = key
	} else {
		sepKey = cp.nodeKeyUnchecked(splitIdx)
	}

	err = txn.addNode(pp.parent, sepKey, nil, sib.pageNo(), pp.index+1, 0)
	if isNoSpace(err) {
		gp := txn.pathOf(pp.parent)
		if _, _, err = txn.split(&gp, sepKey, nil, sib.pageNo(), pp.index+1, 0); err != nil {
			return nil, 0, err
		}
		// The recursive replay may have moved the victim under the new
		// grandparent-level sibling: re-read its parent and index.
		pp.parent = dpv.parent
		pp.index, err = childIndex(pp.parent, v.pageNo())
		if err != nil {
			return nil, 0, err
		}
	} else if err != nil {
		return nil, 0, err
	}

	// Replay the copy into victim and sibling, weaving in the new
	// entry at its sort position. Nodes below splitIdx rebuild the
	// victim, the rest fill the sibling, so the promoted separator is
	// exactly the sibling's smallest key.
	var (
		rpage  *page
		rIdx   = -1
		placed = false
	)
	vPos, sPos := 0, 0
	for j := 0; j < n; j++ {
		if !placed && j == insIdx {
			dst, dstIdx := sib, sPos
			if insIdx < splitIdx {
				dst, dstIdx = v, vPos
				vPos++
			} else {
				sPos++
			}
			if err := txn.replayNew(dst, dstIdx, key, val, child, nflags); err != nil {
				return nil, 0, err
			}
			rpage, rIdx = dst, dstIdx
			placed = true
		}
		dst, dstIdx := sib, sPos
		if j < splitIdx {
			dst, dstIdx = v, vPos
			vPos++
		} else {
			sPos++
		}
		if err := txn.replayCopy(dst, dstIdx, cp, j); err != nil {
			return nil, 0, err
		}
	}
	if !placed {
		// the new entry falls past the last replayed index
		if err := txn.replayNew(sib, sPos, key, val, child, nflags); err != nil {
			return nil, 0, err
		}
		rpage, rIdx = sib, sPos
	}

	return rpage, rIdx, nil
}

// replayCopy re-inserts node j of the pre-split copy into dst. The
// first node of a branch-page right sibling loses its key: it was
// promoted as the separator and the slot becomes the side's sentinel.
func (txn *Txn) replayCopy(dst *page, dstIdx int, cp *page, j int) error {
	if dst.isBranch() {
		child, err := cp.nodeChildPgno(j)
		if err != nil {
			return err
		}
		if dstIdx == 0 && len(cp.nodeKeyUnchecked(j)) != 0 {
			nh, err := cp.node(j)
			if err != nil {
				return err
			}
			if err := dst.insertNode(0, nil, nil, child, nh.Flags); err != nil {
				return err
			}
		} else {
			raw, err := cp.nodeBytes(j)
			if err != nil {
				return err
			}
			if err := dst.insertRaw(dstIdx, raw); err != nil {
				return err
			}
		}
		if cdp := txn.dirtyOf(child); cdp != nil {
			cdp.parent = dst
		}
		return nil
	}

	raw, err := cp.nodeBytes(j)
	if err != nil {
		return err
	}
	return dst.insertRaw(dstIdx, raw)
}

// replayNew inserts the pending entry during the replay.
func (txn *Txn) replayNew(dst *page, dstIdx int, key, val []byte, child pgno, nflags nodeFlags) error {
	if dst.isBranch() {
		k := key
		if dstIdx == 0 {
			k = nil
		}
		if err := dst.insertNode(dstIdx, k, nil, child, nflags); err != nil {
			return err
		}
		if cdp := txn.dirtyOf(child); cdp != nil {
			cdp.parent = dst
		}
		return nil
	}
	return txn.addNode(dst, key, val, 0, dstIdx, nflags)
}

// pathOf rebuilds the (page, parent, index) triple of a dirty page
// from its dirty record.
func (txn *Txn) pathOf(p *page) pageParent {
	pp := pageParent{page: p}
	if dp := txn.dirtyOf(p.pageNo()); dp != nil && dp.parent != nil {
		pp.parent = dp.parent
		if i, err := childIndex(dp.parent, p.pageNo()); err == nil {
			pp.index = i
		}
	}
	return pp
}

// childIndex finds the slot of a child page within a branch page.
func childIndex(parent *page, child pgno) (int, error) {
	n := parent.numKeys()
	for i := 0; i < n; i++ {
		pn, err := parent.nodeChildPgno(i)
		if err != nil {
			return 0, err
		}
		if pn == child {
			return i, nil
		}
	}
	return 0, Errorf(ErrPageNotFound, "page %d not under branch page %d", child, parent.pageNo())
}
