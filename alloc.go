package beefdb

// The writer transaction is the sole page allocator. Pages are born as
// scratch slabs in the spill buffer, stamped with monotonically
// increasing page numbers, and queued on the dirty FIFO in allocation
// order, which is also the order they are written out on commit.

// dirtyPage tracks one scratch allocation: a single branch/leaf page
// or a contiguous overflow run.
type dirtyPage struct {
	page   *page // view over the whole scratch run
	parent *page // dirty parent page, nil for the root (or overflow runs)
	num    int   // pages in the run
	slot   slotRef
}

// slotRef is the spill-buffer handle of a scratch run.
type slotRef struct {
	seg   uint16
	idx   uint32
	pages uint32
}

// allocate reserves a scratch run of num pages and assigns it the next
// page number. This is the only way pages come into existence.
func (txn *Txn) allocate(num int) (*dirtyPage, error) {
	data, slot, err := txn.env.spillBuf.Allocate(uint32(num))
	if err != nil {
		return nil, WrapError(ErrIO, err)
	}

	pn := txn.nextPgno
	txn.nextPgno += pgno(num)

	dp := &dirtyPage{
		page: &page{data: data},
		num:  num,
		slot: slotRef{seg: slot.SegmentIdx, idx: slot.SlotIdx, pages: slot.Pages},
	}
	dp.page.header().PageNo = pn

	txn.dirtyIdx.Set(pn, len(txn.dirty))
	txn.dirty = append(txn.dirty, dp)
	return dp, nil
}

// newPage allocates and initializes a page of the given type. For
// overflow heads num covers the whole run and the header's overflow
// count is set to num-1. Tree statistics are updated here so the
// commit's meta page reflects every allocation.
func (txn *Txn) newPage(flags pageFlags, num int) (*dirtyPage, error) {
	dp, err := txn.allocate(num)
	if err != nil {
		return nil, err
	}
	pn := dp.page.header().PageNo
	dp.page.init(pn, flags|pageDirty, txn.env.pageSize)
	if flags&pageOverflow != 0 {
		dp.page.header().OverflowPages = uint64(num - 1)
	}

	switch {
	case flags&pageBranch != 0:
		txn.stat.BranchPages++
	case flags&pageLeaf != 0:
		txn.stat.LeafPages++
	case flags&pageOverflow != 0:
		txn.stat.OverflowPages += uint64(num)
	}
	return dp, nil
}

// touch implements copy-on-write: if the page is not a writer-local
// scratch page, clone it into one under a fresh page number and
// re-parent it. The caller's triple is updated in place; touching the
// root updates the transaction's root. Idempotent on dirty pages.
func (txn *Txn) touch(pp *pageParent) error {
	p := pp.page
	if p.isDirty() && p.pageNo() >= txn.firstPgno {
		return nil
	}

	dp, err := txn.allocate(1)
	if err != nil {
		return err
	}
	pn := dp.page.header().PageNo

	copy(dp.page.data, p.data[:txn.env.pageSize])
	h := dp.page.header()
	h.PageNo = pn
	h.Flags |= pageDirty

	dp.parent = pp.parent
	if pp.parent != nil {
		if err := pp.parent.updateChild(pn, pp.index); err != nil {
			return err
		}
	} else {
		txn.root = pn
	}
	pp.page = dp.page
	return nil
}

// dirtyOf returns the dirty record for a page number, or nil when the
// page is not writer-local.
func (txn *Txn) dirtyOf(pn pgno) *dirtyPage {
	i := txn.dirtyIdx.Get(pn)
	if i < 0 {
		// the FIFO is authoritative; the index is only an accelerator
		for _, dp := range txn.dirty {
			if dp.page.pageNo() == pn {
				return dp
			}
		}
		return nil
	}
	return txn.dirty[i]
}

// freeDirty releases every scratch run back to the spill buffer.
func (txn *Txn) freeDirty() {
	if txn.env.spillBuf != nil {
		txn.env.spillBuf.Clear()
	}
	txn.dirty = txn.dirty[:0]
	txn.dirtyIdx.Clear()
}
