package beefdb

import (
	"unsafe"
)

// pageHeaderSize is the fixed page header size (40 bytes).
const pageHeaderSize = 40

// slotSize is the size of one slot-array entry (a u16 node offset).
const slotSize = 2

// pageHeader is the common page header.
//
// Memory layout (little-endian, host-aligned):
//
//	Offset  Size  Field
//	0       8     pageno
//	8       4     flags
//	12      4     reserved
//	16      8     lower bound of free space
//	24      8     upper bound of free space
//	32      8     overflow page count (run length - 1 for overflow heads)
type pageHeader struct {
	PageNo        pgno
	Flags         pageFlags
	_             uint32
	Lower         uint64
	Upper         uint64
	OverflowPages uint64
}

// page provides access to a page's bytes with its header. For overflow
// chains data covers the whole run, not just the head page.
type page struct {
	data []byte
}

// header returns the page header.
func (p *page) header() *pageHeader {
	return (*pageHeader)(unsafe.Pointer(&p.data[0]))
}

// pageNo returns the page number.
func (p *page) pageNo() pgno {
	return p.header().PageNo
}

// flags returns the page flags.
func (p *page) flags() pageFlags {
	return p.header().Flags
}

// isBranch returns true if this is a branch page.
func (p *page) isBranch() bool {
	return p.header().Flags&pageBranch != 0
}

// isLeaf returns true if this is a leaf page.
func (p *page) isLeaf() bool {
	return p.header().Flags&pageLeaf != 0
}

// isOverflow returns true if this is the head of an overflow chain.
func (p *page) isOverflow() bool {
	return p.header().Flags&pageOverflow != 0
}

// isMeta returns true if this is a meta page.
func (p *page) isMeta() bool {
	return p.header().Flags&pageMeta != 0
}

// isDirty returns true if this is a writer-local scratch page.
func (p *page) isDirty() bool {
	return p.header().Flags&pageDirty != 0
}

// numKeys returns the number of nodes on this page.
func (p *page) numKeys() int {
	return int(p.header().Lower-pageHeaderSize) / slotSize
}

// slot returns the heap offset of the node at the given index.
func (p *page) slot(i int) (uint16, error) {
	if i < 0 || i >= p.numKeys() {
		return 0, Errorf(ErrIndexOverflow, "index %d, num_keys %d, page %d", i, p.numKeys(), p.pageNo())
	}
	return p.slotUnchecked(i), nil
}

// slotUnchecked returns the heap offset without bounds checking.
// Caller must ensure 0 <= i < numKeys.
func (p *page) slotUnchecked(i int) uint16 {
	return getUint16LE(p.data[pageHeaderSize+i*slotSize:])
}

// setSlot stores the heap offset for the node at the given index.
func (p *page) setSlot(i int, off uint16) {
	putUint16LE(p.data[pageHeaderSize+i*slotSize:], off)
}

// leftSpace returns the free byte gap between the slot array and the
// heap.
func (p *page) leftSpace() int {
	h := p.header()
	return int(h.Upper - h.Lower)
}

// init initializes the header for an empty page. pageSize bounds the
// heap even when data spans an overflow run.
func (p *page) init(pn pgno, flags pageFlags, pageSize int) {
	h := p.header()
	h.PageNo = pn
	h.Flags = flags
	h.Lower = pageHeaderSize
	h.Upper = uint64(pageSize)
	h.OverflowPages = 0
}

// resetHeap empties the page, keeping number and flags. Used by split
// before replaying nodes into the victim.
func (p *page) resetHeap(pageSize int) {
	h := p.header()
	h.Lower = pageHeaderSize
	h.Upper = uint64(pageSize)
}

// validate checks the header invariants against the page size.
func (p *page) validate(pageSize int) error {
	if len(p.data) < pageHeaderSize {
		return NewError(ErrCorrupted)
	}
	h := p.header()
	if h.Flags&^(pageTypeMask|pageDirty) != 0 {
		return Errorf(ErrCorrupted, "page %d has unknown flags %#x", h.PageNo, h.Flags)
	}
	if h.Flags&pageOverflow != 0 {
		return nil
	}
	if h.Upper > uint64(pageSize) || h.Lower > h.Upper || h.Lower < pageHeaderSize {
		return Errorf(ErrCorrupted, "page %d has bad bounds [%d, %d)", h.PageNo, h.Lower, h.Upper)
	}
	if (h.Lower-pageHeaderSize)%slotSize != 0 {
		return Errorf(ErrCorrupted, "page %d has misaligned lower bound %d", h.PageNo, h.Lower)
	}
	return nil
}

// insertNode inserts a node at the given slot index, shifting higher
// slots up by one and allocating the record at upper-nodeSize. key may
// be nil for a branch sentinel; inline holds the value bytes for a
// leaf (or the 8-byte overflow head pgno for big data) and is nil for
// branch nodes. union is the child pgno for branch nodes or the value
// size for leaf nodes.
//
// Fails with ErrNoSpace when the record plus its slot does not fit;
// the caller is expected to split.
func (p *page) insertNode(index int, key, inline []byte, union uint64, nflags nodeFlags) error {
	n := p.numKeys()
	if index < 0 || index > n {
		return Errorf(ErrIndexOverflow, "insert index %d, num_keys %d, page %d", index, n, p.pageNo())
	}

	nsize := nodeHeaderSize + len(key) + len(inline)
	if nsize+slotSize > p.leftSpace() {
		return Errorf(ErrNoSpace, "page %d: need %d, left %d", p.pageNo(), nsize+slotSize, p.leftSpace())
	}

	h := p.header()
	off := uint16(h.Upper) - uint16(nsize)

	for i := n; i > index; i-- {
		p.setSlot(i, p.slotUnchecked(i-1))
	}
	p.setSlot(index, off)
	h.Lower += slotSize
	h.Upper -= uint64(nsize)

	nh := (*nodeHeader)(unsafe.Pointer(&p.data[off]))
	nh.Union = union
	nh.Flags = nflags
	nh.KeySize = uint64(len(key))
	copy(p.data[int(off)+nodeHeaderSize:], key)
	copy(p.data[int(off)+nodeHeaderSize+len(key):], inline)
	return nil
}

// insertRaw inserts a complete node record verbatim. Used by split
// when replaying nodes from the pre-split copy.
func (p *page) insertRaw(index int, raw []byte) error {
	n := p.numKeys()
	if index < 0 || index > n {
		return Errorf(ErrIndexOverflow, "insert index %d, num_keys %d, page %d", index, n, p.pageNo())
	}
	if len(raw)+slotSize >= p.leftSpace() {
		return Errorf(ErrNoSpace, "page %d: need %d, left %d", p.pageNo(), len(raw)+slotSize, p.leftSpace())
	}

	h := p.header()
	off := uint16(h.Upper) - uint16(len(raw))
	for i := n; i > index; i-- {
		p.setSlot(i, p.slotUnchecked(i-1))
	}
	p.setSlot(index, off)
	h.Lower += slotSize
	h.Upper -= uint64(len(raw))
	copy(p.data[off:], raw)
	return nil
}

// delNode removes the node at the given index. The heap is kept
// tightly packed: everything allocated after the victim shifts up by
// the victim's size and the remaining slots are fixed accordingly.
func (p *page) delNode(index int) error {
	n := p.numKeys()
	off, err := p.slot(index)
	if err != nil {
		return err
	}
	nsize, err := p.nodeSizeAt(index)
	if err != nil {
		return err
	}

	h := p.header()
	upper := int(h.Upper)

	// drop the slot, fixing offsets below the victim
	k := 0
	for i := 0; i < n; i++ {
		if i == index {
			continue
		}
		s := p.slotUnchecked(i)
		if s < off {
			s += uint16(nsize)
		}
		p.setSlot(k, s)
		k++
	}
	h.Lower -= slotSize

	// close the heap gap: nodes in [upper, off) move up by nsize
	copy(p.data[upper+nsize:int(off)+nsize], p.data[upper:off])
	h.Upper += uint64(nsize)
	return nil
}

// updateChild rewrites the child page number of the branch node at the
// given index. Used by copy-on-write to re-parent a cloned page.
func (p *page) updateChild(newPgno pgno, index int) error {
	if !p.isBranch() {
		return Errorf(ErrInvalidPageType, "page %d is not a branch page", p.pageNo())
	}
	nh, err := p.node(index)
	if err != nil {
		return err
	}
	nh.Union = newPgno
	return nil
}
