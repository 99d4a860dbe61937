package beefdb

import (
	"unsafe"
)

// nodeHeaderSize is the fixed node header size (24 bytes).
const nodeHeaderSize = 24

// nodeHeader is the fixed prefix of every node record.
//
// Memory layout (little-endian, host-aligned):
//
//	Offset  Size  Field
//	0       8     union: child pageno (branch) or value size (leaf)
//	8       4     node flags
//	12      4     reserved
//	16      8     key size
//	24      ...   key bytes, then value bytes or overflow head pageno
//
// The union is discriminated by the owning page's flags, never by the
// node itself.
type nodeHeader struct {
	Union   uint64
	Flags   nodeFlags
	_       uint32
	KeySize uint64
}

// node returns the node header at the given slot index.
func (p *page) node(i int) (*nodeHeader, error) {
	off, err := p.slot(i)
	if err != nil {
		return nil, err
	}
	return (*nodeHeader)(unsafe.Pointer(&p.data[off])), nil
}

// nodeKey returns a view over the in-place key bytes of the node at
// the given index. The branch sentinel yields an empty slice.
func (p *page) nodeKey(i int) ([]byte, error) {
	off, err := p.slot(i)
	if err != nil {
		return nil, err
	}
	ks := int(getUint64LE(p.data[int(off)+16:]))
	start := int(off) + nodeHeaderSize
	end := start + ks
	return p.data[start:end:end], nil
}

// nodeKeyUnchecked returns the key view without bounds checking.
// Caller must ensure 0 <= i < numKeys.
func (p *page) nodeKeyUnchecked(i int) []byte {
	off := int(p.slotUnchecked(i))
	ks := int(getUint64LE(p.data[off+16:]))
	start := off + nodeHeaderSize
	end := start + ks
	return p.data[start:end:end]
}

// nodeValue returns the inline value view of the leaf node at the
// given index. For big-data nodes the view covers the 8-byte overflow
// head pageno, not the value itself.
func (p *page) nodeValue(i int) ([]byte, error) {
	off, err := p.slot(i)
	if err != nil {
		return nil, err
	}
	nh := (*nodeHeader)(unsafe.Pointer(&p.data[off]))
	start := int(off) + nodeHeaderSize + int(nh.KeySize)
	var size int
	if nh.Flags&nodeBigData != 0 {
		size = pgnoSize
	} else {
		size = int(nh.Union)
	}
	end := start + size
	return p.data[start:end:end], nil
}

// nodeChildPgno returns the child page number of the branch node at
// the given index.
func (p *page) nodeChildPgno(i int) (pgno, error) {
	nh, err := p.node(i)
	if err != nil {
		return pInvalid, err
	}
	return nh.Union, nil
}

// nodeOverflowPgno returns the overflow chain head for a big-data
// node.
func (p *page) nodeOverflowPgno(i int) (pgno, error) {
	v, err := p.nodeValue(i)
	if err != nil {
		return pInvalid, err
	}
	return getUint64LE(v), nil
}

// nodeSizeAt returns the total record size of the node at the given
// index: header, key, and for leaf nodes the inline value or overflow
// head pageno.
func (p *page) nodeSizeAt(i int) (int, error) {
	off, err := p.slot(i)
	if err != nil {
		return 0, err
	}
	nh := (*nodeHeader)(unsafe.Pointer(&p.data[off]))
	size := nodeHeaderSize + int(nh.KeySize)
	if p.isLeaf() {
		if nh.Flags&nodeBigData != 0 {
			size += pgnoSize
		} else {
			size += int(nh.Union)
		}
	}
	return size, nil
}

// nodeBytes returns the complete record of the node at the given
// index, for verbatim replay during a split.
func (p *page) nodeBytes(i int) ([]byte, error) {
	off, err := p.slot(i)
	if err != nil {
		return nil, err
	}
	size, err := p.nodeSizeAt(i)
	if err != nil {
		return nil, err
	}
	end := int(off) + size
	return p.data[off:end:end], nil
}

// pgnoSize is the on-disk size of a page number.
const pgnoSize = 8

// nodeCalcSize returns the record size for a prospective node.
func nodeCalcSize(keySize, valSize int, leaf, big bool) int {
	size := nodeHeaderSize + keySize
	if leaf {
		if big {
			size += pgnoSize
		} else {
			size += valSize
		}
	}
	return size
}

// searchNode binary-searches the sorted nodes of a page. For branch
// pages the search starts at index 1, the leftmost slot being the
// "less-or-equal to rest" sentinel.
//
// Returns the smallest index whose key compares >= the query and
// whether the match is exact. found is false when the key is strictly
// greater than every stored key; branch-page callers then route
// through the last slot.
func searchNode(p *page, key []byte, cmp CmpFunc) (index int, exact bool, found bool) {
	n := p.numKeys()
	low := 0
	if p.isBranch() {
		low = 1
	}
	high := n - 1

	mid := -1
	r := 0
	for low <= high {
		mid = (low + high) >> 1
		r = cmp(key, p.nodeKeyUnchecked(mid))
		if r < 0 {
			high = mid - 1
		} else if r > 0 {
			low = mid + 1
		} else {
			break
		}
	}
	if mid < 0 {
		// no comparable nodes (empty page or lone branch sentinel)
		return 0, false, false
	}
	if r > 0 {
		mid++
		if mid >= n {
			return 0, false, false
		}
	}
	return mid, r == 0, true
}
