package beefdb

import (
	"unsafe"
)

// dbHeadSize is the size of the database header body (32 bytes).
const dbHeadSize = 32

// dbHead is the database header stored on page 0, after the page
// header.
//
// Memory layout (little-endian, host-aligned):
//
//	Offset  Size  Field
//	0       4     version
//	4       4     magic
//	8       8     page size
//	16      4     environment flags
//	20      4     reserved
//	24      8     mapsize at creation
type dbHead struct {
	Version  uint32
	Magic    uint32
	PageSize uint64
	Flags    uint32
	_        uint32
	MapSize  uint64
}

// Stat holds B+tree statistics, kept in both meta pages.
type Stat struct {
	PageSize      uint64
	Depth         uint64
	BranchPages   uint64
	LeafPages     uint64
	OverflowPages uint64
	Entries       uint64
}

// metaDataSize is the size of the meta page body (72 bytes).
const metaDataSize = 72

// metaData is the content of a meta page, after the page header.
// The meta page with the larger LastTxnID is authoritative; the other
// is the rollback copy and the next commit's write target.
type metaData struct {
	Stat      Stat
	Root      pgno
	LastPage  pgno
	LastTxnID uint32
	_         uint32
}

// headOf returns the dbHead view of a header page's bytes.
func headOf(data []byte) *dbHead {
	return (*dbHead)(unsafe.Pointer(&data[pageHeaderSize]))
}

// metaOf returns the metaData view of a meta page's bytes.
func metaOf(data []byte) *metaData {
	return (*metaData)(unsafe.Pointer(&data[pageHeaderSize]))
}

// initHeaderPage fills buf (one page) with the database header page.
func initHeaderPage(buf []byte, pageSize int, mapSize uint64) {
	p := page{data: buf}
	p.init(HeaderPageNo, pageHead, pageSize)
	h := headOf(buf)
	h.Version = Version
	h.Magic = Magic
	h.PageSize = uint64(pageSize)
	h.Flags = 0
	h.MapSize = mapSize
}

// validateHeaderPage checks page 0 and returns its dbHead.
func validateHeaderPage(data []byte) (*dbHead, error) {
	p := page{data: data}
	if p.header().Flags&pageHead == 0 {
		return nil, Errorf(ErrCorrupted, "page 0 is not a header page")
	}
	h := headOf(data)
	if h.Magic != Magic {
		return nil, Errorf(ErrInvalidMagic, "got %#x", h.Magic)
	}
	if h.Version > Version {
		return nil, Errorf(ErrInvalidVersion, "got %d, supported %d", h.Version, Version)
	}
	if h.PageSize < MinPageSize || h.PageSize > MaxPageSize {
		return nil, Errorf(ErrCorrupted, "bad page size %d", h.PageSize)
	}
	return h, nil
}

// initMetaPage fills buf (one page) with an empty-tree meta page.
func initMetaPage(buf []byte, pn pgno, pageSize int) {
	p := page{data: buf}
	p.init(pn, pageMeta, pageSize)
	m := metaOf(buf)
	m.Stat = Stat{PageSize: uint64(pageSize)}
	m.Root = pInvalid
	m.LastPage = MetaPageNo2
	m.LastTxnID = 0
}

// validateMetaPage checks a meta page and returns its metaData.
func validateMetaPage(data []byte, pn pgno) (*metaData, error) {
	p := page{data: data}
	h := p.header()
	if h.Flags&pageMeta == 0 {
		return nil, Errorf(ErrInvalidPageType, "page %d is not a meta page", pn)
	}
	if h.PageNo != pn {
		return nil, Errorf(ErrCorrupted, "meta page %d claims to be page %d", pn, h.PageNo)
	}
	return metaOf(data), nil
}

// chooseMeta picks the authoritative meta of the two and the page
// number the next commit writes to. Ties (a fresh database) resolve to
// the first meta page.
func chooseMeta(m1, m2 *metaData) (current *metaData, togglePgno pgno) {
	if m2.LastTxnID > m1.LastTxnID {
		return m2, MetaPageNo1
	}
	return m1, MetaPageNo2
}
