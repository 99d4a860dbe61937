package beefdb

import (
	"bytes"
	"os"
	"sync"

	"github.com/go-logr/logr"

	"github.com/beefdb/beefdb/mmap"
	"github.com/beefdb/beefdb/spill"
)

// Env is the process-wide handle to one database file: it owns the
// file, the memory mapping, the writer mutex and the reader table.
type Env struct {
	mu sync.RWMutex // guards open state, meta copy and map swaps

	path       string
	flags      uint32
	pageSize   int
	maxReaders int
	cmp        CmpFunc
	log        logr.Logger

	file    *os.File
	dataMap *mmap.Map

	// Old mappings are kept alive until Close: a reader that captured
	// a map pointer before a remap may still be using it.
	oldMaps []*mmap.Map

	head       dbHead
	meta       metaData // authoritative meta, updated on commit
	togglePgno pgno     // meta page the next commit writes

	// The writer mutex; held for the whole write-transaction lifetime.
	writeMu sync.Mutex
	writer  *Txn

	readers *readerTable

	spillBuf *spill.Buffer
	opened   bool
}

// NewEnv creates an environment handle. It must be opened with Open
// before use.
func NewEnv() *Env {
	return &Env{
		pageSize:   DefaultPageSize,
		maxReaders: MaxReaders,
		cmp:        defaultCmp,
		log:        logr.Discard(),
	}
}

// defaultCmp is unsigned lexicographic comparison.
func defaultCmp(a, b []byte) int {
	return bytes.Compare(a, b)
}

// SetPageSize overrides the page size for newly created databases.
// Must be called before Open.
func (e *Env) SetPageSize(size int) error {
	if e.opened {
		return NewError(ErrInvalidFlag)
	}
	if size < MinPageSize || size > MaxPageSize || size&(size-1) != 0 {
		return Errorf(ErrInvalidFlag, "page size %d", size)
	}
	e.pageSize = size
	return nil
}

// SetMaxReaders overrides the reader table size. Must be called before
// Open.
func (e *Env) SetMaxReaders(n int) error {
	if e.opened || n <= 0 {
		return NewError(ErrInvalidFlag)
	}
	e.maxReaders = n
	return nil
}

// SetCmpFunc overrides the key comparator. Must be used consistently
// over the database's whole lifetime. Must be called before Open.
func (e *Env) SetCmpFunc(cmp CmpFunc) error {
	if e.opened || cmp == nil {
		return NewError(ErrInvalidFlag)
	}
	e.cmp = cmp
	return nil
}

// SetLogger installs a logger for diagnostics. The default discards
// everything.
func (e *Env) SetLogger(log logr.Logger) {
	e.log = log
}

// Path returns the data file path.
func (e *Env) Path() string {
	return e.path
}

// PageSize returns the page size of the open database.
func (e *Env) PageSize() int {
	return e.pageSize
}

// Stat returns the tree statistics of the last committed state.
func (e *Env) Stat() Stat {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.meta.Stat
}

// LastTxnID returns the id of the most recent committed transaction.
func (e *Env) LastTxnID() uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.meta.LastTxnID
}

// ReadOnly returns true if the environment was opened read-only.
func (e *Env) ReadOnly() bool {
	return e.flags&ReadOnly != 0
}

// Open opens the database file at path. flags must contain exactly one
// of ReadOnly or ReadWrite, optionally combined with Create. mode is
// the permission for a newly created file.
func (e *Env) Open(path string, flags uint32, mode os.FileMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.opened {
		return NewError(ErrInvalidFlag)
	}
	ro := flags&ReadOnly != 0
	rw := flags&ReadWrite != 0
	if ro == rw {
		return Errorf(ErrInvalidFlag, "open flags %#x", flags)
	}
	if ro && flags&Create != 0 {
		return Errorf(ErrInvalidFlag, "cannot create a read-only database")
	}

	fileFlags := os.O_RDWR
	if ro {
		fileFlags = os.O_RDONLY
	}
	if flags&Create != 0 {
		fileFlags |= os.O_CREATE
	}

	f, err := os.OpenFile(path, fileFlags, mode)
	if err != nil {
		return WrapError(ErrIO, err)
	}
	e.file = f
	e.path = path
	e.flags = flags

	if err := e.readHeader(); err != nil {
		if Code(err) != ErrEmptyFile || flags&Create == 0 {
			e.closeFiles()
			return err
		}
		if err := e.initNewDB(); err != nil {
			e.closeFiles()
			return err
		}
		if err := e.readHeader(); err != nil {
			e.closeFiles()
			return err
		}
	}

	fi, err := f.Stat()
	if err != nil {
		e.closeFiles()
		return WrapError(ErrIO, err)
	}

	dm, err := mmap.New(int(f.Fd()), 0, int(fi.Size()), false)
	if err != nil {
		e.closeFiles()
		return WrapError(ErrUnmappedEnv, err)
	}
	e.dataMap = dm
	dm.AdviseRandom()

	if err := e.readMeta(); err != nil {
		e.closeFiles()
		return err
	}

	e.readers = newReaderTable(e.maxReaders)

	if !ro {
		buf, err := spill.New(path+".spill", uint32(e.pageSize), spill.DefaultInitialCap)
		if err != nil {
			e.closeFiles()
			return WrapError(ErrIO, err)
		}
		e.spillBuf = buf
	}

	e.opened = true
	e.log.V(1).Info("opened database", "path", path, "pageSize", e.pageSize,
		"root", e.meta.Root, "lastTxnID", e.meta.LastTxnID)
	return nil
}

// readHeader reads and validates page 0.
func (e *Env) readHeader() error {
	buf := make([]byte, e.pageSize)
	n, err := e.file.ReadAt(buf, 0)
	if err != nil && n == 0 {
		fi, serr := e.file.Stat()
		if serr == nil && fi.Size() == 0 {
			return NewError(ErrEmptyFile)
		}
		return WrapError(ErrIO, err)
	}
	// Creation-time page size wins over the configured one.
	if n >= pageHeaderSize+dbHeadSize {
		h := headOf(buf)
		if h.Magic == Magic && h.PageSize >= MinPageSize && h.PageSize <= MaxPageSize && int(h.PageSize) != e.pageSize {
			e.pageSize = int(h.PageSize)
			return e.readHeader()
		}
	}
	if n < e.pageSize {
		return Errorf(ErrShortRead, "header page: %d of %d bytes", n, e.pageSize)
	}

	hd, err := validateHeaderPage(buf)
	if err != nil {
		return err
	}
	e.head = *hd
	return nil
}

// initNewDB writes the header page and the two initial meta pages of
// an empty database.
func (e *Env) initNewDB() error {
	ps := e.pageSize
	buf := make([]byte, 3*ps)

	initHeaderPage(buf[:ps], ps, uint64(3*ps))
	initMetaPage(buf[ps:2*ps], MetaPageNo1, ps)
	initMetaPage(buf[2*ps:], MetaPageNo2, ps)

	n, err := e.file.WriteAt(buf, 0)
	if err != nil {
		return WrapError(ErrIO, err)
	}
	if n < len(buf) {
		return Errorf(ErrShortWrite, "init: %d of %d bytes", n, len(buf))
	}
	if err := e.file.Sync(); err != nil {
		return WrapError(ErrIO, err)
	}
	e.log.V(1).Info("created new database", "path", e.path, "pageSize", ps)
	return nil
}

// readMeta reads both meta pages and selects the authoritative one;
// the other becomes the next commit's write target. Caller must hold
// e.mu.
func (e *Env) readMeta() error {
	ps := e.pageSize
	data := e.dataMap.Data()
	if len(data) < 3*ps {
		return Errorf(ErrCorrupted, "file too small for meta pages: %d bytes", len(data))
	}

	// A torn or zeroed meta page is survivable: the other copy is the
	// rollback state and becomes authoritative; the bad page is the
	// next commit's write target.
	m1, err1 := validateMetaPage(data[ps:2*ps], MetaPageNo1)
	m2, err2 := validateMetaPage(data[2*ps:3*ps], MetaPageNo2)
	switch {
	case err1 != nil && err2 != nil:
		return WrapError(ErrCorrupted, err1)
	case err1 != nil:
		e.log.V(1).Info("meta page 1 invalid, using rollback copy", "reason", err1.Error())
		e.meta = *m2
		e.togglePgno = MetaPageNo1
	case err2 != nil:
		e.log.V(1).Info("meta page 2 invalid, using rollback copy", "reason", err2.Error())
		e.meta = *m1
		e.togglePgno = MetaPageNo2
	default:
		cur, toggle := chooseMeta(m1, m2)
		e.meta = *cur
		e.togglePgno = toggle
	}
	return nil
}

// writeMeta writes the committed meta to the toggle page and flips the
// toggle. Caller must hold e.mu and have synced the bulk page writes.
func (e *Env) writeMeta(m *metaData) error {
	ps := e.pageSize
	buf := make([]byte, ps)
	p := page{data: buf}
	p.init(e.togglePgno, pageMeta, ps)
	*metaOf(buf) = *m

	off := int64(e.togglePgno) * int64(ps)
	n, err := e.file.WriteAt(buf, off)
	if err != nil {
		return WrapError(ErrIO, err)
	}
	if n < ps {
		return Errorf(ErrShortWrite, "meta page %d: %d of %d bytes", e.togglePgno, n, ps)
	}
	if err := e.file.Sync(); err != nil {
		return WrapError(ErrIO, err)
	}

	e.meta = *m
	if e.togglePgno == MetaPageNo1 {
		e.togglePgno = MetaPageNo2
	} else {
		e.togglePgno = MetaPageNo1
	}
	return nil
}

// remapIfGrown extends the data map after a commit grew the file.
// The old map stays alive for readers that captured it. Caller must
// hold e.mu.
func (e *Env) remapIfGrown() error {
	fi, err := e.file.Stat()
	if err != nil {
		return WrapError(ErrIO, err)
	}
	if fi.Size() <= e.dataMap.Size() {
		return nil
	}

	dm, err := mmap.New(int(e.file.Fd()), 0, int(fi.Size()), false)
	if err != nil {
		return WrapError(ErrUnmappedEnv, err)
	}
	dm.AdviseRandom()
	e.oldMaps = append(e.oldMaps, e.dataMap)
	e.dataMap = dm
	e.log.V(1).Info("remapped data file", "size", fi.Size())
	return nil
}

// getPage resolves a page number to a page view. With an active write
// transaction, numbers at or past the transaction's first page resolve
// through the dirty FIFO; everything else is a slice of the memory
// map. Overflow heads yield a view spanning the whole run.
func (e *Env) getPage(pn pgno, txn *Txn) (*page, error) {
	if txn != nil && txn.flags&txnReadOnly == 0 && pn >= txn.firstPgno {
		dp := txn.dirtyOf(pn)
		if dp == nil {
			return nil, Errorf(ErrPageNotFound, "dirty page %d", pn)
		}
		return dp.page, nil
	}

	var data []byte
	if txn != nil {
		data = txn.mapData
	} else {
		e.mu.RLock()
		if e.dataMap != nil {
			data = e.dataMap.Data()
		}
		e.mu.RUnlock()
	}
	if data == nil {
		return nil, NewError(ErrUnmappedEnv)
	}

	ps := e.pageSize
	off := int(pn) * ps
	if pn == pInvalid || off < 0 || off+ps > len(data) {
		return nil, Errorf(ErrPageNotFound, "page %d beyond mapped %d bytes", pn, len(data))
	}

	view := data[off : off+ps]
	vp := page{data: view}
	hdr := vp.header()
	if hdr.Flags&pageOverflow != 0 {
		span := (1 + int(hdr.OverflowPages)) * ps
		if off+span > len(data) {
			return nil, Errorf(ErrPageNotFound, "overflow run at page %d beyond mapped %d bytes", pn, len(data))
		}
		view = data[off : off+span]
	}
	return &page{data: view}, nil
}

// closeFiles releases everything opened so far. Caller must hold e.mu.
func (e *Env) closeFiles() {
	if e.spillBuf != nil {
		e.spillBuf.Close(true)
		e.spillBuf = nil
	}
	if e.dataMap != nil {
		e.dataMap.Close()
		e.dataMap = nil
	}
	for _, m := range e.oldMaps {
		m.Close()
	}
	e.oldMaps = nil
	if e.file != nil {
		e.file.Close()
		e.file = nil
	}
}

// Close closes the environment and releases all resources. It is the
// caller's responsibility to finish transactions first.
func (e *Env) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.opened {
		return
	}
	e.opened = false
	e.closeFiles()
	e.log.V(1).Info("closed database", "path", e.path)
}

// Put is a convenience wrapper running a single-operation write
// transaction.
func (e *Env) Put(key, val []byte, opFlags uint32) error {
	txn, err := e.BeginTxn(false)
	if err != nil {
		return err
	}
	if err := txn.Put(key, val, opFlags); err != nil {
		txn.Abort()
		return err
	}
	return txn.Commit()
}

// Del is a convenience wrapper running a single-operation write
// transaction.
func (e *Env) Del(key []byte) error {
	txn, err := e.BeginTxn(false)
	if err != nil {
		return err
	}
	if err := txn.Del(key); err != nil {
		txn.Abort()
		return err
	}
	return txn.Commit()
}

// Get returns the value for a key from the latest committed state.
// The returned slice points into the memory map and must not be
// modified; it stays valid until the environment is closed.
func (e *Env) Get(key []byte) ([]byte, error) {
	c := e.NewCursor()
	return c.Get(key, nil)
}
