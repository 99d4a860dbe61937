package beefdb

import (
	"os"
	"sync"

	"github.com/beefdb/beefdb/internal/fastmap"
)

// cachedPID is the process ID, cached at init to avoid syscall overhead.
var cachedPID = uint32(os.Getpid())

// readerSlot identifies an active read transaction.
type readerSlot struct {
	pid    uint32
	tid    uint64
	active bool
}

// readerTable is the fixed-size table of reader slots. Slots are
// claimed and released under a short-lived mutex; readers are
// otherwise lock-free on their immutable snapshot.
type readerTable struct {
	mu    sync.Mutex
	slots []readerSlot
}

func newReaderTable(maxReaders int) *readerTable {
	return &readerTable{slots: make([]readerSlot, maxReaders)}
}

// acquire claims a free slot, recording the caller's identity.
func (rt *readerTable) acquire(pid uint32, tid uint64) (int, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i := range rt.slots {
		if !rt.slots[i].active {
			rt.slots[i] = readerSlot{pid: pid, tid: tid, active: true}
			return i, nil
		}
	}
	return -1, Errorf(ErrReadersMaxedOut, "%d slots in use", len(rt.slots))
}

// release frees a slot.
func (rt *readerTable) release(i int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if i >= 0 && i < len(rt.slots) {
		rt.slots[i] = readerSlot{}
	}
}

// numActive returns the number of claimed slots.
func (rt *readerTable) numActive() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	n := 0
	for i := range rt.slots {
		if rt.slots[i].active {
			n++
		}
	}
	return n
}

// Txn is a transaction: a snapshot view of the tree. A write
// transaction owns the dirty FIFO and holds the environment's writer
// mutex for its whole lifetime; a read transaction owns a reader slot
// and touches no locks after begin.
type Txn struct {
	env   *Env
	id    uint32
	flags txnFlags

	root      pgno // snapshot root; moves under copy-on-write
	nextPgno  pgno // next page number to allocate
	firstPgno pgno // boundary between clean mmap pages and dirty scratch

	stat    Stat   // writer's working copy of the tree statistics
	mapData []byte // data map captured at begin

	// writer state
	dirty    []*dirtyPage // FIFO, in commit write order
	dirtyIdx fastmap.Uint64Map

	// reader state
	readerSlot int

	done bool
}

// BeginTxn starts a transaction. At most one write transaction exists
// at a time; beginning one blocks until the writer mutex is free.
// Read transactions claim a reader slot and fail with
// ErrReadersMaxedOut when the table is full.
func (e *Env) BeginTxn(readOnly bool) (*Txn, error) {
	e.mu.RLock()
	opened := e.opened
	e.mu.RUnlock()
	if !opened {
		return nil, NewError(ErrUnmappedEnv)
	}

	if readOnly {
		slot, err := e.readers.acquire(cachedPID, threadID())
		if err != nil {
			return nil, err
		}

		e.mu.RLock()
		meta := e.meta
		mapData := e.dataMap.Data()
		e.mu.RUnlock()

		return &Txn{
			env:        e,
			id:         meta.LastTxnID,
			flags:      txnReadOnly,
			root:       meta.Root,
			nextPgno:   meta.LastPage + 1,
			firstPgno:  meta.LastPage + 1,
			stat:       meta.Stat,
			mapData:    mapData,
			readerSlot: slot,
		}, nil
	}

	if e.ReadOnly() {
		return nil, NewError(ErrReadOnlyEnv)
	}

	e.writeMu.Lock()

	e.mu.Lock()
	// Re-read the meta pages: the previous commit may have come from
	// this process or (with the file shared) another one.
	if err := e.readMeta(); err != nil {
		e.mu.Unlock()
		e.writeMu.Unlock()
		return nil, err
	}
	meta := e.meta
	mapData := e.dataMap.Data()
	e.mu.Unlock()

	txn := &Txn{
		env:        e,
		id:         meta.LastTxnID + 1,
		root:       meta.Root,
		nextPgno:   meta.LastPage + 1,
		firstPgno:  meta.LastPage + 1,
		stat:       meta.Stat,
		mapData:    mapData,
		readerSlot: -1,
	}
	e.writer = txn

	e.log.V(1).Info("begin write transaction", "id", txn.id, "root", txn.root)
	return txn, nil
}

// ID returns the transaction id: for writers the id the commit will
// publish, for readers the id of the snapshot.
func (txn *Txn) ID() uint32 {
	return txn.id
}

// IsReadOnly returns true for read transactions.
func (txn *Txn) IsReadOnly() bool {
	return txn.flags&txnReadOnly != 0
}

// Broken returns true once the transaction has observed an internal
// error; only Abort is useful then.
func (txn *Txn) Broken() bool {
	return txn.flags&txnBroken != 0
}

// markBroken transitions the transaction to the broken state.
func (txn *Txn) markBroken(err error) error {
	if txn.flags&txnBroken == 0 {
		txn.flags |= txnBroken
		txn.env.log.Error(err, "transaction broken", "id", txn.id)
	}
	return err
}

// Commit makes the transaction's changes durable: every dirty page is
// written at its assigned offset and synced before the meta toggle
// page is written and synced. The meta write is the linearization
// point; a crash before it leaves the previous state authoritative.
//
// Committing a read transaction just releases its slot. Committing a
// broken transaction degrades to Abort.
func (txn *Txn) Commit() error {
	if txn.done {
		return NewError(ErrBrokenTxn)
	}
	if txn.IsReadOnly() {
		txn.finishReader()
		return nil
	}
	if txn.Broken() {
		txn.Abort()
		return NewError(ErrBrokenTxn)
	}

	e := txn.env
	if len(txn.dirty) == 0 {
		// nothing to publish
		txn.finishWriter()
		return nil
	}

	ps := e.pageSize
	for _, dp := range txn.dirty {
		h := dp.page.header()
		h.Flags &^= pageDirty
		off := int64(h.PageNo) * int64(ps)
		n, err := e.file.WriteAt(dp.page.data, off)
		if err != nil {
			txn.markBroken(WrapError(ErrIO, err))
			txn.Abort()
			return NewError(ErrBrokenTxn)
		}
		if n < len(dp.page.data) {
			txn.markBroken(Errorf(ErrShortWrite, "page %d: %d of %d bytes", h.PageNo, n, len(dp.page.data)))
			txn.Abort()
			return NewError(ErrBrokenTxn)
		}
	}
	if err := e.file.Sync(); err != nil {
		txn.markBroken(WrapError(ErrIO, err))
		txn.Abort()
		return NewError(ErrBrokenTxn)
	}

	m := metaData{
		Stat:      txn.stat,
		Root:      txn.root,
		LastPage:  txn.nextPgno - 1,
		LastTxnID: txn.id,
	}
	m.Stat.PageSize = uint64(ps)

	e.mu.Lock()
	if err := e.writeMeta(&m); err != nil {
		e.mu.Unlock()
		txn.markBroken(err)
		txn.Abort()
		return NewError(ErrBrokenTxn)
	}
	if err := e.remapIfGrown(); err != nil {
		e.mu.Unlock()
		txn.finishWriter()
		return err
	}
	e.mu.Unlock()

	e.log.V(1).Info("committed", "id", txn.id, "dirtyPages", len(txn.dirty),
		"root", txn.root, "entries", txn.stat.Entries)
	txn.finishWriter()
	return nil
}

// Abort discards the transaction: writers drop their scratch pages and
// release the writer mutex, readers release their slot.
func (txn *Txn) Abort() {
	if txn.done {
		return
	}
	if txn.IsReadOnly() {
		txn.finishReader()
		return
	}
	txn.finishWriter()
}

func (txn *Txn) finishReader() {
	txn.env.readers.release(txn.readerSlot)
	txn.readerSlot = -1
	txn.done = true
}

func (txn *Txn) finishWriter() {
	txn.freeDirty()
	txn.env.writer = nil
	txn.done = true
	txn.env.writeMu.Unlock()
}

// Stat returns the transaction's view of the tree statistics.
func (txn *Txn) Stat() Stat {
	return txn.stat
}
