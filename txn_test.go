package beefdb

import (
	"fmt"
	"testing"
)

func TestBeginCommitAbort(t *testing.T) {
	env := newTestEnv(t)

	txn, err := env.BeginTxn(false)
	if err != nil {
		t.Fatal(err)
	}
	if txn.IsReadOnly() {
		t.Fatal("write txn claims read-only")
	}
	if txn.ID() != 1 {
		t.Fatalf("first write txn id %d, want 1", txn.ID())
	}
	if err := txn.Put([]byte("alpha"), []byte("1"), 0); err != nil {
		t.Fatal(err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}
	if env.LastTxnID() != 1 {
		t.Fatalf("LastTxnID %d, want 1", env.LastTxnID())
	}

	// an aborted transaction leaves no trace
	txn, err = env.BeginTxn(false)
	if err != nil {
		t.Fatal(err)
	}
	if err := txn.Put([]byte("beta"), []byte("2"), 0); err != nil {
		t.Fatal(err)
	}
	txn.Abort()

	if _, err := env.Get([]byte("beta")); !IsNotFound(err) {
		t.Fatalf("aborted key visible: %v", err)
	}
	if v, err := env.Get([]byte("alpha")); err != nil || string(v) != "1" {
		t.Fatalf("committed key lost: %q, %v", v, err)
	}
	if env.LastTxnID() != 1 {
		t.Fatalf("LastTxnID %d after abort, want 1", env.LastTxnID())
	}
}

func TestEmptyCommit(t *testing.T) {
	env := newTestEnv(t)
	txn, err := env.BeginTxn(false)
	if err != nil {
		t.Fatal(err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}
	if env.LastTxnID() != 0 {
		t.Fatalf("empty commit bumped LastTxnID to %d", env.LastTxnID())
	}

	// the writer mutex must be free again
	txn, err = env.BeginTxn(false)
	if err != nil {
		t.Fatal(err)
	}
	txn.Abort()
}

func TestPutInReadOnlyTxn(t *testing.T) {
	env := newTestEnv(t)
	txn, err := env.BeginTxn(true)
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Abort()

	if err := txn.Put([]byte("k"), []byte("v"), 0); Code(err) != ErrReadOnlyTxn {
		t.Fatalf("want ErrReadOnlyTxn, got %v", err)
	}
	if err := txn.Del([]byte("k")); Code(err) != ErrReadOnlyTxn {
		t.Fatalf("want ErrReadOnlyTxn, got %v", err)
	}
}

func TestReadersMaxedOut(t *testing.T) {
	dir := t.TempDir()
	env := NewEnv()
	if err := env.SetMaxReaders(4); err != nil {
		t.Fatal(err)
	}
	if err := env.Open(dir+"/test.bdb", ReadWrite|Create, 0644); err != nil {
		t.Fatal(err)
	}
	defer env.Close()

	var readers []*Txn
	for i := 0; i < 4; i++ {
		txn, err := env.BeginTxn(true)
		if err != nil {
			t.Fatalf("reader %d: %v", i, err)
		}
		readers = append(readers, txn)
	}

	if _, err := env.BeginTxn(true); Code(err) != ErrReadersMaxedOut {
		t.Fatalf("want ErrReadersMaxedOut, got %v", err)
	}

	// releasing a slot makes room again
	readers[0].Abort()
	txn, err := env.BeginTxn(true)
	if err != nil {
		t.Fatal(err)
	}
	txn.Abort()

	for _, r := range readers[1:] {
		r.Abort()
	}
	if n := env.readers.numActive(); n != 0 {
		t.Fatalf("%d reader slots leaked", n)
	}
}

func TestKeyExistAndOverwrite(t *testing.T) {
	env := newTestEnv(t)

	if err := env.Put([]byte("k"), []byte("v1"), 0); err != nil {
		t.Fatal(err)
	}
	if err := env.Put([]byte("k"), []byte("v1"), 0); !IsKeyExist(err) {
		t.Fatalf("want ErrKeyExist, got %v", err)
	}
	if err := env.Put([]byte("k"), []byte("v2"), KOverwrite); err != nil {
		t.Fatal(err)
	}

	v, err := env.Get([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "v2" {
		t.Fatalf("got %q, want v2", v)
	}
	if n := env.Stat().Entries; n != 1 {
		t.Fatalf("entries %d, want 1", n)
	}
}

func TestInvalidKeys(t *testing.T) {
	env := newTestEnv(t)
	txn, err := env.BeginTxn(false)
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Abort()

	if err := txn.Put(nil, []byte("v"), 0); Code(err) != ErrInvalidKey {
		t.Fatalf("nil key: %v", err)
	}
	if err := txn.Put([]byte{}, []byte("v"), 0); Code(err) != ErrInvalidKey {
		t.Fatalf("empty key: %v", err)
	}
	long := make([]byte, MaxKeySize)
	if err := txn.Put(long, []byte("v"), 0); Code(err) != ErrInvalidKey {
		t.Fatalf("long key: %v", err)
	}
	if err := txn.Put([]byte("k"), nil, 0); Code(err) != ErrInvalidKey {
		t.Fatalf("nil value: %v", err)
	}

	// the longest legal key works
	almost := make([]byte, MaxKeySize-1)
	for i := range almost {
		almost[i] = 'x'
	}
	if err := txn.Put(almost, []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 8; i++ {
		if err := env.Put([]byte(fmt.Sprintf("base%03d", i)), []byte("s"), 0); err != nil {
			t.Fatal(err)
		}
	}

	// reader R pins snapshot S
	r, err := env.BeginTxn(true)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Abort()

	// writer W inserts 1024 keys and commits
	w, err := env.BeginTxn(false)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 1024; i++ {
		if err := w.Put([]byte(fmt.Sprintf("new%06d", i)), []byte("w"), 0); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Commit(); err != nil {
		t.Fatal(err)
	}

	// R still enumerates exactly S's keys
	c := env.NewCursor()
	if err := c.Init(r); err != nil {
		t.Fatal(err)
	}
	count := 0
	for {
		k, _, err := c.Next(r)
		if IsEOF(err) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if string(k[:4]) == "new0" {
			t.Fatalf("reader sees post-snapshot key %q", k)
		}
		count++
	}
	if count != 8 {
		t.Fatalf("reader enumerated %d keys, want 8", count)
	}

	// stability: the same get twice returns identical bytes
	v1, err := r.Get([]byte("base000"))
	if err != nil {
		t.Fatal(err)
	}
	v2, err := r.Get([]byte("base000"))
	if err != nil {
		t.Fatal(err)
	}
	if &v1[0] != &v2[0] || string(v1) != string(v2) {
		t.Fatal("snapshot reads not stable")
	}

	// a fresh reader sees the new state
	r2, err := env.BeginTxn(true)
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Abort()
	if _, err := r2.Get([]byte("new000000")); err != nil {
		t.Fatalf("fresh reader misses committed key: %v", err)
	}
}

func TestWriterSeesOwnDirtyPages(t *testing.T) {
	env := newTestEnv(t)
	txn, err := env.BeginTxn(false)
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Abort()

	if err := txn.Put([]byte("k"), []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	v, err := txn.Get([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "v" {
		t.Fatalf("got %q", v)
	}
}

func TestBrokenTxnRejectsCommit(t *testing.T) {
	env := newTestEnv(t)
	txn, err := env.BeginTxn(false)
	if err != nil {
		t.Fatal(err)
	}
	if err := txn.Put([]byte("k"), []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	txn.flags |= txnBroken

	if err := txn.Put([]byte("k2"), []byte("v"), 0); Code(err) != ErrBrokenTxn {
		t.Fatalf("want ErrBrokenTxn, got %v", err)
	}
	if err := txn.Commit(); Code(err) != ErrBrokenTxn {
		t.Fatalf("commit of broken txn: %v", err)
	}
	// the commit degraded to abort: nothing became visible, the tree is
	// still empty
	if _, err := env.Get([]byte("k")); Code(err) != ErrEmptyTree {
		t.Fatalf("broken txn leaked data: %v", err)
	}
}

func TestUsingFinishedTxn(t *testing.T) {
	env := newTestEnv(t)
	txn, err := env.BeginTxn(false)
	if err != nil {
		t.Fatal(err)
	}
	txn.Abort()

	if err := txn.Put([]byte("k"), []byte("v"), 0); Code(err) != ErrBrokenTxn {
		t.Fatalf("put on finished txn: %v", err)
	}
	if _, err := txn.Get([]byte("k")); Code(err) != ErrBrokenTxn {
		t.Fatalf("get on finished txn: %v", err)
	}
	if err := txn.Commit(); Code(err) != ErrBrokenTxn {
		t.Fatalf("commit on finished txn: %v", err)
	}
	// double abort is a no-op
	txn.Abort()
}
