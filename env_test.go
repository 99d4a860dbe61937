package beefdb

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestEnv(t *testing.T) *Env {
	t.Helper()
	dir := t.TempDir()
	env := NewEnv()
	if err := env.Open(filepath.Join(dir, "test.bdb"), ReadWrite|Create, 0644); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(env.Close)
	return env
}

func TestOpenCreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.bdb")

	env := NewEnv()
	if err := env.Open(path, ReadWrite|Create, 0644); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if env.Path() != path {
		t.Fatalf("Path %q, want %q", env.Path(), path)
	}
	if env.PageSize() != DefaultPageSize {
		t.Fatalf("PageSize %d", env.PageSize())
	}
	st := env.Stat()
	if st.Entries != 0 || st.Depth != 0 {
		t.Fatalf("fresh stat %+v", st)
	}
	if env.LastTxnID() != 0 {
		t.Fatalf("fresh LastTxnID %d", env.LastTxnID())
	}
	env.Close()

	// the file must hold header plus both metas
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() < 3*DefaultPageSize {
		t.Fatalf("file size %d, want at least %d", fi.Size(), 3*DefaultPageSize)
	}
}

func TestOpenFlagValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.bdb")

	cases := []uint32{
		0,
		ReadOnly | ReadWrite,
		ReadOnly | Create,
	}
	for _, flags := range cases {
		env := NewEnv()
		if err := env.Open(path, flags, 0644); Code(err) != ErrInvalidFlag {
			t.Fatalf("flags %#x: want ErrInvalidFlag, got %v", flags, err)
		}
	}
}

func TestOpenEmptyFileWithoutCreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.bdb")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	env := NewEnv()
	if err := env.Open(path, ReadWrite, 0644); Code(err) != ErrEmptyFile {
		t.Fatalf("want ErrEmptyFile, got %v", err)
	}
}

func TestOpenRejectsForeignFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.bdb")
	junk := make([]byte, DefaultPageSize)
	p := page{data: junk}
	p.init(0, pageHead, DefaultPageSize)
	headOf(junk).Magic = 0x12345678
	if err := os.WriteFile(path, junk, 0644); err != nil {
		t.Fatal(err)
	}

	env := NewEnv()
	if err := env.Open(path, ReadWrite, 0644); Code(err) != ErrInvalidMagic {
		t.Fatalf("want ErrInvalidMagic, got %v", err)
	}
}

func TestReopenAdoptsStoredPageSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.bdb")

	env := NewEnv()
	if err := env.SetPageSize(8192); err != nil {
		t.Fatal(err)
	}
	if err := env.Open(path, ReadWrite|Create, 0644); err != nil {
		t.Fatal(err)
	}
	env.Close()

	// reopen with the default: the stored size must win
	env2 := NewEnv()
	if err := env2.Open(path, ReadWrite, 0644); err != nil {
		t.Fatal(err)
	}
	defer env2.Close()
	if env2.PageSize() != 8192 {
		t.Fatalf("PageSize %d, want 8192", env2.PageSize())
	}
}

func TestSetPageSizeValidation(t *testing.T) {
	env := NewEnv()
	for _, s := range []int{0, 100, 1000, MaxPageSize * 2} {
		if err := env.SetPageSize(s); Code(err) != ErrInvalidFlag {
			t.Fatalf("size %d: want ErrInvalidFlag, got %v", s, err)
		}
	}
	if err := env.SetPageSize(4096); err != nil {
		t.Fatal(err)
	}
}

func TestReadOnlyOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.bdb")

	env := NewEnv()
	if err := env.Open(path, ReadWrite|Create, 0644); err != nil {
		t.Fatal(err)
	}
	if err := env.Put([]byte("k"), []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	env.Close()

	ro := NewEnv()
	if err := ro.Open(path, ReadOnly, 0644); err != nil {
		t.Fatal(err)
	}
	defer ro.Close()

	v, err := ro.Get([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "v" {
		t.Fatalf("got %q", v)
	}
	if _, err := ro.BeginTxn(false); Code(err) != ErrReadOnlyEnv {
		t.Fatalf("want ErrReadOnlyEnv, got %v", err)
	}
}

func TestEnvHelpers(t *testing.T) {
	env := newTestEnv(t)

	if err := env.Put([]byte("a"), []byte("1"), 0); err != nil {
		t.Fatal(err)
	}
	v, err := env.Get([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "1" {
		t.Fatalf("got %q", v)
	}

	if err := env.Del([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Get([]byte("a")); !IsNotFound(err) {
		t.Fatalf("want ErrKeyNotFound, got %v", err)
	}
	if err := env.Del([]byte("a")); !IsNotFound(err) {
		t.Fatalf("want ErrKeyNotFound, got %v", err)
	}
}
