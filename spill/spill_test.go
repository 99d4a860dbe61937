package spill

import (
	"path/filepath"
	"testing"
)

func newTestBuffer(t *testing.T, pageSize, capPages uint32) *Buffer {
	t.Helper()
	b, err := New(filepath.Join(t.TempDir(), "spill"), pageSize, capPages)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { b.Close(true) })
	return b
}

func TestAllocateSinglePages(t *testing.T) {
	b := newTestBuffer(t, 4096, 8)

	data1, s1, err := b.Allocate(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(data1) != 4096 {
		t.Fatalf("slab length %d", len(data1))
	}
	data2, s2, err := b.Allocate(1)
	if err != nil {
		t.Fatal(err)
	}
	if s1 == s2 {
		t.Fatal("two allocations share a slot")
	}

	// slabs are disjoint
	data1[0] = 0xAA
	data2[0] = 0xBB
	if data1[0] != 0xAA || data2[0] != 0xBB {
		t.Fatal("slabs overlap")
	}

	if b.AllocatedPages() != 2 {
		t.Fatalf("AllocatedPages %d", b.AllocatedPages())
	}
}

func TestAllocateContiguousRun(t *testing.T) {
	b := newTestBuffer(t, 512, 16)

	data, s, err := b.Allocate(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 5*512 {
		t.Fatalf("run length %d", len(data))
	}
	if s.Pages != 5 {
		t.Fatalf("slot pages %d", s.Pages)
	}

	// writing across page boundaries within the run works
	for i := range data {
		data[i] = byte(i)
	}
	for i := range data {
		if data[i] != byte(i) {
			t.Fatalf("corruption at %d", i)
		}
	}
}

func TestRunLargerThanSegment(t *testing.T) {
	b := newTestBuffer(t, 512, 4)

	// a run bigger than the segment capacity gets its own segment
	data, _, err := b.Allocate(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 10*512 {
		t.Fatalf("run length %d", len(data))
	}
}

func TestReleaseAndReuse(t *testing.T) {
	b := newTestBuffer(t, 512, 4)

	_, s1, err := b.Allocate(2)
	if err != nil {
		t.Fatal(err)
	}
	b.Release(s1)
	if b.AllocatedPages() != 0 {
		t.Fatalf("AllocatedPages %d after release", b.AllocatedPages())
	}

	_, s2, err := b.Allocate(2)
	if err != nil {
		t.Fatal(err)
	}
	if s1.SegmentIdx != s2.SegmentIdx || s1.SlotIdx != s2.SlotIdx {
		t.Fatalf("released run not reused: %+v vs %+v", s1, s2)
	}
}

func TestClearReleasesEverything(t *testing.T) {
	b := newTestBuffer(t, 512, 4)

	for i := 0; i < 6; i++ {
		if _, _, err := b.Allocate(1); err != nil {
			t.Fatal(err)
		}
	}
	b.Clear()
	if b.AllocatedPages() != 0 {
		t.Fatalf("AllocatedPages %d after clear", b.AllocatedPages())
	}

	// the first segment is allocatable again
	_, s, err := b.Allocate(1)
	if err != nil {
		t.Fatal(err)
	}
	if s.SegmentIdx != 0 || s.SlotIdx != 0 {
		t.Fatalf("allocation after clear landed at %+v", s)
	}
}

func TestBitmapRuns(t *testing.T) {
	bm := NewBitmap(64)

	a, ok := bm.AllocateRun(10)
	if !ok || a != 0 {
		t.Fatalf("first run at %d, ok %v", a, ok)
	}
	b2, ok := bm.AllocateRun(10)
	if !ok || b2 != 10 {
		t.Fatalf("second run at %d, ok %v", b2, ok)
	}
	if bm.Count() != 20 {
		t.Fatalf("Count %d", bm.Count())
	}

	bm.FreeRun(0, 10)
	if bm.Count() != 10 {
		t.Fatalf("Count %d after free", bm.Count())
	}
	c, ok := bm.AllocateRun(8)
	if !ok || c != 0 {
		t.Fatalf("reuse run at %d, ok %v", c, ok)
	}

	// no run of 60 fits anymore
	if _, ok := bm.AllocateRun(60); ok {
		t.Fatal("oversized run allocated")
	}
}
