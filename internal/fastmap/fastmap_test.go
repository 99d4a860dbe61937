package fastmap

import "testing"

func TestGetSetBasic(t *testing.T) {
	var m Uint64Map

	if m.Get(42) != -1 {
		t.Fatal("empty map returned a value")
	}

	m.Set(42, 7)
	if got := m.Get(42); got != 7 {
		t.Fatalf("Get(42) = %d, want 7", got)
	}
	if m.Len() != 1 {
		t.Fatalf("Len %d", m.Len())
	}

	// overwrite keeps a single entry
	m.Set(42, 9)
	if got := m.Get(42); got != 9 {
		t.Fatalf("Get(42) = %d, want 9", got)
	}
	if m.Len() != 1 {
		t.Fatalf("Len %d after overwrite", m.Len())
	}
}

func TestZeroKey(t *testing.T) {
	var m Uint64Map
	m.Set(0, 5)
	if got := m.Get(0); got != 5 {
		t.Fatalf("Get(0) = %d, want 5", got)
	}
}

func TestSequentialKeysGrow(t *testing.T) {
	var m Uint64Map
	const n = 10000
	for i := uint64(0); i < n; i++ {
		m.Set(i, int(i)*2)
	}
	if m.Len() != n {
		t.Fatalf("Len %d, want %d", m.Len(), n)
	}
	for i := uint64(0); i < n; i++ {
		if got := m.Get(i); got != int(i)*2 {
			t.Fatalf("Get(%d) = %d", i, got)
		}
	}
	if m.Get(n) != -1 {
		t.Fatal("absent key returned a value")
	}
}

func TestClear(t *testing.T) {
	var m Uint64Map
	for i := uint64(0); i < 100; i++ {
		m.Set(i, 1)
	}
	m.Clear()
	if m.Len() != 0 {
		t.Fatalf("Len %d after Clear", m.Len())
	}
	for i := uint64(0); i < 100; i++ {
		if m.Get(i) != -1 {
			t.Fatalf("key %d survived Clear", i)
		}
	}
	// reusable after Clear
	m.Set(5, 50)
	if m.Get(5) != 50 {
		t.Fatal("map unusable after Clear")
	}
}
