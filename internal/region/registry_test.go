package region

import "testing"

func TestRegistry_AddLookupRemove(t *testing.T) {
	reg := NewRegistry()
	h := Handle{FD: 3, Size: 4096}

	idx, err := reg.Add(h)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	row, ok := reg.Lookup(idx)
	if !ok {
		t.Fatalf("Lookup(%d) not found", idx)
	}
	if row.Handle != h {
		t.Fatalf("Lookup(%d) = %+v, want %+v", idx, row.Handle, h)
	}
	if reg.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", reg.Count())
	}

	reg.Remove(idx)
	if _, ok := reg.Lookup(idx); ok {
		t.Fatalf("Lookup(%d) should fail after Remove", idx)
	}
	if reg.Count() != 0 {
		t.Fatalf("Count() = %d, want 0 after Remove", reg.Count())
	}
}

func TestRegistry_SlotReuseAfterRemove(t *testing.T) {
	reg := NewRegistry()
	h1 := Handle{FD: 3, Size: 4096}
	h2 := Handle{FD: 4, Size: 4096}

	idx1, _ := reg.Add(h1)
	reg.Remove(idx1)
	idx2, err := reg.Add(h2)
	if err != nil {
		t.Fatalf("Add after Remove: %v", err)
	}
	row, ok := reg.Lookup(idx2)
	if !ok || row.Handle != h2 {
		t.Fatalf("Lookup(%d) = %+v, %v, want %+v, true", idx2, row.Handle, ok, h2)
	}
}

func TestRegistry_RowsSnapshot(t *testing.T) {
	reg := NewRegistry()
	h1 := Handle{FD: 3, Size: 4096}
	h2 := Handle{FD: 4, Size: 8192}

	i1, _ := reg.Add(h1)
	i2, _ := reg.Add(h2)

	rows := reg.Rows()
	if len(rows) != 2 {
		t.Fatalf("Rows() returned %d entries, want 2", len(rows))
	}
	if rows[i1].Handle != h1 || rows[i2].Handle != h2 {
		t.Fatalf("Rows() contents mismatch: %+v", rows)
	}
}

func TestRegistry_ExhaustionReturnsErrTooManyRegions(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < 64; i++ {
		if _, err := reg.Add(Handle{FD: i + 3, Size: 4096}); err != nil {
			t.Fatalf("Add #%d: %v", i, err)
		}
	}
	if _, err := reg.Add(Handle{FD: 1000, Size: 4096}); err == nil {
		t.Fatal("Add past capacity should fail")
	}
}
