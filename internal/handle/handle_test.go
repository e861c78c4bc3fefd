package handle

import (
	"testing"

	"github.com/kdart/procshare/internal/region"
)

func newTestTable(t *testing.T) (*Table, *region.Registry, func()) {
	t.Helper()
	reg := region.NewRegistry()
	tbl := NewTable(func(regionIndex int32) (region.Handle, error) {
		row, ok := reg.Lookup(int(regionIndex))
		if !ok {
			t.Fatalf("resolver: unknown region index %d", regionIndex)
		}
		return row.Handle, nil
	})
	return tbl, reg, func() {}
}

func addRegion(t *testing.T, reg *region.Registry, size int) (int32, *region.Region) {
	t.Helper()
	r, err := region.New(size)
	if err != nil {
		t.Fatalf("region.New: %v", err)
	}
	idx, err := reg.Add(r.Handle())
	if err != nil {
		t.Fatalf("reg.Add: %v", err)
	}
	return int32(idx), r
}

func TestTable_ToPointerAttachesLazily(t *testing.T) {
	tbl, reg, cleanup := newTestTable(t)
	defer cleanup()

	idx, r := addRegion(t, reg, 4096)
	defer r.Destroy()

	h := Handle{RegionIndex: idx, Offset: 8}
	addr, err := tbl.ToPointer(h)
	if err != nil {
		t.Fatalf("ToPointer: %v", err)
	}
	if addr != r.Addr()+8 {
		t.Fatalf("ToPointer = %x, want %x", addr, r.Addr()+8)
	}
}

func TestTable_ToPointerNullIsZero(t *testing.T) {
	tbl, _, cleanup := newTestTable(t)
	defer cleanup()

	addr, err := tbl.ToPointer(Null)
	if err != nil {
		t.Fatalf("ToPointer(Null): %v", err)
	}
	if addr != 0 {
		t.Fatalf("ToPointer(Null) = %x, want 0", addr)
	}
}

func TestTable_ToHandleRoundTrip(t *testing.T) {
	tbl, reg, cleanup := newTestTable(t)
	defer cleanup()

	idx, r := addRegion(t, reg, 4096)
	defer r.Destroy()

	h := Handle{RegionIndex: idx, Offset: 64}
	addr, err := tbl.ToPointer(h)
	if err != nil {
		t.Fatalf("ToPointer: %v", err)
	}
	back, err := tbl.ToHandle(addr)
	if err != nil {
		t.Fatalf("ToHandle: %v", err)
	}
	if back != h {
		t.Fatalf("ToHandle(ToPointer(h)) = %+v, want %+v", back, h)
	}
}

func TestTable_ToHandleAcrossMultipleRegions(t *testing.T) {
	tbl, reg, cleanup := newTestTable(t)
	defer cleanup()

	var regions []*region.Region
	var handles []Handle
	for i := 0; i < 8; i++ {
		idx, r := addRegion(t, reg, 4096)
		regions = append(regions, r)
		addr, err := tbl.ToPointer(Handle{RegionIndex: idx, Offset: uintptr(i)})
		if err != nil {
			t.Fatalf("ToPointer #%d: %v", i, err)
		}
		handles = append(handles, Handle{RegionIndex: idx, Offset: uintptr(i)})
		back, err := tbl.ToHandle(addr)
		if err != nil {
			t.Fatalf("ToHandle #%d: %v", i, err)
		}
		if back != handles[i] {
			t.Fatalf("region #%d: ToHandle = %+v, want %+v", i, back, handles[i])
		}
	}
	for _, r := range regions {
		defer r.Destroy()
	}
}

func TestTable_ToHandleUnknownAddressFails(t *testing.T) {
	tbl, _, cleanup := newTestTable(t)
	defer cleanup()

	if _, err := tbl.ToHandle(0xdeadbeef); err == nil {
		t.Fatal("ToHandle of an address from no attached region should fail")
	}
}

func TestTable_DetachRemovesMapping(t *testing.T) {
	tbl, reg, cleanup := newTestTable(t)
	defer cleanup()

	idx, r := addRegion(t, reg, 4096)
	defer r.Destroy()

	addr, err := tbl.ToPointer(Handle{RegionIndex: idx, Offset: 0})
	if err != nil {
		t.Fatalf("ToPointer: %v", err)
	}
	if err := tbl.Detach(idx); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if _, err := tbl.ToHandle(addr); err == nil {
		t.Fatal("ToHandle should fail once the region is detached")
	}
}
