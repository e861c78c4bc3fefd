package config

import "testing"

func TestAllocSize_PowersOfTwo(t *testing.T) {
	want := MinAllocSize
	for i := 0; i < NofAllocSizes; i++ {
		if got := AllocSize(i); got != want {
			t.Fatalf("AllocSize(%d) = %d, want %d", i, got, want)
		}
		want *= 2
	}
}

func TestSizeClassFor_SmallestFit(t *testing.T) {
	cases := []struct {
		size      int
		wantClass int
		wantOK    bool
	}{
		{1, 0, true},
		{MinAllocSize, 0, true},
		{MinAllocSize + 1, 1, true},
		{MaxAllocSize, NofAllocSizes - 1, true},
		{MaxAllocSize + 1, -1, false},
	}
	for _, c := range cases {
		class, ok := SizeClassFor(c.size)
		if ok != c.wantOK || (ok && class != c.wantClass) {
			t.Errorf("SizeClassFor(%d) = (%d, %v), want (%d, %v)", c.size, class, ok, c.wantClass, c.wantOK)
		}
	}
}

func TestSizeClassFor_MonotonicClassSize(t *testing.T) {
	class, ok := SizeClassFor(100)
	if !ok {
		t.Fatalf("SizeClassFor(100) unexpectedly bypassed the slab")
	}
	if AllocSize(class) < 100 {
		t.Fatalf("class %d unit size %d smaller than requested 100", class, AllocSize(class))
	}
}
