package sharedlist

import (
	"testing"

	"github.com/kdart/procshare/internal/procerr"
)

func TestTuple_NewFixesLength(t *testing.T) {
	tup, _ := newTestTuple(t, []interface{}{int64(1), int64(2), int64(3)})
	if tup.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tup.Len())
	}
}

func TestTuple_GetReturnsElements(t *testing.T) {
	tup, ctx := newTestTuple(t, []interface{}{"a", int64(2), true})
	v0, err := tup.Get(ctx, 0)
	if err != nil {
		t.Fatalf("Get(0): %v", err)
	}
	if v0 != "a" {
		t.Fatalf("Get(0) = %v, want a", v0)
	}
	v2, err := tup.Get(ctx, 2)
	if err != nil {
		t.Fatalf("Get(2): %v", err)
	}
	if v2 != true {
		t.Fatalf("Get(2) = %v, want true", v2)
	}
}

func TestTuple_GetOutOfRangeFails(t *testing.T) {
	tup, ctx := newTestTuple(t, []interface{}{int64(1)})
	if _, err := tup.Get(ctx, 1); err != procerr.ErrIndexOutOfRange {
		t.Fatalf("Get(1) = %v, want ErrIndexOutOfRange", err)
	}
	if _, err := tup.Get(ctx, -1); err != procerr.ErrIndexOutOfRange {
		t.Fatalf("Get(-1) = %v, want ErrIndexOutOfRange", err)
	}
}

func TestTuple_ItemsSnapshotsInOrder(t *testing.T) {
	want := []interface{}{int64(1), "two", int64(3)}
	tup, ctx := newTestTuple(t, want)
	items, err := tup.Items(ctx)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) != len(want) {
		t.Fatalf("Items() = %v, want %v", items, want)
	}
	for i := range want {
		if items[i] != want[i] {
			t.Fatalf("Items()[%d] = %v, want %v", i, items[i], want[i])
		}
	}
}

func TestTuple_HashIsStableAndOrderSensitive(t *testing.T) {
	a, ctx := newTestTuple(t, []interface{}{int64(1), int64(2)})
	b, _ := newTestTuple(t, []interface{}{int64(1), int64(2)})
	c, _ := newTestTuple(t, []interface{}{int64(2), int64(1)})

	ha, err := a.Hash(ctx)
	if err != nil {
		t.Fatalf("Hash(a): %v", err)
	}
	ha2, err := a.Hash(ctx)
	if err != nil {
		t.Fatalf("Hash(a) again: %v", err)
	}
	if ha != ha2 {
		t.Fatalf("Hash is not stable across calls: %d vs %d", ha, ha2)
	}
	hb, err := b.Hash(ctx)
	if err != nil {
		t.Fatalf("Hash(b): %v", err)
	}
	if ha != hb {
		t.Fatalf("equal-content tuples hashed differently: %d vs %d", ha, hb)
	}
	hc, err := c.Hash(ctx)
	if err != nil {
		t.Fatalf("Hash(c): %v", err)
	}
	if ha == hc {
		t.Fatalf("reordered tuples hashed the same: %d", ha)
	}
}

func TestTuple_RichCompareEqualAndNotEqual(t *testing.T) {
	tup, ctx := newTestTuple(t, []interface{}{int64(1), int64(2)})

	eq, err := tup.RichCompare(ctx, "EQ", []interface{}{int64(1), int64(2)})
	if err != nil {
		t.Fatalf("RichCompare(EQ): %v", err)
	}
	if !eq {
		t.Fatal("expected equal tuples to compare EQ true")
	}

	ne, err := tup.RichCompare(ctx, "NE", []interface{}{int64(1), int64(3)})
	if err != nil {
		t.Fatalf("RichCompare(NE): %v", err)
	}
	if !ne {
		t.Fatal("expected differing tuples to compare NE true")
	}
}

func TestTuple_RichCompareOrdering(t *testing.T) {
	tup, ctx := newTestTuple(t, []interface{}{int64(1), int64(2)})

	lt, err := tup.RichCompare(ctx, "LT", []interface{}{int64(1), int64(3)})
	if err != nil {
		t.Fatalf("RichCompare(LT): %v", err)
	}
	if !lt {
		t.Fatal("(1,2) should be LT (1,3)")
	}

	gt, err := tup.RichCompare(ctx, "GT", []interface{}{int64(1), int64(1)})
	if err != nil {
		t.Fatalf("RichCompare(GT): %v", err)
	}
	if !gt {
		t.Fatal("(1,2) should be GT (1,1)")
	}
}

func TestTuple_RichCompareShorterPrefixIsLess(t *testing.T) {
	tup, ctx := newTestTuple(t, []interface{}{int64(1), int64(2)})
	lt, err := tup.RichCompare(ctx, "LT", []interface{}{int64(1), int64(2), int64(3)})
	if err != nil {
		t.Fatalf("RichCompare(LT): %v", err)
	}
	if !lt {
		t.Fatal("(1,2) should be LT (1,2,3), the classic tuple-length tiebreak")
	}
}

func TestTuple_RichCompareAgainstAnotherTuple(t *testing.T) {
	a, ctx := newTestTuple(t, []interface{}{int64(1), int64(2)})
	b, _ := newTestTuple(t, []interface{}{int64(1), int64(2)})
	eq, err := a.RichCompare(ctx, "EQ", b)
	if err != nil {
		t.Fatalf("RichCompare(EQ, *Tuple): %v", err)
	}
	if !eq {
		t.Fatal("equal-content tuples should compare EQ true against each other")
	}
}

func TestTuple_DestroyReleasesElementsAndPayload(t *testing.T) {
	tup, ctx := newTestTuple(t, []interface{}{int64(1), "a"})
	if err := tup.Destroy(ctx, tup.header); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}

func TestTuple_InvokeDispatchesOperations(t *testing.T) {
	tup, ctx := newTestTuple(t, []interface{}{int64(5)})
	v, err := tup.Invoke(ctx, "Get", []interface{}{0})
	if err != nil {
		t.Fatalf("Invoke(Get): %v", err)
	}
	if v != int64(5) {
		t.Fatalf("Invoke(Get) = %v, want 5", v)
	}
	if _, err := tup.Invoke(ctx, "Bogus", nil); err == nil {
		t.Fatal("Invoke(unknown op) should fail")
	}
}

func TestTuple_OpenReachesSamePayload(t *testing.T) {
	tup, ctx := newTestTuple(t, []interface{}{int64(9), int64(10)})
	h, err := tup.Handle()
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	reopened, err := OpenTuple(tup.heap, tup.table, tup.header, h, tup.codec)
	if err != nil {
		t.Fatalf("OpenTuple: %v", err)
	}
	if reopened.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", reopened.Len())
	}
	v, err := reopened.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	if v != int64(10) {
		t.Fatalf("Get(1) = %v, want 10", v)
	}
}
