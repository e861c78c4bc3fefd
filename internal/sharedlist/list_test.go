package sharedlist

import (
	"testing"

	"github.com/kdart/procshare/internal/procerr"
)

func TestList_NewIsEmpty(t *testing.T) {
	l, _ := newTestList(t, 1)
	if l.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", l.Len())
	}
}

func TestList_AppendThenGet(t *testing.T) {
	l, ctx := newTestList(t, 1)
	if err := l.Append(ctx, int64(10)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(ctx, "hi"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}
	v0, err := l.Get(ctx, 0)
	if err != nil {
		t.Fatalf("Get(0): %v", err)
	}
	if v0 != int64(10) {
		t.Fatalf("Get(0) = %v, want 10", v0)
	}
	v1, err := l.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	if v1 != "hi" {
		t.Fatalf("Get(1) = %v, want hi", v1)
	}
}

func TestList_GetOutOfRangeFails(t *testing.T) {
	l, ctx := newTestList(t, 1)
	if _, err := l.Get(ctx, 0); err != procerr.ErrIndexOutOfRange {
		t.Fatalf("Get(0) on empty list = %v, want ErrIndexOutOfRange", err)
	}
	if _, err := l.Get(ctx, -1); err != procerr.ErrIndexOutOfRange {
		t.Fatalf("Get(-1) = %v, want ErrIndexOutOfRange", err)
	}
}

func TestList_SetReplacesElement(t *testing.T) {
	l, ctx := newTestList(t, 1)
	if err := l.Append(ctx, int64(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Set(ctx, 0, int64(2)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := l.Get(ctx, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != int64(2) {
		t.Fatalf("Get = %v, want 2", v)
	}
}

func TestList_SetOutOfRangeFails(t *testing.T) {
	l, ctx := newTestList(t, 1)
	if err := l.Set(ctx, 0, int64(1)); err != procerr.ErrIndexOutOfRange {
		t.Fatalf("Set on empty list = %v, want ErrIndexOutOfRange", err)
	}
}

func TestList_AppendGrowsPastInitialCapacity(t *testing.T) {
	l, ctx := newTestList(t, 1)
	const n = 50
	for i := 0; i < n; i++ {
		if err := l.Append(ctx, int64(i)); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	if l.Len() != n {
		t.Fatalf("Len() = %d, want %d", l.Len(), n)
	}
	for i := 0; i < n; i++ {
		v, err := l.Get(ctx, i)
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if v != int64(i) {
			t.Fatalf("Get(%d) = %v, want %d", i, v, i)
		}
	}
}

func TestList_InsertAtMiddle(t *testing.T) {
	l, ctx := newTestList(t, 1)
	for _, v := range []interface{}{int64(1), int64(2), int64(4)} {
		if err := l.Append(ctx, v); err != nil {
			t.Fatalf("Append(%v): %v", v, err)
		}
	}
	if err := l.Insert(ctx, 2, int64(3)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	items, err := l.Items(ctx)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	want := []interface{}{int64(1), int64(2), int64(3), int64(4)}
	if len(items) != len(want) {
		t.Fatalf("Items() = %v, want %v", items, want)
	}
	for i := range want {
		if items[i] != want[i] {
			t.Fatalf("Items()[%d] = %v, want %v", i, items[i], want[i])
		}
	}
}

func TestList_InsertClampsOutOfRangeIndex(t *testing.T) {
	l, ctx := newTestList(t, 1)
	if err := l.Insert(ctx, -5, int64(1)); err != nil {
		t.Fatalf("Insert(-5): %v", err)
	}
	if err := l.Insert(ctx, 100, int64(2)); err != nil {
		t.Fatalf("Insert(100): %v", err)
	}
	items, err := l.Items(ctx)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) != 2 || items[0] != int64(1) || items[1] != int64(2) {
		t.Fatalf("Items() = %v, want [1 2]", items)
	}
}

func TestList_RemoveShiftsElements(t *testing.T) {
	l, ctx := newTestList(t, 1)
	for _, v := range []interface{}{int64(1), int64(2), int64(3)} {
		if err := l.Append(ctx, v); err != nil {
			t.Fatalf("Append(%v): %v", v, err)
		}
	}
	if err := l.Remove(ctx, 1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	items, err := l.Items(ctx)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) != 2 || items[0] != int64(1) || items[1] != int64(3) {
		t.Fatalf("Items() = %v, want [1 3]", items)
	}
}

func TestList_RemoveOutOfRangeFails(t *testing.T) {
	l, ctx := newTestList(t, 1)
	if err := l.Remove(ctx, 0); err != procerr.ErrIndexOutOfRange {
		t.Fatalf("Remove on empty list = %v, want ErrIndexOutOfRange", err)
	}
}

func TestList_Clear(t *testing.T) {
	l, ctx := newTestList(t, 1)
	for _, v := range []interface{}{int64(1), int64(2)} {
		if err := l.Append(ctx, v); err != nil {
			t.Fatalf("Append(%v): %v", v, err)
		}
	}
	if err := l.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if l.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after Clear", l.Len())
	}
	if err := l.Append(ctx, int64(9)); err != nil {
		t.Fatalf("Append after Clear: %v", err)
	}
}

func TestList_AssignSliceReplacesContents(t *testing.T) {
	l, ctx := newTestList(t, 1)
	if err := l.Append(ctx, int64(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.AssignSlice(ctx, []interface{}{"a", "b", "c"}); err != nil {
		t.Fatalf("AssignSlice: %v", err)
	}
	items, err := l.Items(ctx)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	want := []interface{}{"a", "b", "c"}
	if len(items) != len(want) {
		t.Fatalf("Items() = %v, want %v", items, want)
	}
	for i := range want {
		if items[i] != want[i] {
			t.Fatalf("Items()[%d] = %v, want %v", i, items[i], want[i])
		}
	}
}

func TestList_OpenReachesSamePayload(t *testing.T) {
	l, ctx := newTestList(t, 1)
	if err := l.Append(ctx, int64(77)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	h, err := l.Handle()
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	reopened, err := Open(l.heap, l.table, l.header, h, l.codec)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	v, err := reopened.Get(ctx, 0)
	if err != nil {
		t.Fatalf("Get (reopened): %v", err)
	}
	if v != int64(77) {
		t.Fatalf("Get (reopened) = %v, want 77", v)
	}
}

func TestList_DestroyReleasesElementsAndPayload(t *testing.T) {
	l, ctx := newTestList(t, 1)
	if err := l.Append(ctx, int64(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Destroy(ctx, l.header); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}

func TestList_InvokeDispatchesOperations(t *testing.T) {
	l, ctx := newTestList(t, 1)
	if _, err := l.Invoke(ctx, "Append", []interface{}{int64(5)}); err != nil {
		t.Fatalf("Invoke(Append): %v", err)
	}
	v, err := l.Invoke(ctx, "Get", []interface{}{0})
	if err != nil {
		t.Fatalf("Invoke(Get): %v", err)
	}
	if v != int64(5) {
		t.Fatalf("Invoke(Get) = %v, want 5", v)
	}
	if _, err := l.Invoke(ctx, "Bogus", nil); err == nil {
		t.Fatal("Invoke(unknown op) should fail")
	}
}
