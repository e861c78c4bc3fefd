package sharedlist

import (
	"context"
	"testing"

	"github.com/kdart/procshare/internal/handle"
	"github.com/kdart/procshare/internal/procerr"
	"github.com/kdart/procshare/internal/region"
	"github.com/kdart/procshare/internal/registry"
	"github.com/kdart/procshare/internal/sharedheap"
)

// testRegionSource mirrors internal/sharedheap and internal/shareddict's own
// test fixtures: a real region.Registry standing in for internal/globals.
type testRegionSource struct {
	reg *region.Registry
}

func newTestRegionSource() *testRegionSource {
	return &testRegionSource{reg: region.NewRegistry()}
}

func (s *testRegionSource) AddRegion(ctx context.Context, h region.Handle) (int, error) {
	return s.reg.Add(h)
}

func (s *testRegionSource) RemoveRegion(ctx context.Context, index int) error {
	s.reg.Remove(index)
	return nil
}

func (s *testRegionSource) resolver(regionIndex int32) (region.Handle, error) {
	row, ok := s.reg.Lookup(int(regionIndex))
	if !ok {
		return region.Handle{}, procerr.ErrReverseMappingFailed
	}
	return row.Handle, nil
}

type testHeaps struct {
	instance *sharedheap.Heap
	data     *sharedheap.Heap
}

func (h *testHeaps) InstanceHeap() *sharedheap.Heap { return h.instance }
func (h *testHeaps) DataHeap() *sharedheap.Heap     { return h.data }
func (h *testHeaps) Synchronized() bool             { return false }

func newTestRig(t *testing.T) (*testHeaps, *handle.Table, Codec) {
	t.Helper()
	src := newTestRegionSource()
	tbl := handle.NewTable(src.resolver)
	heap := sharedheap.New(tbl, src)
	heaps := &testHeaps{instance: heap, data: heap}
	codec := &registry.ScalarCodec{Heap: heaps, Table: tbl}
	return heaps, tbl, codec
}

func newTestList(t *testing.T, capacityHint int) (*List, context.Context) {
	t.Helper()
	heaps, tbl, codec := newTestRig(t)
	ctx := context.Background()
	l, err := New(ctx, heaps, tbl, codec, capacityHint)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, ctx
}

func newTestTuple(t *testing.T, vs []interface{}) (*Tuple, context.Context) {
	t.Helper()
	heaps, tbl, codec := newTestRig(t)
	ctx := context.Background()
	tup, err := NewTuple(ctx, heaps, tbl, codec, vs)
	if err != nil {
		t.Fatalf("NewTuple: %v", err)
	}
	return tup, ctx
}
