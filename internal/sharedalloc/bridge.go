// Package sharedalloc implements the SharedAlloc bridge: every shared
// object's allocations are routed to the instance heap or data heap of its
// meta-type, rather than a single global heap, so distinct type families
// can live in distinct heaps. Grounded in the teacher's allocator-selection
// indirection (internal/allocator/runtime.go picks among System/Arena/Pool
// allocators by AllocatorKind); here the selection key is a type's
// HeapProvider instead of a kind enum.
package sharedalloc

import (
	"context"
	"unsafe"

	"github.com/kdart/procshare/internal/handle"
	"github.com/kdart/procshare/internal/procerr"
	"github.com/kdart/procshare/internal/sharedheap"
	"github.com/kdart/procshare/internal/sharedobject"
)

var headerSize = int(unsafe.Sizeof(sharedobject.Header{}))

func headerAt(h *sharedheap.Heap, full handle.Handle) (*sharedobject.Header, error) {
	addr, err := h.Table().ToPointer(full)
	if err != nil {
		return nil, err
	}
	return (*sharedobject.Header)(unsafe.Pointer(addr)), nil
}

// HeapProvider is implemented by a type's meta-type descriptor: it names
// the two heaps spec.md §4.7 calls "__instanceheap__" and "__dataheap__".
// A Go type descriptor struct field replaces the attribute lookup the
// teacher's object model would otherwise need.
type HeapProvider interface {
	InstanceHeap() *sharedheap.Heap
	DataHeap() *sharedheap.Heap
	// Synchronized reports whether this type requests object-lock
	// synchronization. When false, Header.NoSynch is set at construction.
	Synchronized() bool
}

// AllocInstance allocates nitems worth of payload (already including the
// caller's VAR_SIZE computation) plus a SharedObject header on t's
// instance heap, zeroes it, and initializes the header. It returns a
// handle to the payload — past the header — exactly as spec.md §4.7
// describes: "return a pointer into the middle, past the SharedObject
// header."
func AllocInstance(ctx context.Context, t HeapProvider, payloadSize int) (handle.Handle, *sharedobject.Header, error) {
	total := headerSize + payloadSize
	full, _, err := t.InstanceHeap().Alloc(ctx, total)
	if err != nil {
		return handle.Null, nil, procerr.Wrap(procerr.ErrSlabAllocFailed, "sharedalloc.AllocInstance")
	}
	hdr, err := headerAt(t.InstanceHeap(), full)
	if err != nil {
		return handle.Null, nil, err
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(hdr)), total)
	for i := range raw {
		raw[i] = 0
	}
	hdr.Init(!t.Synchronized())
	payload := full.Add(uintptr(headerSize))
	return payload, hdr, nil
}

// FreeInstance frees the full allocation (header and payload) that
// payload points past, on t's instance heap.
func FreeInstance(ctx context.Context, t HeapProvider, payload handle.Handle) error {
	full := handle.Handle{RegionIndex: payload.RegionIndex, Offset: payload.Offset - uintptr(headerSize)}
	return t.InstanceHeap().Free(ctx, full)
}

// HeaderOf returns the SharedObject header preceding payload, for callers
// (Proxy, Monitor) that only carry the payload handle.
func HeaderOf(t HeapProvider, payload handle.Handle) (*sharedobject.Header, error) {
	full := handle.Handle{RegionIndex: payload.RegionIndex, Offset: payload.Offset - uintptr(headerSize)}
	return headerAt(t.InstanceHeap(), full)
}

// AllocData allocates size bytes on t's data heap, for auxiliary
// structures (a dict's table, a list's vector) that are not themselves
// SharedObject-headered entities.
func AllocData(ctx context.Context, t HeapProvider, size int) (handle.Handle, error) {
	h, _, err := t.DataHeap().Alloc(ctx, size)
	return h, err
}

// ReallocData resizes a data-heap allocation.
func ReallocData(ctx context.Context, t HeapProvider, h handle.Handle, size int) (handle.Handle, error) {
	nh, _, err := t.DataHeap().Realloc(ctx, h, size)
	return nh, err
}

// FreeData frees a data-heap allocation.
func FreeData(ctx context.Context, t HeapProvider, h handle.Handle) error {
	return t.DataHeap().Free(ctx, h)
}
