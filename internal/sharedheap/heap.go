// Package sharedheap implements the region-partitioned slab allocator that
// backs every shared object and shared container: NofAllocSizes power-of-two
// size classes, each a linked list of pages carved out of a region, each
// page a singly-linked free list threaded through the unused units
// themselves.
//
// Grounded in the teacher repo's size-classed pool allocator
// (internal/allocator/pool.go's Pool/PoolAllocatorImpl) and its region free
// list (internal/runtime/region_alloc.go's FreeBlock chain), reworked so
// pages live in real OS shared memory (via internal/region) addressed
// through internal/handle instead of Go pointers, and so free-list links
// are handle offsets rather than slice indices or *FreeBlock pointers —
// the defining constraint of a slab allocator whose users run in different
// address spaces.
package sharedheap

import (
	"context"
	"unsafe"

	"github.com/kdart/procshare/internal/config"
	"github.com/kdart/procshare/internal/handle"
	"github.com/kdart/procshare/internal/procerr"
	"github.com/kdart/procshare/internal/region"
	"github.com/kdart/procshare/internal/spinlock"
)

// RegionSource is the minimal surface Heap needs to mint and register new
// backing regions: internal/globals.Globals satisfies it. Narrowed to an
// interface to avoid sharedheap importing globals' full symbol set, and so
// tests can exercise Heap against a stub.
type RegionSource interface {
	AddRegion(ctx context.Context, h region.Handle) (int, error)
	RemoveRegion(ctx context.Context, index int) error
}

// classList is one size class's bookkeeping: a spinlock guarding the
// linked list of pages, plus the list head the lock protects. Class
// and page locks are Spinlocks rather than the full reentrant blocking
// Lock: every critical section here is a handful of pointer-chases and
// never calls anything that can itself block, which is exactly the
// contract spec.md §4.4 reserves spinlocks for.
type classList struct {
	guard spinlock.Spinlock
	head  handle.Handle
}

// Heap is one SharedHeap root: NofAllocSizes size classes, each rooted at
// a page list.
type Heap struct {
	classes [config.NofAllocSizes]classList
	table   *handle.Table
	regions RegionSource
}

// New creates an empty Heap. table is used to translate handles to
// pointers in the calling participant; regions is used to mint new pages
// and large (slab-bypassing) allocations.
func New(table *handle.Table, regions RegionSource) *Heap {
	h := &Heap{table: table, regions: regions}
	for i := range h.classes {
		h.classes[i].head = handle.Null
	}
	return h
}

// Table returns the handle table this heap translates pointers through,
// for callers (internal/sharedalloc) that need to dereference a handle
// this heap produced without duplicating translation logic.
func (h *Heap) Table() *handle.Table { return h.table }

// ClassStats is a point-in-time snapshot of one size class's page list,
// for a diagnostics surface (cmd/procshare-inspect) to report fill
// levels without reaching into Heap's internals directly.
type ClassStats struct {
	UnitSize   int
	Pages      int
	TotalUnits int
	FreeUnits  int
}

// Stats walks every size class's page list and returns its occupancy.
// Racy like every other diagnostics snapshot in this runtime: pages may
// be allocated from or freed to concurrently by other participants while
// this walk is in progress.
func (h *Heap) Stats() [config.NofAllocSizes]ClassStats {
	var out [config.NofAllocSizes]ClassStats
	for i := range h.classes {
		out[i].UnitSize = config.AllocSize(i)
		h.classes[i].guard.Lock()
		page := h.classes[i].head
		h.classes[i].guard.Unlock()
		for !page.IsNull() {
			hdr, err := h.pagePtr(page)
			if err != nil {
				break
			}
			out[i].Pages++
			out[i].TotalUnits += int(hdr.nofUnits)
			out[i].FreeUnits += int(hdr.freeUnits)
			page = hdr.next
		}
	}
	return out
}

// Alloc returns a handle to a fresh allocation of at least size bytes and
// the class's actual unit size (always >= size, since slab classes only
// hand back whole units). Allocations larger than the top size class
// bypass the slab and become a freshly created, whole-region allocation,
// matching spec.md §4.6.
func (h *Heap) Alloc(ctx context.Context, size int) (handle.Handle, int, error) {
	class, ok := config.SizeClassFor(size)
	if !ok {
		return h.allocLarge(ctx, size)
	}
	return h.allocClass(ctx, class)
}

// allocLarge bypasses the slab entirely: a freshly created region sized to
// hold the request, registered in the region table so Free and ToHandle
// can recognize it. Offset 0 within its own region is what Free uses to
// detect "this is a whole-region allocation" per spec.md §4.6.
func (h *Heap) allocLarge(ctx context.Context, size int) (handle.Handle, int, error) {
	r, err := region.New(size)
	if err != nil {
		return handle.Null, 0, procerr.Wrap(procerr.ErrSlabAllocFailed, "large alloc: region.New")
	}
	idx, err := h.regions.AddRegion(ctx, r.Handle())
	if err != nil {
		_ = r.Destroy()
		return handle.Null, 0, err
	}
	return handle.Handle{RegionIndex: int32(idx), Offset: 0}, r.Size(), nil
}

func (h *Heap) allocClass(ctx context.Context, class int) (handle.Handle, int, error) {
	unitSize := config.AllocSize(class)
	cl := &h.classes[class]

	for {
		cl.guard.Lock()
		pageHandle := cl.head
		for !pageHandle.IsNull() {
			free, err := h.pageFreeUnits(pageHandle)
			if err == nil && free > 0 {
				break
			}
			pageHandle, err = h.pageNext(pageHandle)
			if err != nil {
				cl.guard.Unlock()
				return handle.Null, 0, err
			}
		}
		if pageHandle.IsNull() {
			// no page with room: create one and link it at the tail.
			newPage, err := h.newPage(ctx, class)
			if err != nil {
				cl.guard.Unlock()
				return handle.Null, 0, err
			}
			if cl.head.IsNull() {
				cl.head = newPage
			} else {
				h.appendPage(cl.head, newPage)
			}
			pageHandle = newPage
		}
		cl.guard.Unlock()

		unit, ok, err := h.pageAllocUnit(pageHandle)
		if err != nil {
			return handle.Null, 0, err
		}
		if ok {
			return unit, unitSize, nil
		}
		// lost the race for the last free unit on this page: retry.
	}
}

// Realloc resizes the allocation at ptr to size bytes, copying the
// overlapping prefix if it must move. Per spec.md §4.6, an existing
// allocation is kept in place when it already fits and is not grossly
// oversized for the new size: cur >= size AND (cur/4 < MinAllocSize OR
// cur/4 < size).
func (h *Heap) Realloc(ctx context.Context, ptr handle.Handle, size int) (handle.Handle, int, error) {
	if ptr.Offset == 0 {
		// whole-region allocation: no page header to consult, always move.
		return h.reallocMove(ctx, ptr, 0, size)
	}
	page := handle.Handle{RegionIndex: ptr.RegionIndex, Offset: 0}
	cur, err := h.pageUnitSize(page)
	if err != nil {
		return handle.Null, 0, err
	}
	if cur >= size && (cur/4 < config.MinAllocSize || cur/4 < size) {
		return ptr, cur, nil
	}
	return h.reallocMove(ctx, ptr, cur, size)
}

func (h *Heap) reallocMove(ctx context.Context, oldPtr handle.Handle, oldSize, size int) (handle.Handle, int, error) {
	newPtr, newSize, err := h.Alloc(ctx, size)
	if err != nil {
		return handle.Null, 0, err
	}
	n := oldSize
	if size < n {
		n = size
	}
	if n > 0 {
		oldAddr, err := h.table.ToPointer(oldPtr)
		if err != nil {
			return handle.Null, 0, err
		}
		newAddr, err := h.table.ToPointer(newPtr)
		if err != nil {
			return handle.Null, 0, err
		}
		src := unsafe.Slice((*byte)(unsafe.Pointer(oldAddr)), n)
		dst := unsafe.Slice((*byte)(unsafe.Pointer(newAddr)), n)
		copy(dst, src)
	}
	if err := h.Free(ctx, oldPtr); err != nil {
		return handle.Null, 0, err
	}
	return newPtr, newSize, nil
}

// Free releases ptr. An offset of zero identifies a whole-region
// (slab-bypassing) allocation, which is freed by destroying its region;
// any other offset identifies a unit within a page, freed by threading it
// back onto that page's free list.
func (h *Heap) Free(ctx context.Context, ptr handle.Handle) error {
	if ptr.IsNull() {
		return nil
	}
	if ptr.Offset == 0 {
		return h.freeLarge(ctx, ptr)
	}
	page := handle.Handle{RegionIndex: ptr.RegionIndex, Offset: 0}
	return h.pageFreeUnit(page, ptr)
}

func (h *Heap) freeLarge(ctx context.Context, ptr handle.Handle) error {
	reg, err := h.table.Release(ptr.RegionIndex)
	if err != nil {
		return err
	}
	if err := reg.Destroy(); err != nil {
		return err
	}
	return h.regions.RemoveRegion(ctx, int(ptr.RegionIndex))
}
