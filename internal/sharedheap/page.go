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

// pageHeader is the fixed layout prepended to every page's bytes: next-page
// handle, per-page spinlock, total units, free units, unit size, unit mask,
// and the offset of the head of the free list. Every field is a plain
// integer or Handle, so this struct is safe to overlay directly onto
// shared memory via unsafe.Pointer — no Go pointers, slices, or maps
// appear in it, which is the invariant every type placed in shared memory
// in this codebase must uphold (see DESIGN.md).
type pageHeader struct {
	next      handle.Handle
	guard     spinlock.Spinlock
	nofUnits  int32
	freeUnits int32
	unitSize  int32
	unitMask  uint32
	freeHead  int32 // offset of first free unit within the data area, -1 = none
}

var pageHeaderSize = int(unsafe.Sizeof(pageHeader{}))

func (h *Heap) pagePtr(p handle.Handle) (*pageHeader, error) {
	addr, err := h.table.ToPointer(p)
	if err != nil {
		return nil, err
	}
	return (*pageHeader)(unsafe.Pointer(addr)), nil
}

// newPage creates a fresh region sized for one page of the given class,
// lays out its header, and threads every unit onto the free list.
func (h *Heap) newPage(ctx context.Context, class int) (handle.Handle, error) {
	unitSize := config.AllocSize(class)
	r, err := region.New(config.PageSize)
	if err != nil {
		return handle.Null, procerr.Wrap(procerr.ErrSlabAllocFailed, "newPage: region.New")
	}
	idx, err := h.regions.AddRegion(ctx, r.Handle())
	if err != nil {
		_ = r.Destroy()
		return handle.Null, err
	}
	pageAddr := handle.Handle{RegionIndex: int32(idx), Offset: 0}
	hdrPtr, err := h.pagePtr(pageAddr)
	if err != nil {
		return handle.Null, err
	}

	dataSize := config.PageSize - pageHeaderSize
	nofUnits := dataSize / unitSize

	dataBase := pageHeaderSize

	*hdrPtr = pageHeader{
		next:      handle.Null,
		nofUnits:  int32(nofUnits),
		freeUnits: int32(nofUnits),
		unitSize:  int32(unitSize),
		unitMask:  uint32(unitSize - 1),
		freeHead:  int32(dataBase),
	}

	// thread the free list: at each free unit's first machine word, store
	// the offset of the next free unit, or -1 to terminate.
	for i := 0; i < nofUnits; i++ {
		unitOffset := dataBase + i*unitSize
		unitHandle := handle.Handle{RegionIndex: int32(idx), Offset: uintptr(unitOffset)}
		unitAddr, err := h.table.ToPointer(unitHandle)
		if err != nil {
			return handle.Null, err
		}
		next := int32(-1)
		if i+1 < nofUnits {
			next = int32(dataBase + (i+1)*unitSize)
		}
		*(*int32)(unsafe.Pointer(unitAddr)) = next
	}

	return pageAddr, nil
}

func (h *Heap) pageNext(p handle.Handle) (handle.Handle, error) {
	hdr, err := h.pagePtr(p)
	if err != nil {
		return handle.Null, err
	}
	return hdr.next, nil
}

func (h *Heap) appendPage(head, newPage handle.Handle) {
	cur := head
	for {
		hdr, err := h.pagePtr(cur)
		if err != nil {
			return
		}
		if hdr.next.IsNull() {
			hdr.next = newPage
			return
		}
		cur = hdr.next
	}
}

func (h *Heap) pageFreeUnits(p handle.Handle) (int32, error) {
	hdr, err := h.pagePtr(p)
	if err != nil {
		return 0, err
	}
	return hdr.freeUnits, nil
}

// pageAllocUnit pops the head of p's free list under its page lock. ok is
// false if the page had no free units left by the time the lock was
// acquired (another participant raced ahead).
func (h *Heap) pageAllocUnit(p handle.Handle) (handle.Handle, bool, error) {
	hdr, err := h.pagePtr(p)
	if err != nil {
		return handle.Null, false, err
	}
	hdr.guard.Lock()
	defer hdr.guard.Unlock()

	if hdr.freeUnits == 0 || hdr.freeHead < 0 {
		return handle.Null, false, nil
	}
	offset := hdr.freeHead
	unitHandle := handle.Handle{RegionIndex: p.RegionIndex, Offset: uintptr(offset)}
	unitAddr, err := h.table.ToPointer(unitHandle)
	if err != nil {
		return handle.Null, false, err
	}
	next := *(*int32)(unsafe.Pointer(unitAddr))
	hdr.freeHead = next
	hdr.freeUnits--
	return unitHandle, true, nil
}

// pageFreeUnit threads unit back onto the front of its page's free list.
func (h *Heap) pageFreeUnit(page, unit handle.Handle) error {
	hdr, err := h.pagePtr(page)
	if err != nil {
		return err
	}
	unitAddr, err := h.table.ToPointer(unit)
	if err != nil {
		return err
	}

	hdr.guard.Lock()
	defer hdr.guard.Unlock()

	*(*int32)(unsafe.Pointer(unitAddr)) = hdr.freeHead
	hdr.freeHead = int32(unit.Offset)
	hdr.freeUnits++
	return nil
}

// pageUnitSize returns the page's configured unit size, used by Realloc to
// decide whether an existing allocation already fits.
func (h *Heap) pageUnitSize(page handle.Handle) (int, error) {
	hdr, err := h.pagePtr(page)
	if err != nil {
		return 0, err
	}
	return int(hdr.unitSize), nil
}
