// Package sharedobject implements the per-object metadata prepended to
// every shareable container: a reentrant lock, an optional attribute dict
// handle, a reference-count spinlock, a proxy bitmap, a shared reference
// count, and corruption/no-synch flags. Lifetime is governed entirely by
// (SRefCnt, ProxyBitmap): an object is reclaimed exactly when both reach
// zero, never by any host-language refcount.
//
// Grounded in the teacher repo's reference-counting engine
// (internal/runtime/refcount_optimizer.go's RefCountedObject, atomic
// RefCount/WeakCount pair), reworked from in-process int64 atomics —
// invisible across a process boundary without a shared segment — into
// spinlock-guarded fields living directly in shared memory, composed with
// a proxy bitmap exactly as spec.md §4.8 prescribes.
package sharedobject

import (
	"context"

	"github.com/kdart/procshare/internal/config"
	"github.com/kdart/procshare/internal/handle"
	"github.com/kdart/procshare/internal/lock"
	"github.com/kdart/procshare/internal/spinlock"
)

// Header is the fixed layout every shared container's payload follows.
// Like pageHeader in internal/sharedheap, every field is a plain integer,
// Handle, Lock, or Spinlock — no Go pointers, slices, or maps — so it is
// safe to overlay onto shared memory via unsafe.Pointer.
type Header struct {
	ObjLock    lock.Lock       // guards the object's own operations (Monitor.Enter/Leave)
	DictHandle handle.Handle   // optional auxiliary attribute dict
	RefLock    spinlock.Spinlock
	ProxyBits  [config.WaiterWords]uint64
	SRefCnt    uint32
	IsCorrupt  uint32 // 0/1, not bool: must have a stable cross-process bit pattern
	NoSynch    uint32 // 0/1
}

// Init zeroes h into its initial state: unreferenced, no proxies, no
// dict, synchronized unless noSynch is set.
func (h *Header) Init(noSynch bool) {
	h.ObjLock.Init()
	h.DictHandle = handle.Null
	h.ProxyBits = [config.WaiterWords]uint64{}
	h.SRefCnt = 0
	h.IsCorrupt = 0
	if noSynch {
		h.NoSynch = 1
	} else {
		h.NoSynch = 0
	}
}

// IncRef increments the shared reference count: another shared object now
// holds a handle to this one.
func (h *Header) IncRef() {
	h.RefLock.Lock()
	h.SRefCnt++
	h.RefLock.Unlock()
}

// Destroyer is invoked by DecRef/ClearProxyBit when an object's last
// reference disappears, to run type-specific teardown (releasing the
// attribute dict, returning the payload to its heap). Supplied by the
// registry/proxy layer, which knows the object's concrete type; Header
// itself has no notion of payload shape.
type Destroyer interface {
	Destroy(ctx context.Context, h *Header) error
}

// DecRef decrements the shared reference count and runs d.Destroy if this
// was the last reference and no participant holds a live proxy.
func (h *Header) DecRef(ctx context.Context, d Destroyer) error {
	h.RefLock.Lock()
	h.SRefCnt--
	dealloc := h.SRefCnt == 0 && h.proxyBitsEmptyLocked()
	h.RefLock.Unlock()
	if dealloc {
		return d.Destroy(ctx, h)
	}
	return nil
}

// SetProxyBit marks slot as holding a live proxy to this object. Called
// when a participant acquires or gains its first proxy.
func (h *Header) SetProxyBit(slot int32) {
	h.RefLock.Lock()
	h.ProxyBits[slot/64] |= 1 << uint(slot%64)
	h.RefLock.Unlock()
}

// ClearProxyBit clears slot's bit and runs d.Destroy under the same
// reclaim test DecRef uses, if this was the last reference.
func (h *Header) ClearProxyBit(ctx context.Context, slot int32, d Destroyer) error {
	h.RefLock.Lock()
	h.ProxyBits[slot/64] &^= 1 << uint(slot%64)
	dealloc := h.SRefCnt == 0 && h.proxyBitsEmptyLocked()
	h.RefLock.Unlock()
	if dealloc {
		return d.Destroy(ctx, h)
	}
	return nil
}

// proxyBitsEmptyLocked reports whether no participant holds a proxy.
// Caller must hold RefLock.
func (h *Header) proxyBitsEmptyLocked() bool {
	for _, w := range h.ProxyBits {
		if w != 0 {
			return false
		}
	}
	return true
}

// Reachable reports whether the object is currently reachable by the
// testable-property definition in spec.md §8: SRefCnt plus the proxy
// bitmap's popcount is nonzero. Racy by nature, intended for diagnostics
// and tests, not as a basis for a reclaim decision (DecRef/ClearProxyBit
// already make that decision atomically under RefLock).
func (h *Header) Reachable() bool {
	h.RefLock.Lock()
	defer h.RefLock.Unlock()
	return h.SRefCnt > 0 || !h.proxyBitsEmptyLocked()
}

// MarkCorrupt permanently flags h as corrupt. Once set, every subsequent
// Monitor.Enter on h fails.
func (h *Header) MarkCorrupt() {
	h.RefLock.Lock()
	h.IsCorrupt = 1
	h.RefLock.Unlock()
}

// Corrupt reports whether MarkCorrupt has ever been called on h.
func (h *Header) Corrupt() bool {
	h.RefLock.Lock()
	defer h.RefLock.Unlock()
	return h.IsCorrupt != 0
}

// NoSynchSet reports whether h's meta-type opted out of synchronization.
func (h *Header) NoSynchSet() bool {
	return h.NoSynch != 0
}
