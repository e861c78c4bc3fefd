// Package region implements the bottom layer of procshare: creation,
// destruction, and per-participant attach/detach of OS-backed shared memory
// extents. The layer has no knowledge of what lives inside a region; it
// only hands back a stable identifier and, once attached, a base address
// valid in the calling participant.
//
// Grounded in the teacher repo's own region bookkeeping
// (internal/runtime/region_alloc.go's RegionHeader/Region split between
// metadata and raw backing memory) and its platform-gated syscall layering
// (internal/runtime/asyncio's _linux/_bsd/_windows split), reworked so the
// backing store is real OS shared memory instead of a process-local slice.
package region

import (
	"fmt"
	"sync"
)

// Handle identifies a region independent of any participant's address
// space. It is safe to pass between participants (e.g. recorded in
// Globals' region table) and to persist in shared memory.
type Handle struct {
	// FD is the memfd (or equivalent) descriptor backing the region. It
	// is meaningful only to a participant that has inherited it (e.g. via
	// process duplication or fd-passing); Open maps FD as it is, and there
	// is no attach-by-name path.
	FD int
	// Size is the region's actual size in bytes, which may be larger
	// than the originally requested size (rounded up to a page).
	Size int
	// Path is the backing file's directory entry, set only on platforms
	// without memfd_create (see region_unix.go). The file is left linked
	// for the region's lifetime instead of unlinked immediately, so a
	// diagnostics watcher can notice its disappearance. Empty on Linux,
	// where the memfd backing has no path at all.
	Path string
}

// Valid reports whether h identifies a real region.
func (h Handle) Valid() bool {
	return h.FD > 0 && h.Size > 0
}

// Region is one attached, live shared memory extent.
type Region struct {
	mu      sync.Mutex
	handle  Handle
	addr    uintptr
	size    int
	attached bool
}

// New creates a shared memory extent of at least size bytes and attaches
// it in the calling participant. The returned Region's Size() reports the
// actual size, which the region layer may round up.
func New(size int) (*Region, error) {
	h, addr, actual, err := createAndAttach(size)
	if err != nil {
		return nil, err
	}
	return &Region{handle: h, addr: addr, size: actual, attached: true}, nil
}

// Open attaches an existing region identified by h in the calling
// participant. Used by a descendant that inherited h's descriptor across a
// process duplication event.
func Open(h Handle) (*Region, error) {
	addr, err := attach(h)
	if err != nil {
		return nil, err
	}
	return &Region{handle: h, addr: addr, size: h.Size, attached: true}, nil
}

// Handle returns the region's participant-independent identifier.
func (r *Region) Handle() Handle { return r.handle }

// Size returns the region's actual size in bytes.
func (r *Region) Size() int { return r.size }

// Addr returns this participant's base address for the region. It is valid
// only while the region remains attached in this participant and only in
// this participant: a different participant attaching the same Handle may
// get a different address.
func (r *Region) Addr() uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr
}

// Attached reports whether this participant currently has the region
// mapped into its address space.
func (r *Region) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attached
}

// Detach unmaps the region from the calling participant without affecting
// other participants or the region's lifetime.
func (r *Region) Detach() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.attached {
		return nil
	}
	if err := detach(r.addr, r.size); err != nil {
		return fmt.Errorf("region: detach: %w", err)
	}
	r.attached = false
	r.addr = 0
	return nil
}

// Destroy releases the region's OS resources entirely. Per spec.md, this
// should only be called once all participants have detached; the caller
// (the region registry) is responsible for sequencing that.
func (r *Region) Destroy() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attached {
		if err := detach(r.addr, r.size); err != nil {
			return fmt.Errorf("region: destroy: detach: %w", err)
		}
		r.attached = false
	}
	return destroy(r.handle)
}
