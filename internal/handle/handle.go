// Package handle implements procshare's position-independent pointer
// scheme: a Handle is a (region index, offset) pair that is meaningful to
// every participant, translated to a native pointer through a
// per-participant attach table that is itself never shared — different
// participants may map the same region at different addresses, so a bare
// pointer is only ever valid within the participant that computed it.
//
// The attach table additionally doubles as a binary search tree over
// attach intervals (spec.md §4.2) for O(log R) reverse mapping, rebuilt
// via median-of-sorted-starts whenever a new region is attached. Grounded
// in the teacher repo's own preference for index-based, rebuildable trees
// over pointer-chasing ones (internal/runtime/numa/optimizer.go's topology
// tree, internal/runtime/concurrency/lfmap.go's bucket indexing).
package handle

import (
	"sort"
	"sync"

	"github.com/kdart/procshare/internal/config"
	"github.com/kdart/procshare/internal/procerr"
	"github.com/kdart/procshare/internal/region"
)

// Handle identifies a location independent of any participant's address
// space. RegionIndex -1 denotes null, matching spec.md §3.
type Handle struct {
	RegionIndex int32
	Offset      uintptr
}

// Null is the empty handle. The zero Handle{} is not null: it addresses
// offset 0 of region 0.
var Null = Handle{RegionIndex: -1}

// IsNull reports whether h is the null handle.
func (h Handle) IsNull() bool {
	return h.RegionIndex < 0
}

// Add returns a handle offset by delta bytes from h, within the same
// region. It does not validate that the result stays inside the region;
// callers are expected to only ever compute handles inside allocations
// they own.
func (h Handle) Add(delta uintptr) Handle {
	return Handle{RegionIndex: h.RegionIndex, Offset: h.Offset + delta}
}

// row is one attach-table entry: the interval this participant's mapping
// of a region occupies, plus the BST child indices used for reverse
// lookup.
type row struct {
	regionIndex int32
	region      *region.Region
	start, end  uintptr
	left, right int32
}

// Resolver is the callback the Table uses to attach a region by index when
// it has not yet been mapped in this participant. It is supplied by
// whatever owns the region registry (internal/globals), since the handle
// table itself knows nothing about how to look up a RegionIndex's Handle.
type Resolver func(regionIndex int32) (region.Handle, error)

// Table is the per-participant attach table: private to this process, and
// must never be placed in shared memory (spec.md §5, "the per-participant
// Handle attach table... are private to each participant").
type Table struct {
	mu       sync.Mutex
	rows     map[int32]*row
	root     int32
	resolver Resolver
}

// NewTable creates an empty attach table. resolver is consulted to attach
// a region the first time a handle in it is dereferenced.
func NewTable(resolver Resolver) *Table {
	return &Table{rows: make(map[int32]*row), root: -1, resolver: resolver}
}

// ToPointer translates h to a native pointer valid in the calling
// participant, attaching the region lazily if this is the first access.
func (t *Table) ToPointer(h Handle) (uintptr, error) {
	if h.IsNull() {
		return 0, nil
	}
	t.mu.Lock()
	r, ok := t.rows[h.RegionIndex]
	t.mu.Unlock()
	if !ok {
		var err error
		r, err = t.attach(h.RegionIndex)
		if err != nil {
			return 0, err
		}
	}
	return r.start + h.Offset, nil
}

// ToHandle translates a native pointer p, valid in the calling
// participant, back into a (region, offset) handle by descending the
// attach-interval BST.
func (t *Table) ToHandle(p uintptr) (Handle, error) {
	if p == 0 {
		return Null, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.root
	for idx != -1 {
		r := t.rows[idx]
		if p >= r.start && p <= r.end {
			return Handle{RegionIndex: r.regionIndex, Offset: p - r.start}, nil
		}
		if p < r.start {
			idx = r.left
		} else {
			idx = r.right
		}
	}
	return Handle{}, procerr.Wrap(procerr.ErrReverseMappingFailed, "handle.ToHandle")
}

func (t *Table) attach(regionIndex int32) (*row, error) {
	h, err := t.resolver(regionIndex)
	if err != nil {
		return nil, err
	}
	reg, err := region.Open(h)
	if err != nil {
		return nil, err
	}
	start := reg.Addr()
	end := start + uintptr(reg.Size()) - 1

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.rows) >= config.MaxRegions {
		return nil, procerr.ErrNoHandleSlot
	}
	r := &row{regionIndex: regionIndex, region: reg, start: start, end: end, left: -1, right: -1}
	t.rows[regionIndex] = r
	t.rebuildLocked()
	return r, nil
}

// rebuildLocked recomputes the weight-balanced BST over every attached
// row's interval: sort by start (ties broken by end), then recursively
// pick the median of sorted halves as each subtree's root. Caller must
// hold t.mu.
func (t *Table) rebuildLocked() {
	indices := make([]int32, 0, len(t.rows))
	for idx := range t.rows {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool {
		ri, rj := t.rows[indices[i]], t.rows[indices[j]]
		if ri.start != rj.start {
			return ri.start < rj.start
		}
		return ri.end < rj.end
	})
	for _, idx := range indices {
		t.rows[idx].left = -1
		t.rows[idx].right = -1
	}
	t.root = t.buildMedian(indices)
}

func (t *Table) buildMedian(sorted []int32) int32 {
	if len(sorted) == 0 {
		return -1
	}
	mid := len(sorted) / 2
	root := sorted[mid]
	t.rows[root].left = t.buildMedian(sorted[:mid])
	t.rows[root].right = t.buildMedian(sorted[mid+1:])
	return root
}

// Detach unmaps regionIndex from this participant, if attached. It does
// not affect other participants.
func (t *Table) Detach(regionIndex int32) error {
	t.mu.Lock()
	r, ok := t.rows[regionIndex]
	if ok {
		delete(t.rows, regionIndex)
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}
	err := r.region.Detach()
	t.mu.Lock()
	t.rebuildLocked()
	t.mu.Unlock()
	return err
}

// Release removes regionIndex from this participant's attach table (as
// Detach does) but, instead of unmapping it, hands back the still-attached
// *region.Region so the caller can destroy its OS resources outright —
// used when a whole-region allocation is freed and no other participant
// is expected to still be using it.
func (t *Table) Release(regionIndex int32) (*region.Region, error) {
	t.mu.Lock()
	r, ok := t.rows[regionIndex]
	if ok {
		delete(t.rows, regionIndex)
		t.rebuildLocked()
	}
	t.mu.Unlock()
	if !ok {
		return nil, procerr.Wrap(procerr.ErrReverseMappingFailed, "handle.Release: region not attached")
	}
	return r.region, nil
}
