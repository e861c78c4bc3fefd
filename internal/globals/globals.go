// Package globals implements the root record every participant shares:
// the process table, the region registry, and the sleep table. These are
// ordinary process-local Go structs reached through a shared *Globals
// pointer, not laid out inside the region Init creates (see DESIGN.md).
// Grounded in the teacher repo's
// own process/registry bookkeeping pattern (internal/runtime/actor_system.go's
// ActorRegistry, which maps identifiers to slots under a single mutex) and
// its region bookkeeping (internal/runtime/region_alloc.go), reworked from
// in-process maps to a fixed-width, cross-process table.
package globals

import (
	"context"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/kdart/procshare/internal/config"
	"github.com/kdart/procshare/internal/handle"
	"github.com/kdart/procshare/internal/lock"
	"github.com/kdart/procshare/internal/procerr"
	"github.com/kdart/procshare/internal/region"
	"github.com/kdart/procshare/internal/semset"
	"github.com/kdart/procshare/internal/spinlock"
)

// ProtocolVersion identifies this build's wire-compatible procshare
// revision. A participant whose binary disagrees with the running tree's
// recorded version refuses to join rather than risk misinterpreting shared
// layouts — a concrete strengthening of spec.md's "expected to be called
// exactly once per process tree" into a checked precondition.
var ProtocolVersion = semver.MustParse("1.0.0")

// regTableAddr is the symbolic address recorded in the sleep table for a
// participant blocked on the region-table lock. Globals is not itself
// laid out inside the region it manages (see DESIGN.md), so this is a
// fixed sentinel rather than a real shared-memory address; it is only
// ever compared for equality by diagnostics, never dereferenced.
const regTableAddr uintptr = 1

// procTable is the fixed-width slot array: a participant's slot index is
// its position here, -1 for an empty row. Guarded by a Spinlock per
// spec.md §3 ("proctable: spinlock + array"), not a general mutex, since
// every critical section here is a handful of word comparisons.
type procTable struct {
	spin spinlock.Spinlock
	pids [config.MaxProcesses]int32
}

// sleepTable records, per slot, the address of the Lock that slot is
// currently blocked on, for diagnostics. It implements lock.SleepRecorder.
type sleepTable struct {
	spin      spinlock.Spinlock
	waitingOn [config.MaxProcesses]uintptr
}

func (s *sleepTable) Record(slot int32, addr uintptr) {
	s.spin.Lock()
	s.waitingOn[slot] = addr
	s.spin.Unlock()
}

func (s *sleepTable) Clear(slot int32) {
	s.spin.Lock()
	s.waitingOn[slot] = 0
	s.spin.Unlock()
}

// Globals is the per-process-tree singleton root record.
type Globals struct {
	ownRegion *region.Region

	ProcTable  *procTable
	RegTable   *region.Registry
	regLock    lock.Lock
	SleepTable *sleepTable
	Sem        *semset.Set

	ProtocolVersion *semver.Version

	// Watcher tails file-backed regions' backing paths for external
	// removal; nil unless a caller opts in via WatchRegions (e.g.
	// cmd/procshare-inspect --watch). Regions backed by Linux's memfd
	// have no path to watch and are silently skipped.
	Watcher *RegionWatcher

	mySlot int32
}

// Init creates the globals region, initializes every sub-table, and
// records mySlot as the first participant. Call exactly once per process
// tree; other participants reuse the returned *Globals (see
// procshare.OpenChild).
func Init() (*Globals, error) {
	r, err := region.New(int(config.PageSize))
	if err != nil {
		return nil, procerr.Wrap(procerr.ErrRegionCreateFailed, "globals.Init")
	}
	sem, err := semset.New()
	if err != nil {
		_ = r.Destroy()
		return nil, err
	}
	g := &Globals{
		ownRegion:       r,
		ProcTable:       &procTable{},
		RegTable:        region.NewRegistry(),
		SleepTable:      &sleepTable{},
		Sem:             sem,
		ProtocolVersion: ProtocolVersion,
	}
	for i := range g.ProcTable.pids {
		g.ProcTable.pids[i] = -1
	}
	g.regLock.Init()

	slot, err := g.GetOrAssignSlot(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	g.mySlot = slot
	return g, nil
}

// CheckProtocolVersion returns procerr.ErrProtocolVersionMismatch if peer
// is not exactly equal to g's recorded ProtocolVersion. procshare does not
// attempt cross-version compatibility: participants in a single tree must
// all run the same build.
func (g *Globals) CheckProtocolVersion(peer *semver.Version) error {
	if !peer.Equal(g.ProtocolVersion) {
		return procerr.Wrap(procerr.ErrProtocolVersionMismatch, peer.String()+" vs "+g.ProtocolVersion.String())
	}
	return nil
}

// MySlot returns the calling participant's process-table slot.
func (g *Globals) MySlot() int32 { return g.mySlot }

// GetOrAssignSlot returns pid's existing slot, or places it in the lowest
// empty row and returns that index.
func (g *Globals) GetOrAssignSlot(pid int32) (int32, error) {
	pt := g.ProcTable
	pt.spin.Lock()
	defer pt.spin.Unlock()
	for i, p := range pt.pids {
		if p == pid {
			return int32(i), nil
		}
	}
	for i, p := range pt.pids {
		if p == -1 {
			pt.pids[i] = pid
			return int32(i), nil
		}
	}
	return -1, procerr.ErrTooManyParticipants
}

// FreeSlot clears pid's row. It returns true when no rows remain in use,
// signaling that the caller was the last participant.
func (g *Globals) FreeSlot(pid int32) bool {
	pt := g.ProcTable
	pt.spin.Lock()
	defer pt.spin.Unlock()
	any := false
	for i, p := range pt.pids {
		if p == pid {
			pt.pids[i] = -1
		} else if p != -1 {
			any = true
		}
	}
	return !any
}

// Occupancy returns the number of process-table slots currently in use.
func (g *Globals) Occupancy() int {
	pt := g.ProcTable
	pt.spin.Lock()
	defer pt.spin.Unlock()
	n := 0
	for _, p := range pt.pids {
		if p != -1 {
			n++
		}
	}
	return n
}

// Stats is a point-in-time snapshot of process-tree occupancy, for a
// diagnostics surface (cmd/procshare-inspect) to print without exposing
// the live tables themselves. Every field is racy by nature, the same
// caveat Lock.OwnerSlot and Header.Reachable carry: a snapshot, not a
// basis for a correctness decision.
type Stats struct {
	Participants int
	MaxProcesses int
	Regions      int
	MaxRegions   int
	Sleepers     int
}

// Stats returns a snapshot of g's occupancy.
func (g *Globals) Stats() Stats {
	sleepers := 0
	g.SleepTable.spin.Lock()
	for _, addr := range g.SleepTable.waitingOn {
		if addr != 0 {
			sleepers++
		}
	}
	g.SleepTable.spin.Unlock()
	return Stats{
		Participants: g.Occupancy(),
		MaxProcesses: config.MaxProcesses,
		Regions:      g.RegTable.Count(),
		MaxRegions:   config.MaxRegions,
		Sleepers:     sleepers,
	}
}

// AddRegion registers a newly created region's handle in the region
// table, guarded by the reentrant lock spec.md §4.3 ascribes to regtable
// (distinct from the table's own internal bookkeeping mutex, which only
// protects the slice scan itself from concurrent Go-level access within a
// single participant).
func (g *Globals) AddRegion(ctx context.Context, h region.Handle) (int, error) {
	if err := g.regLock.Acquire(ctx, g.mySlot, regTableAddr, g.Sem, g.SleepTable); err != nil {
		return -1, err
	}
	defer g.regLock.Release(g.mySlot, g.Sem)
	idx, err := g.RegTable.Add(h)
	if err == nil && g.Watcher != nil {
		_ = g.Watcher.Watch(h.Path)
	}
	return idx, err
}

// RemoveRegion releases index from the region table under the same
// reentrant lock AddRegion uses.
func (g *Globals) RemoveRegion(ctx context.Context, index int) error {
	if err := g.regLock.Acquire(ctx, g.mySlot, regTableAddr, g.Sem, g.SleepTable); err != nil {
		return err
	}
	defer g.regLock.Release(g.mySlot, g.Sem)
	if g.Watcher != nil {
		if row, ok := g.RegTable.Lookup(index); ok {
			_ = g.Watcher.Unwatch(row.Handle.Path)
		}
	}
	g.RegTable.Remove(index)
	return nil
}

// WatchRegions opts this participant into the fsnotify-backed region
// watcher, registering every currently-known file-backed region and
// starting to watch newly created ones as AddRegion runs. Intended for a
// diagnostics process (cmd/procshare-inspect --watch), not for every
// participant: the extra fsnotify descriptor is unnecessary overhead for
// a process only exercising normal shared-object operations.
func (g *Globals) WatchRegions() (*RegionWatcher, error) {
	w, err := NewRegionWatcher()
	if err != nil {
		return nil, err
	}
	for _, row := range g.RegTable.Rows() {
		_ = w.Watch(row.Handle.Path)
	}
	g.Watcher = w
	return w, nil
}

// NewHandleTable returns a per-participant handle.Table wired to resolve
// region indices through g's region registry.
func (g *Globals) NewHandleTable() *handle.Table {
	return handle.NewTable(func(regionIndex int32) (region.Handle, error) {
		row, ok := g.RegTable.Lookup(int(regionIndex))
		if !ok {
			return region.Handle{}, procerr.Wrap(procerr.ErrReverseMappingFailed, "unknown region index")
		}
		return row.Handle, nil
	})
}

// Cleanup destroys every remaining region row and the globals region
// itself. Only the last participant (FreeSlot returned true) should call
// this.
func (g *Globals) Cleanup() error {
	for idx, row := range g.RegTable.Rows() {
		r, err := region.Open(row.Handle)
		if err == nil {
			_ = r.Destroy()
		}
		g.RegTable.Remove(idx)
	}
	g.Sem.Close()
	if g.Watcher != nil {
		_ = g.Watcher.Close()
	}
	return g.ownRegion.Destroy()
}
