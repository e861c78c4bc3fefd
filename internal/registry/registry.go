// Package registry is the process-wide runtime singleton: the type table
// RegisterType populates, and the bookkeeping ParticipantInit/InitChild/
// ChildDied use to bring a participant online and tear one down cleanly.
//
// Grounded in the teacher's own global-singleton runtime object
// (internal/runtime/actor_system.go's process-wide ActorSystem, created
// once and threaded through every actor), generalized from an actor
// registry to a shared-type registry: RegisterType plays the role the
// teacher's actor-type registration does, and ChildDied plays the role of
// the teacher's supervisor-tree death notification, reworked for this
// spec's proxy-bitmap sweep instead of actor restart.
package registry

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/kdart/procshare/internal/globals"
	"github.com/kdart/procshare/internal/handle"
	"github.com/kdart/procshare/internal/procerr"
	"github.com/kdart/procshare/internal/sharedalloc"
	"github.com/kdart/procshare/internal/sharedobject"
)

// SyncManager mirrors internal/monitor.Manager's shape without importing
// it, the same narrowing internal/monitor.Sleeper uses against
// internal/lock, to keep registry -> proxy -> sharedobject acyclic.
type SyncManager interface {
	Enter(ctx context.Context, obj *sharedobject.Header, opName string) (interface{}, error)
	Leave(obj *sharedobject.Header, token interface{}) error
}

// Destroyable is implemented by every registered shared type's runtime
// value: the concrete deallocation logic a Header.Destroyer invokes once
// an object's last reference disappears.
type Destroyable interface {
	sharedobject.Destroyer
	Header() *sharedobject.Header
	// Invoke dispatches a named operation against the concrete value,
	// with proxy arguments already unwrapped to their referents. Used by
	// internal/proxy.Proxy.CallMethod.
	Invoke(ctx context.Context, name string, args []interface{}) (interface{}, error)
}

// TypeEntry is everything the registry knows about one registered Go
// type: how to heap it and how to synchronize it.
type TypeEntry struct {
	Name  string
	Heaps sharedalloc.HeapProvider
	Synch SyncManager
}

// Registry is the process-wide runtime object: one per process, shared by
// every participant goroutine. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	types   map[reflect.Type]*TypeEntry
	g       *globals.Globals
	handles *handle.Table
}

// New creates a Registry bound to an initialized Globals. Call
// ParticipantInit once per process before registering types.
func New(g *globals.Globals) *Registry {
	return &Registry{
		types:   make(map[reflect.Type]*TypeEntry),
		g:       g,
		handles: g.NewHandleTable(),
	}
}

// HandleTable returns the handle table this registry's heaps translate
// pointers through.
func (r *Registry) HandleTable() *handle.Table { return r.handles }

// RegisterType associates a Go type with its heaps and synchronization
// manager. synch must not be nil: spec.md §9 makes a missing
// synchronization manager a hard configuration error rather than a silent
// fall-through to unsynchronized access, since the latter is
// indistinguishable from a forgotten registration.
func (r *Registry) RegisterType(goType reflect.Type, heaps sharedalloc.HeapProvider, synch SyncManager) error {
	if synch == nil {
		return procerr.Wrap(procerr.ErrSynchManagerRequired, fmt.Sprintf("RegisterType(%s)", goType))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[goType]; exists {
		return procerr.Wrap(procerr.ErrTypeAlreadyRegistered, fmt.Sprintf("RegisterType(%s)", goType))
	}
	r.types[goType] = &TypeEntry{Name: goType.String(), Heaps: heaps, Synch: synch}
	return nil
}

// Lookup returns goType's registration, or ok=false if it was never
// registered.
func (r *Registry) Lookup(goType reflect.Type) (*TypeEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.types[goType]
	return e, ok
}

// ParticipantInit brings the calling process online as a participant:
// assigns it a process-table slot. Ancestors call this once at startup;
// children call it again after fork/exec (their slot is re-derived from
// their own pid).
func (r *Registry) ParticipantInit(ctx context.Context, pid int32) (int32, error) {
	return r.g.GetOrAssignSlot(pid)
}

// InitChild is called by a freshly spawned child, after it has inherited
// the ancestor's region file descriptors (via os.StartProcess's
// ExtraFiles or equivalent), to attach its own handle table and claim a
// process-table slot. Returns the child's handle table, ready for use.
func (r *Registry) InitChild(ctx context.Context, pid int32) (*handle.Table, error) {
	if _, err := r.g.GetOrAssignSlot(pid); err != nil {
		return nil, err
	}
	return r.handles, nil
}

// ChildDied runs the abnormal-termination sweep spec.md's design notes
// call for: free the dead child's process-table slot, then clear its bit
// from every live object's proxy bitmap it might have been holding. A
// true exhaustive sweep would need to enumerate every live shared object,
// which this runtime does not globally track (objects are reached only
// through handles their owners hold); SweepProxies lets a caller that does
// maintain such an index (e.g. a type's own container) drive the clear.
func (r *Registry) ChildDied(ctx context.Context, pid int32, slot int32, sweep func(clear func(*sharedobject.Header) error) error) error {
	r.g.FreeSlot(pid)
	if sweep == nil {
		return nil
	}
	return sweep(func(h *sharedobject.Header) error {
		return h.ClearProxyBit(ctx, slot, headerOnlyDestroyer{})
	})
}

// headerOnlyDestroyer satisfies sharedobject.Destroyer for ChildDied's
// sweep when the caller has no payload-specific teardown to run (the
// sweep only clears a stale bit; if that happens to be the last
// reference, there is nothing further this registry can reclaim without
// knowing the concrete type, so it is left to the owning container's own
// Destroy wiring to have already run DecRef through its real Destroyer).
type headerOnlyDestroyer struct{}

func (headerOnlyDestroyer) Destroy(ctx context.Context, h *sharedobject.Header) error { return nil }
