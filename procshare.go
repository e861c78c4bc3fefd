// Package procshare provides inter-process shared objects: values whose
// storage lives in OS shared memory rather than any one participant's
// heap, reference-counted across the whole process tree, safe to pass
// between an ancestor and its descendants without serialization.
//
// A Runtime is the embedding surface: one per process, created once with
// Open, shared by every goroutine in that process. Types are registered
// once with RegisterType; every operation (Get/Set/Append/...) happens
// through a Proxy returned by NewDict/NewList/NewTuple or
// OpenDict/OpenList/OpenTuple, never on a bare Go value.
//
// Grounded in the teacher's single process-wide runtime singleton
// (internal/runtime/actor_system.go's ActorSystem, created once via
// NewActorSystem and threaded through the rest of the process) and its
// top-level embedding surface shape (cmd/ binaries construct one runtime
// object and drive everything else through it).
package procshare

import (
	"context"
	"os"
	"reflect"
	"unsafe"

	"github.com/kdart/procshare/internal/config"
	"github.com/kdart/procshare/internal/globals"
	"github.com/kdart/procshare/internal/handle"
	"github.com/kdart/procshare/internal/monitor"
	"github.com/kdart/procshare/internal/procerr"
	"github.com/kdart/procshare/internal/proxy"
	"github.com/kdart/procshare/internal/registry"
	"github.com/kdart/procshare/internal/sharedalloc"
	"github.com/kdart/procshare/internal/shareddict"
	"github.com/kdart/procshare/internal/sharedheap"
	"github.com/kdart/procshare/internal/sharedlist"
	"github.com/kdart/procshare/internal/sharedobject"
)

// Runtime is one process's view onto the shared-memory tree: its own
// process-table slot, region table, handle table, type registry, and the
// default heap pair every type uses unless OverrideAllocation says
// otherwise.
type Runtime struct {
	g        *globals.Globals
	reg      *registry.Registry
	heaps    *heapPair
	codec    *registry.ScalarCodec
	synch    *monitor.Manager
	noSynch  monitor.NoSynchManager
	mySlot   int32
}

type heapPair struct {
	instance *sharedheap.Heap
	data     *sharedheap.Heap
	synced   bool
}

func (h *heapPair) InstanceHeap() *sharedheap.Heap { return h.instance }
func (h *heapPair) DataHeap() *sharedheap.Heap      { return h.data }
func (h *heapPair) Synchronized() bool              { return h.synced }

// Open creates a fresh shared-memory tree and returns the ancestor's
// Runtime. Call this once, before spawning any children.
func Open() (*Runtime, error) {
	g, err := globals.Init()
	if err != nil {
		return nil, err
	}
	reg := registry.New(g)
	heaps := &heapPair{
		instance: sharedheap.New(reg.HandleTable(), g),
		data:     sharedheap.New(reg.HandleTable(), g),
		synced:   true,
	}
	codec := &registry.ScalarCodec{Heap: heaps, Table: reg.HandleTable()}
	synch := &monitor.Manager{Sem: g.Sem, Sleeper: sleeperAdapter{g}, MySlot: g.MySlot(), LockAddr: objLockAddr}
	rt := &Runtime{g: g, reg: reg, heaps: heaps, codec: codec, synch: synch, mySlot: g.MySlot()}
	rt.registerBuiltins()
	return rt, nil
}

// OpenChild builds another participant's Runtime on parent, the Globals of
// an existing Runtime in this OS process, claiming its own process-table
// slot. The new Runtime gets its own heap pair and type registry (the
// built-in types are registered automatically; type registration is
// process-local bookkeeping, not itself shared) and reaches objects other
// participants created through their handles.
func OpenChild(parent *globals.Globals) (*Runtime, error) {
	if err := parent.CheckProtocolVersion(globals.ProtocolVersion); err != nil {
		return nil, err
	}
	slot, err := parent.GetOrAssignSlot(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	reg := registry.New(parent)
	heaps := &heapPair{
		instance: sharedheap.New(reg.HandleTable(), parent),
		data:     sharedheap.New(reg.HandleTable(), parent),
		synced:   true,
	}
	codec := &registry.ScalarCodec{Heap: heaps, Table: reg.HandleTable()}
	synch := &monitor.Manager{Sem: parent.Sem, Sleeper: sleeperAdapter{parent}, MySlot: slot, LockAddr: objLockAddr}
	rt := &Runtime{g: parent, reg: reg, heaps: heaps, codec: codec, synch: synch, mySlot: slot}
	rt.registerBuiltins()
	return rt, nil
}

// Globals exposes the process-tree-wide state (process table, region
// table, semaphore set) OpenChild needs to build another participant's
// Runtime. These tables are process-local Go memory, so the value can be
// handed only to participants in this same OS process.
func (r *Runtime) Globals() *globals.Globals { return r.g }

// Close tears down every region this Runtime's process created. Only the
// ancestor that called Open should call Close; a child's OpenChild-created
// Runtime should simply exit.
func (r *Runtime) Close() error { return r.g.Cleanup() }

// HeapStats reports this Runtime's default instance and data heaps'
// per-size-class occupancy, for cmd/procshare-inspect.
func (r *Runtime) HeapStats() (instance, data [config.NofAllocSizes]sharedheap.ClassStats) {
	return r.heaps.instance.Stats(), r.heaps.data.Stats()
}

type sleeperAdapter struct{ g *globals.Globals }

func (s sleeperAdapter) Record(slot int32, waitingOn uintptr) { s.g.SleepTable.Record(slot, waitingOn) }
func (s sleeperAdapter) Clear(slot int32)                     { s.g.SleepTable.Clear(slot) }

// objLockAddr gives Monitor.Enter a stable per-object address to register
// in the sleep table for deadlock diagnostics: the object header's own
// address is unique and stable for the object's lifetime.
func objLockAddr(h *sharedobject.Header) uintptr { return headerAddr(h) }

func headerAddr(h *sharedobject.Header) uintptr { return uintptr(unsafe.Pointer(h)) }

// Kind names the built-in container types, which NewDict, NewList and
// NewTuple construct. Application-defined shared types register their own
// HeapProvider/SyncManager via RegisterType and construct instances with
// their own constructors; this package has no call that wraps such an
// instance in a Proxy.
type Kind int

const (
	// KindDict creates a SharedDictBase-equivalent open-addressed map.
	KindDict Kind = iota
	// KindList creates a mutable, vector-backed sequence.
	KindList
	// KindTuple creates an immutable, fixed-length sequence.
	KindTuple
)

var (
	dictType  = reflect.TypeOf(shareddict.Dict{})
	listType  = reflect.TypeOf(sharedlist.List{})
	tupleType = reflect.TypeOf(sharedlist.Tuple{})
)

// registerBuiltins runs once per Runtime rather than at package init: each
// Runtime has its own heap pair, so the built-in types' registration must
// be per-instance too.
func (r *Runtime) registerBuiltins() {
	_ = r.reg.RegisterType(dictType, r.heaps, r.synch)
	_ = r.reg.RegisterType(listType, r.heaps, r.synch)
	_ = r.reg.RegisterType(tupleType, r.heaps, r.synch)
}

// RegisterType associates an application-defined shared type with the
// heaps and synchronization manager it should use. synch must not be
// nil (spec.md §9: a missing synchronization manager is a configuration
// error, not a silent unsynchronized fallback). Pass OverrideAllocation's
// result, or Runtime's own default heap pair, as heaps.
func (r *Runtime) RegisterType(goType reflect.Type, heaps sharedalloc.HeapProvider, synch SyncManager) error {
	return r.reg.RegisterType(goType, heaps, synch)
}

// SyncManager is re-exported from internal/monitor's shape for callers
// implementing a custom synchronization manager.
type SyncManager = registry.SyncManager

// DefaultHeaps returns this Runtime's shared default instance/data heap
// pair, for RegisterType calls that don't need a dedicated heap.
func (r *Runtime) DefaultHeaps() sharedalloc.HeapProvider { return r.heaps }

// DefaultSynch returns this Runtime's default Monitor-based
// synchronization manager.
func (r *Runtime) DefaultSynch() SyncManager { return r.synch }

// NoSynch returns the opt-out synchronization manager: a type registered
// with this manager never takes its object lock on Enter, for
// single-writer or externally-synchronized use cases.
func (r *Runtime) NoSynch() SyncManager { return r.noSynch }

// OverrideAllocation builds a dedicated HeapProvider backed by its own
// pair of SharedHeap roots, for a type that should not share its class
// lists with every other registered type — spec.md §4.7's
// "override_allocation" escape hatch, reified here as an explicit
// constructor rather than a per-call flag, since Go's static type
// registration already gives each type its own entry to carry it on.
func (r *Runtime) OverrideAllocation(synchronized bool) sharedalloc.HeapProvider {
	return &heapPair{
		instance: sharedheap.New(r.reg.HandleTable(), r.g),
		data:     sharedheap.New(r.reg.HandleTable(), r.g),
		synced:   synchronized,
	}
}

// NewDict creates a new shared dict and returns a Proxy onto it. T must
// have been registered (RegisterType(dictType, ...)) via Open's implicit
// registerBuiltins, or by the caller for a custom codec.
func (r *Runtime) NewDict(ctx context.Context) (*proxy.Proxy, error) {
	d, err := shareddict.New(ctx, r.heaps, r.reg.HandleTable(), r.codec)
	if err != nil {
		return nil, err
	}
	entry, ok := r.reg.Lookup(dictType)
	if !ok {
		return nil, procerr.ErrNotShareable
	}
	return proxy.New(d, entry.Synch, r.mySlot), nil
}

// NewList creates a new shared list and returns a Proxy onto it.
func (r *Runtime) NewList(ctx context.Context, capacityHint int) (*proxy.Proxy, error) {
	l, err := sharedlist.New(ctx, r.heaps, r.reg.HandleTable(), r.codec, capacityHint)
	if err != nil {
		return nil, err
	}
	entry, ok := r.reg.Lookup(listType)
	if !ok {
		return nil, procerr.ErrNotShareable
	}
	return proxy.New(l, entry.Synch, r.mySlot), nil
}

// NewTuple creates an immutable shared tuple from vs and returns a Proxy
// onto it.
func (r *Runtime) NewTuple(ctx context.Context, vs []interface{}) (*proxy.Proxy, error) {
	t, err := sharedlist.NewTuple(ctx, r.heaps, r.reg.HandleTable(), r.codec, vs)
	if err != nil {
		return nil, err
	}
	entry, ok := r.reg.Lookup(tupleType)
	if !ok {
		return nil, procerr.ErrNotShareable
	}
	return proxy.New(t, entry.Synch, r.mySlot), nil
}

// OpenDict attaches a Proxy to an existing shared dict reached by the
// position-independent handle a prior Share (NewDict) or AddressOf call
// produced, e.g. one learned by another participant through an attribute,
// a shared list element, or any other out-of-band channel. Unlike NewDict,
// this does not allocate: it resolves h's header and payload in this
// Runtime's own heaps and handle table.
func (r *Runtime) OpenDict(h handle.Handle) (*proxy.Proxy, error) {
	hdr, err := sharedalloc.HeaderOf(r.heaps, h)
	if err != nil {
		return nil, err
	}
	d, err := shareddict.Open(r.heaps, r.reg.HandleTable(), hdr, h, r.codec)
	if err != nil {
		return nil, err
	}
	entry, ok := r.reg.Lookup(dictType)
	if !ok {
		return nil, procerr.ErrNotShareable
	}
	return proxy.New(d, entry.Synch, r.mySlot), nil
}

// OpenList attaches a Proxy to an existing shared list reached by handle,
// the List analog of OpenDict.
func (r *Runtime) OpenList(h handle.Handle) (*proxy.Proxy, error) {
	hdr, err := sharedalloc.HeaderOf(r.heaps, h)
	if err != nil {
		return nil, err
	}
	l, err := sharedlist.Open(r.heaps, r.reg.HandleTable(), hdr, h, r.codec)
	if err != nil {
		return nil, err
	}
	entry, ok := r.reg.Lookup(listType)
	if !ok {
		return nil, procerr.ErrNotShareable
	}
	return proxy.New(l, entry.Synch, r.mySlot), nil
}

// OpenTuple attaches a Proxy to an existing shared tuple reached by
// handle, the Tuple analog of OpenDict.
func (r *Runtime) OpenTuple(h handle.Handle) (*proxy.Proxy, error) {
	hdr, err := sharedalloc.HeaderOf(r.heaps, h)
	if err != nil {
		return nil, err
	}
	t, err := sharedlist.OpenTuple(r.heaps, r.reg.HandleTable(), hdr, h, r.codec)
	if err != nil {
		return nil, err
	}
	entry, ok := r.reg.Lookup(tupleType)
	if !ok {
		return nil, procerr.ErrNotShareable
	}
	return proxy.New(t, entry.Synch, r.mySlot), nil
}

// handled is implemented by every built-in shared container, returning
// the position-independent handle to its own shared payload.
type handled interface {
	Handle() (handle.Handle, error)
}

// AddressOf returns the handle a Proxy's underlying object is reached
// through — the position-independent (region, offset) pair other
// participants can resolve without needing Go pointer identity, the
// cross-process analog of "address of" for a shared object.
func AddressOf(p *proxy.Proxy) (handle.Handle, error) {
	h, ok := p.Referent().(handled)
	if !ok {
		return handle.Null, procerr.ErrNotShareable
	}
	return h.Handle()
}

// InitChild registers this process as a participant after fork/exec and
// returns its process-table slot. Call once, early in the child's main.
func (r *Runtime) InitChild(ctx context.Context) (int32, error) {
	return r.reg.ParticipantInit(ctx, int32(os.Getpid()))
}

// ChildDied runs the abnormal-termination cleanup sweep: frees pid's
// process-table slot and, if sweep is non-nil, clears pid's bit from
// every object sweep chooses to visit. The embedding application supplies
// sweep because this runtime does not itself maintain a global index of
// every live shared object — only each object's own container does.
func (r *Runtime) ChildDied(ctx context.Context, pid int32, slot int32, sweep func(clear func(*sharedobject.Header) error) error) error {
	return r.reg.ChildDied(ctx, pid, slot, sweep)
}

// config re-export for callers that want to size pools against the
// runtime's fixed limits without importing internal/config directly.
const (
	MaxParticipants = config.MaxProcesses
	MaxRegions      = config.MaxRegions
)

// attrDict lazily creates (if absent) and returns the per-object attribute
// dict referenced by hdr.DictHandle, under hdr's own lock: every shared
// object may carry auxiliary attributes the way spec.md §4.8 describes,
// stored as an ordinary shareddict.Dict rather than a bespoke structure.
func (r *Runtime) attrDict(ctx context.Context, hdr *sharedobject.Header) (*shareddict.Dict, error) {
	if !hdr.DictHandle.IsNull() {
		return shareddict.Open(r.heaps, r.reg.HandleTable(), hdr, hdr.DictHandle, r.codec)
	}
	d, err := shareddict.New(ctx, r.heaps, r.reg.HandleTable(), r.codec)
	if err != nil {
		return nil, err
	}
	h, err := d.Handle()
	if err != nil {
		return nil, err
	}
	hdr.DictHandle = h
	return d, nil
}

// SharedGetAttribute reads a named attribute off p's underlying object.
func (r *Runtime) SharedGetAttribute(ctx context.Context, p *proxy.Proxy, name string) (interface{}, error) {
	hdr := p.Referent().Header()
	token, err := r.synch.Enter(ctx, hdr, "__getattr__")
	if err != nil {
		return nil, err
	}
	defer r.synch.Leave(hdr, token)
	if hdr.DictHandle.IsNull() {
		return nil, procerr.ErrNoSuchAttribute
	}
	d, err := r.attrDict(ctx, hdr)
	if err != nil {
		return nil, err
	}
	v, err := d.Get(ctx, name)
	if err != nil {
		return nil, procerr.ErrNoSuchAttribute
	}
	return v, nil
}

// SharedSetAttr assigns a named attribute on p's underlying object,
// creating the attribute dict on first use.
func (r *Runtime) SharedSetAttr(ctx context.Context, p *proxy.Proxy, name string, value interface{}) error {
	hdr := p.Referent().Header()
	token, err := r.synch.Enter(ctx, hdr, "__setattr__")
	if err != nil {
		return err
	}
	defer r.synch.Leave(hdr, token)
	d, err := r.attrDict(ctx, hdr)
	if err != nil {
		return err
	}
	return d.Set(ctx, name, value)
}

// SharedDelAttr removes a named attribute from p's underlying object.
func (r *Runtime) SharedDelAttr(ctx context.Context, p *proxy.Proxy, name string) error {
	hdr := p.Referent().Header()
	token, err := r.synch.Enter(ctx, hdr, "__delattr__")
	if err != nil {
		return err
	}
	defer r.synch.Leave(hdr, token)
	if hdr.DictHandle.IsNull() {
		return procerr.ErrNoSuchAttribute
	}
	d, err := r.attrDict(ctx, hdr)
	if err != nil {
		return err
	}
	if err := d.Delete(ctx, name); err != nil {
		return procerr.ErrNoSuchAttribute
	}
	return nil
}
