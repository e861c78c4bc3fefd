// Package proxy implements the per-participant stand-in for a shared
// object: every operation against a shared container goes through a
// Proxy, which wraps it in the registered type's synchronization manager
// (Monitor.Enter/Leave) and participates in the object's proxy bitmap so
// an abnormal participant death can be swept.
//
// Grounded in the teacher's remote-actor-reference pattern
// (internal/runtime/actor_system.go's ActorRef, a lightweight local
// stand-in that forwards calls through the actor system rather than
// touching actor state directly), reworked from message-passing dispatch
// to the spec's direct-call-through-lock dispatch, and spec.md §9's
// explicit-capability-table resolution of dynamic method dispatch, which
// this package's Dispatchable interface implements: dispatch is a plain
// Go method lookup (Invoke's own switch statement) rather than reflection
// over a registered method table.
package proxy

import (
	"context"

	"github.com/kdart/procshare/internal/sharedobject"
)

// SyncManager mirrors internal/registry.SyncManager's shape; proxy
// declares its own copy (rather than importing registry) to keep
// registry -> proxy a one-way edge.
type SyncManager interface {
	Enter(ctx context.Context, obj *sharedobject.Header, opName string) (interface{}, error)
	Leave(obj *sharedobject.Header, token interface{}) error
}

// Dispatchable is the concrete per-type operation table a Proxy forwards
// through, implemented by internal/shareddict.Dict, internal/sharedlist's
// List and Tuple, and any other registered shared type. It embeds
// sharedobject.Destroyer so Release can hand p.obj straight to
// Header.ClearProxyBit as the destroyer to run once the last reference
// disappears, without a type assertion at the call site.
type Dispatchable interface {
	sharedobject.Destroyer
	Header() *sharedobject.Header
	Invoke(ctx context.Context, name string, args []interface{}) (interface{}, error)
}

// Proxy is the live, per-participant handle a caller actually holds for a
// shared object. Constructing one does not itself take any lock; each
// CallMethod acquires and releases around a single operation.
type Proxy struct {
	obj    Dispatchable
	synch  SyncManager
	mySlot int32
}

// New wraps obj in a Proxy synchronized by synch, and marks this
// participant's slot in obj's proxy bitmap: the proxy itself now counts
// toward obj's liveness.
func New(obj Dispatchable, synch SyncManager, mySlot int32) *Proxy {
	obj.Header().SetProxyBit(mySlot)
	return &Proxy{obj: obj, synch: synch, mySlot: mySlot}
}

// Release clears this participant's proxy bit, running obj's destructor
// if that was the object's last reference.
func (p *Proxy) Release(ctx context.Context) error {
	return p.obj.Header().ClearProxyBit(ctx, p.mySlot, p.obj)
}

// Referent returns the wrapped Dispatchable, for internal/registry and
// internal/sharedalloc callers that need the concrete value (e.g. to
// re-wrap a result as a new Proxy, or to unwrap a Proxy argument before
// an Invoke call).
func (p *Proxy) Referent() Dispatchable { return p.obj }

// CallMethod is every operation's entry point: enter the monitor,
// dispatch, leave. Any *Proxy arguments are unwrapped to their referent
// before Invoke sees them, matching spec.md §7's rule that a shared
// object never receives another object's proxy wrapper as an operand —
// only the underlying shared value.
func (p *Proxy) CallMethod(ctx context.Context, name string, args []interface{}) (interface{}, error) {
	hdr := p.obj.Header()
	token, err := p.synch.Enter(ctx, hdr, name)
	if err != nil {
		return nil, err
	}
	unwrapped := make([]interface{}, len(args))
	for i, a := range args {
		if ap, ok := a.(*Proxy); ok {
			unwrapped[i] = ap.obj
		} else {
			unwrapped[i] = a
		}
	}
	result, callErr := p.obj.Invoke(ctx, name, unwrapped)
	// Leave's own error is always discarded: callErr, if any, dominates.
	// Matches SharedObject_Leave in the original source, which restores
	// whatever error was already set before Leave ran and otherwise
	// clears it, so Leave never surfaces an error of its own.
	_ = p.synch.Leave(hdr, token)
	if callErr != nil {
		return nil, callErr
	}
	if result == p.obj {
		// "return self" idiom: preserve proxy identity across the call
		// rather than handing back the bare referent.
		return p, nil
	}
	return result, nil
}

// Enter acquires the underlying object's monitor for a critical section
// spanning more than one CallMethod — spec.md §8 scenario 2's
// "with monitor(d): d['c'] = d.get('c', 0) + 1" idiom, where the
// read-modify-write must happen under one lock acquisition rather than
// two independent CallMethod calls. Callers must pair every Enter with a
// Leave, typically via defer.
func (p *Proxy) Enter(ctx context.Context, opName string) (interface{}, error) {
	return p.synch.Enter(ctx, p.obj.Header(), opName)
}

// Leave releases the monitor acquired by Enter.
func (p *Proxy) Leave(token interface{}) error {
	return p.synch.Leave(p.obj.Header(), token)
}

// Corrupt reports whether the underlying object's header has been flagged
// with sharedobject.Header.MarkCorrupt; once it is, every later Enter on
// the object (from any participant) fails. CallMethod does not set the
// flag itself when an operation fails.
func (p *Proxy) Corrupt() bool { return p.obj.Header().Corrupt() }
