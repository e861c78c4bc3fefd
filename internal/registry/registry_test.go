package registry

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"

	"github.com/kdart/procshare/internal/globals"
	"github.com/kdart/procshare/internal/procerr"
	"github.com/kdart/procshare/internal/sharedobject"
)

type fakeSynch struct{}

func (fakeSynch) Enter(ctx context.Context, obj *sharedobject.Header, opName string) (interface{}, error) {
	return nil, nil
}
func (fakeSynch) Leave(obj *sharedobject.Header, token interface{}) error { return nil }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	g, err := globals.Init()
	if err != nil {
		t.Fatalf("globals.Init: %v", err)
	}
	t.Cleanup(func() { _ = g.Cleanup() })
	return New(g)
}

func TestRegistry_RegisterTypeThenLookup(t *testing.T) {
	r := newTestRegistry(t)
	goType := reflect.TypeOf(int(0))

	if err := r.RegisterType(goType, nil, fakeSynch{}); err != nil {
		t.Fatalf("RegisterType: %v", err)
	}
	entry, ok := r.Lookup(goType)
	if !ok {
		t.Fatal("Lookup did not find the just-registered type")
	}
	if entry.Name != goType.String() {
		t.Fatalf("entry.Name = %q, want %q", entry.Name, goType.String())
	}
}

func TestRegistry_LookupUnregisteredTypeFails(t *testing.T) {
	r := newTestRegistry(t)
	if _, ok := r.Lookup(reflect.TypeOf(string(""))); ok {
		t.Fatal("Lookup should fail for a type that was never registered")
	}
}

func TestRegistry_RegisterTypeRequiresSynch(t *testing.T) {
	r := newTestRegistry(t)
	err := r.RegisterType(reflect.TypeOf(int(0)), nil, nil)
	if !errors.Is(err, procerr.ErrSynchManagerRequired) {
		t.Fatalf("RegisterType(synch=nil) = %v, want ErrSynchManagerRequired", err)
	}
}

func TestRegistry_RegisterTypeRejectsDuplicate(t *testing.T) {
	r := newTestRegistry(t)
	goType := reflect.TypeOf(int(0))
	if err := r.RegisterType(goType, nil, fakeSynch{}); err != nil {
		t.Fatalf("first RegisterType: %v", err)
	}
	if err := r.RegisterType(goType, nil, fakeSynch{}); !errors.Is(err, procerr.ErrTypeAlreadyRegistered) {
		t.Fatalf("second RegisterType = %v, want ErrTypeAlreadyRegistered", err)
	}
}

func TestRegistry_ParticipantInitAssignsSlot(t *testing.T) {
	r := newTestRegistry(t)
	slot, err := r.ParticipantInit(context.Background(), 12345)
	if err != nil {
		t.Fatalf("ParticipantInit: %v", err)
	}
	if slot < 0 {
		t.Fatalf("ParticipantInit returned slot %d, want >= 0", slot)
	}
	// calling again with the same pid re-finds the same slot.
	again, err := r.ParticipantInit(context.Background(), 12345)
	if err != nil {
		t.Fatalf("ParticipantInit (again): %v", err)
	}
	if again != slot {
		t.Fatalf("ParticipantInit re-called for the same pid = %d, want %d", again, slot)
	}
}

func TestRegistry_InitChildReturnsHandleTable(t *testing.T) {
	r := newTestRegistry(t)
	tbl, err := r.InitChild(context.Background(), int32(os.Getpid())+1)
	if err != nil {
		t.Fatalf("InitChild: %v", err)
	}
	if tbl != r.HandleTable() {
		t.Fatal("InitChild should return the registry's own handle table")
	}
}

func TestRegistry_ChildDiedFreesSlotAndSweeps(t *testing.T) {
	r := newTestRegistry(t)
	const pid = int32(999)
	slot, err := r.ParticipantInit(context.Background(), pid)
	if err != nil {
		t.Fatalf("ParticipantInit: %v", err)
	}

	var hdr sharedobject.Header
	hdr.Init(false)
	hdr.SetProxyBit(slot)

	swept := false
	sweep := func(clear func(*sharedobject.Header) error) error {
		swept = true
		return clear(&hdr)
	}
	if err := r.ChildDied(context.Background(), pid, slot, sweep); err != nil {
		t.Fatalf("ChildDied: %v", err)
	}
	if !swept {
		t.Fatal("ChildDied did not invoke the sweep callback")
	}
	if hdr.Reachable() {
		t.Fatal("the dead child's proxy bit should have been cleared")
	}

	again, err := r.ParticipantInit(context.Background(), pid)
	if err != nil {
		t.Fatalf("ParticipantInit after ChildDied: %v", err)
	}
	if again != slot {
		t.Fatalf("freed slot %d was not reused, got %d", slot, again)
	}
}

func TestRegistry_ChildDiedWithoutSweepIsNoop(t *testing.T) {
	r := newTestRegistry(t)
	slot, err := r.ParticipantInit(context.Background(), 42)
	if err != nil {
		t.Fatalf("ParticipantInit: %v", err)
	}
	if err := r.ChildDied(context.Background(), 42, slot, nil); err != nil {
		t.Fatalf("ChildDied(sweep=nil): %v", err)
	}
}
