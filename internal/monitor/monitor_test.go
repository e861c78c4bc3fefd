package monitor

import (
	"context"
	"testing"

	"github.com/kdart/procshare/internal/procerr"
	"github.com/kdart/procshare/internal/semset"
	"github.com/kdart/procshare/internal/sharedobject"
)

type noopSleeper struct{}

func (noopSleeper) Record(slot int32, waitingOn uintptr) {}
func (noopSleeper) Clear(slot int32)                     {}

func TestManager_EnterLeaveRoundTrip(t *testing.T) {
	sem, err := semset.New()
	if err != nil {
		t.Fatalf("semset.New: %v", err)
	}
	defer sem.Close()

	var hdr sharedobject.Header
	hdr.Init(false)

	m := &Manager{Sem: sem, Sleeper: noopSleeper{}, MySlot: 1}
	ctx := context.Background()

	token, err := m.Enter(ctx, &hdr, "op")
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if hdr.ObjLock.OwnerSlot() != 1 {
		t.Fatalf("OwnerSlot() = %d, want 1 while entered", hdr.ObjLock.OwnerSlot())
	}
	if err := m.Leave(&hdr, token); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if hdr.ObjLock.OwnerSlot() != -1 {
		t.Fatalf("OwnerSlot() = %d, want -1 after Leave", hdr.ObjLock.OwnerSlot())
	}
}

func TestManager_EnterFailsOnCorruptObject(t *testing.T) {
	sem, err := semset.New()
	if err != nil {
		t.Fatalf("semset.New: %v", err)
	}
	defer sem.Close()

	var hdr sharedobject.Header
	hdr.Init(false)
	hdr.MarkCorrupt()

	m := &Manager{Sem: sem, Sleeper: noopSleeper{}, MySlot: 1}
	if _, err := m.Enter(context.Background(), &hdr, "op"); err != procerr.ErrObjectCorrupt {
		t.Fatalf("Enter on corrupt header: got %v, want ErrObjectCorrupt", err)
	}
}

func TestManager_NoSynchBypassesLock(t *testing.T) {
	sem, err := semset.New()
	if err != nil {
		t.Fatalf("semset.New: %v", err)
	}
	defer sem.Close()

	var hdr sharedobject.Header
	hdr.Init(true)

	m := &Manager{Sem: sem, Sleeper: noopSleeper{}, MySlot: 1}
	token, err := m.Enter(context.Background(), &hdr, "op")
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if token != nil {
		t.Fatalf("NoSynch Enter should return a nil token, got %v", token)
	}
	if hdr.ObjLock.OwnerSlot() != -1 {
		t.Fatal("NoSynch Enter should never take the object lock")
	}
	if err := m.Leave(&hdr, token); err != nil {
		t.Fatalf("Leave: %v", err)
	}
}

func TestNoSynchManager_NeverLocks(t *testing.T) {
	var hdr sharedobject.Header
	hdr.Init(false)
	var m NoSynchManager

	token, err := m.Enter(context.Background(), &hdr, "op")
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if hdr.ObjLock.OwnerSlot() != -1 {
		t.Fatal("NoSynchManager should never take the object lock")
	}
	if err := m.Leave(&hdr, token); err != nil {
		t.Fatalf("Leave: %v", err)
	}
}
