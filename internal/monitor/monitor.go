// Package monitor implements the default synchronization manager: enter
// acquires the shared object's lock, leave releases it. spec.md §4.10
// notes more elaborate managers could use the operation name for
// upgrade/downgrade or read/write separation; none ship here, but the
// SyncManager interface (declared in internal/registry to avoid an import
// cycle with internal/sharedobject) leaves room for one.
package monitor

import (
	"context"

	"github.com/kdart/procshare/internal/procerr"
	"github.com/kdart/procshare/internal/semset"
	"github.com/kdart/procshare/internal/sharedobject"
)

// Manager is the default Monitor: Enter acquires obj.ObjLock, Leave
// releases it. The operation name is ignored.
type Manager struct {
	Sem      *semset.Set
	Sleeper  Sleeper
	MySlot   int32
	LockAddr func(*sharedobject.Header) uintptr
}

// Sleeper matches internal/lock.SleepRecorder without importing it
// directly, since Manager only needs to pass it through.
type Sleeper interface {
	Record(slot int32, waitingOn uintptr)
	Clear(slot int32)
}

// Enter acquires obj's lock for the calling participant. If obj is
// already flagged corrupt, or synchronization is disabled for this type
// (NoSynch), Enter returns immediately: a nil token in the NoSynch case
// means Leave must not attempt to release anything.
func (m *Manager) Enter(ctx context.Context, obj *sharedobject.Header, opName string) (interface{}, error) {
	if obj.Corrupt() {
		return nil, procerr.ErrObjectCorrupt
	}
	if obj.NoSynchSet() {
		return nil, nil
	}
	addr := uintptr(0)
	if m.LockAddr != nil {
		addr = m.LockAddr(obj)
	}
	if err := obj.ObjLock.Acquire(ctx, m.MySlot, addr, m.Sem, m.Sleeper); err != nil {
		return nil, err
	}
	if obj.Corrupt() {
		_ = obj.ObjLock.Release(m.MySlot, m.Sem)
		return nil, procerr.ErrObjectCorrupt
	}
	return true, nil
}

// Leave releases obj's lock, unless token is nil (the NoSynch bypass
// Enter used).
func (m *Manager) Leave(obj *sharedobject.Header, token interface{}) error {
	if token == nil {
		return nil
	}
	return obj.ObjLock.Release(m.MySlot, m.Sem)
}

// NoSynchManager is the explicit opt-out manager spec.md's design notes
// invite as a deliberate choice rather than a silent omission: Enter never
// takes the object lock.
type NoSynchManager struct{}

func (NoSynchManager) Enter(ctx context.Context, obj *sharedobject.Header, opName string) (interface{}, error) {
	if obj.Corrupt() {
		return nil, procerr.ErrObjectCorrupt
	}
	return nil, nil
}

func (NoSynchManager) Leave(obj *sharedobject.Header, token interface{}) error {
	return nil
}
