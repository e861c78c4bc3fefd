// Package lock implements the reentrant, blocking, cross-participant mutex
// every SharedObject and the Globals region registry is guarded by: a
// spinlock for the short owner/nest-count critical section, plus a
// SemSet-backed sleep/wake path for the contended case, and round-robin
// waiter selection on release to bound starvation.
//
// Grounded in the teacher repo's own mutex-plus-waiter-set pattern
// (internal/runtime/actor_system.go's supervision-tree locking,
// internal/runtime/block_manager.go's per-block locking), generalized from
// an in-process sync.Mutex to a cross-process primitive backed by a
// spinlock word and a semset.Set.
package lock

import (
	"context"

	"github.com/kdart/procshare/internal/config"
	"github.com/kdart/procshare/internal/procerr"
	"github.com/kdart/procshare/internal/semset"
	"github.com/kdart/procshare/internal/spinlock"
)

// SleepRecorder lets Lock record, in the shared sleep table, which Lock a
// waiting participant is blocked on — so a diagnostics tool (or a future
// deadlock detector) can walk the wait graph. Implemented by
// internal/globals.Globals; Lock itself has no notion of Globals to avoid
// an import cycle (Globals' own region table is itself guarded by a Lock).
type SleepRecorder interface {
	Record(slot int32, waitingOn uintptr)
	Clear(slot int32)
}

// Lock is a reentrant mutex safe to place directly in shared memory: every
// field is a plain integer or fixed-width bitmap, so its bit pattern means
// the same thing to every participant regardless of attach address.
type Lock struct {
	spin    spinlock.Spinlock
	owner   int32 // -1 = unowned
	nest    int32
	waiters [config.WaiterWords]uint64
	cursor  uint32 // round-robin release cursor
}

// Init sets a Lock to its unowned, unheld state. Call once, at allocation
// time, before any participant uses the Lock.
func (l *Lock) Init() {
	l.owner = -1
	l.nest = 0
	l.waiters = [config.WaiterWords]uint64{}
	l.cursor = 0
}

// OwnerSlot returns the current owner's process-table slot, or -1 if
// unowned. Racy by nature (the value may change the instant it's
// observed); intended for diagnostics, not correctness decisions.
func (l *Lock) OwnerSlot() int32 {
	return l.owner
}

// TryAcquire attempts to take the lock for slot without blocking.
func (l *Lock) TryAcquire(slot int32) bool {
	l.spin.Lock()
	defer l.spin.Unlock()
	if l.owner == -1 || l.owner == slot {
		l.owner = slot
		l.nest++
		return true
	}
	return false
}

// Acquire blocks until slot holds the lock, sleeping on sem between
// attempts rather than spinning. addr identifies this Lock for the sleep
// table (typically the Lock's own shared-memory address via a handle).
func (l *Lock) Acquire(ctx context.Context, slot int32, addr uintptr, sem *semset.Set, sleeper SleepRecorder) error {
	for {
		if l.TryAcquire(slot) {
			return nil
		}
		l.spin.Lock()
		setBit(&l.waiters, slot)
		l.spin.Unlock()

		sleeper.Record(slot, addr)
		err := sem.Down(ctx, slot)
		sleeper.Clear(slot)
		if err != nil {
			l.spin.Lock()
			clearBit(&l.waiters, slot)
			l.spin.Unlock()
			return err
		}
		// woken: retry TryAcquire from the top.
	}
}

// Release releases one level of nesting for slot, and if the nest count
// reaches zero, wakes the next waiter chosen round-robin from the waiters
// bitmap.
func (l *Lock) Release(slot int32, sem *semset.Set) error {
	l.spin.Lock()
	if l.owner != slot {
		l.spin.Unlock()
		return procerr.Wrap(procerr.ErrNonOwnerRelease, "lock.Release")
	}
	l.nest--
	if l.nest > 0 {
		l.spin.Unlock()
		return nil
	}
	l.owner = -1
	chosen, found := nextWaiter(&l.waiters, l.cursor)
	if found {
		clearBit(&l.waiters, chosen)
		l.cursor = uint32(chosen) + 1
	}
	l.spin.Unlock()

	if found {
		return sem.Up(chosen)
	}
	return nil
}

func setBit(bits *[config.WaiterWords]uint64, slot int32) {
	bits[slot/64] |= 1 << uint(slot%64)
}

func clearBit(bits *[config.WaiterWords]uint64, slot int32) {
	bits[slot/64] &^= 1 << uint(slot%64)
}

// nextWaiter scans the bitmap starting at start (the persistent release
// cursor, which Release leaves just past the slot it last woke), wrapping
// around once, and returns the first set bit.
func nextWaiter(bits *[config.WaiterWords]uint64, start uint32) (int32, bool) {
	total := uint32(config.MaxProcesses)
	for i := uint32(0); i < total; i++ {
		slot := (start + i) % total
		if bits[slot/64]&(1<<uint(slot%64)) != 0 {
			return int32(slot), true
		}
	}
	return 0, false
}
