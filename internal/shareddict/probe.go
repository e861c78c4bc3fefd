package shareddict

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/kdart/procshare/internal/handle"
	"github.com/kdart/procshare/internal/sharedalloc"
)

var payloadSize = int(unsafe.Sizeof(payload{}))
var entrySize = int(unsafe.Sizeof(entry{}))

func payloadAt(addr uintptr) *payload {
	return (*payload)(unsafe.Pointer(addr))
}

func uintptrOf(p *payload) uintptr {
	return uintptr(unsafe.Pointer(p))
}

func allocTable(ctx context.Context, heap sharedalloc.HeapProvider, table *handle.Table, slots uint64) (handle.Handle, error) {
	h, err := sharedalloc.AllocData(ctx, heap, entrySize*int(slots))
	if err != nil {
		return handle.Null, err
	}
	addr, err := table.ToPointer(h)
	if err != nil {
		return handle.Null, err
	}
	raw := unsafe.Slice((*entry)(unsafe.Pointer(addr)), slots)
	for i := range raw {
		raw[i] = entry{state: stateFree}
	}
	return h, nil
}

func (d *Dict) entryAt(i uint64) (*entry, error) {
	return d.entryAtTable(d.payload.table, i)
}

func (d *Dict) entryAtTable(tableHandle handle.Handle, i uint64) (*entry, error) {
	addr, err := d.table.ToPointer(tableHandle)
	if err != nil {
		return nil, err
	}
	base := (*entry)(unsafe.Pointer(addr))
	slots := unsafe.Slice(base, d.payload.mask+1)
	return &slots[i], nil
}

func (d *Dict) setAt(i uint64, e entry) error {
	slot, err := d.entryAt(i)
	if err != nil {
		return err
	}
	*slot = e
	return nil
}

// probe runs the perturbed open-addressing search spec.md §4.11 specifies:
// i := hash & mask; on collision, perturb >>= 5; i = (i*5 + perturb + 1) &
// mask. A tombstone is skipped over (deletions must not break the probe
// chain for keys inserted after them); the search stops at the first
// stateFree slot.
//
// Mutation safety: the table handle and the candidate entry's key handle
// are snapshotted before calling codec.Equal, which may re-enter (Equal
// can invoke a proxied comparison on a shared key object). If the table
// was resized, or the entry's key handle replaced, while Equal ran, the
// whole probe restarts against the current table, matching spec.md's
// "snapshot and retry" rule rather than dereferencing a freed table. An
// error from Equal counts as "not equal".
func (d *Dict) probe(ctx context.Context, key interface{}) (*entry, uint64, bool, error) {
	hash := hashKey(key)
restart:
	for {
		tableBefore := d.payload.table
		mask := d.payload.mask
		i := hash & mask
		perturb := hash
		for {
			e, err := d.entryAtTable(tableBefore, i)
			if err != nil {
				return nil, 0, false, err
			}
			switch e.state {
			case stateFree:
				return nil, 0, false, nil
			case stateInUse:
				if e.hash == hash {
					keyH := e.keyH
					eq, err := d.codec.Equal(ctx, keyH, key)
					if err != nil {
						eq = false
					}
					if d.payload.table != tableBefore || e.keyH != keyH {
						continue restart // table resized or entry replaced mid-comparison
					}
					if eq {
						return e, i, true, nil
					}
				}
			}
			if d.payload.table != tableBefore {
				break
			}
			perturb >>= 5
			i = (i*5 + perturb + 1) & mask
		}
		// fell through because the table changed: retry from scratch.
	}
}

// insertSlot finds the slot a new entry for (key, hash) should occupy: the
// first free-or-deleted slot on the probe chain, reusing a tombstone when
// one is found so fill (which counts tombstones) does not grow needlessly.
func (d *Dict) insertSlot(ctx context.Context, key interface{}, hash uint64) (uint64, bool, error) {
	mask := d.payload.mask
	i := hash & mask
	perturb := hash
	var firstTombstone uint64
	haveTombstone := false
	for {
		e, err := d.entryAt(i)
		if err != nil {
			return 0, false, err
		}
		switch e.state {
		case stateFree:
			if haveTombstone {
				return firstTombstone, true, nil
			}
			return i, false, nil
		case stateDeleted:
			if !haveTombstone {
				firstTombstone = i
				haveTombstone = true
			}
		}
		perturb >>= 5
		i = (i*5 + perturb + 1) & mask
	}
}

// resize grows the table to the smallest power of two >= minSlots,
// rehashing every live entry. Tombstones are dropped, which is the whole
// point of resizing on fill rather than used alone.
func (d *Dict) resize(ctx context.Context, minSlots uint64) error {
	newSlots := uint64(minTableSize)
	for newSlots < minSlots {
		newSlots <<= 1
	}
	newTable, err := allocTable(ctx, d.heap, d.table, newSlots)
	if err != nil {
		return err
	}
	oldTable, oldMask := d.payload.table, d.payload.mask

	newMask := newSlots - 1
	for i := uint64(0); i <= oldMask; i++ {
		e, err := d.entryAtTable(oldTable, i)
		if err != nil {
			return err
		}
		if e.state != stateInUse {
			continue
		}
		slot := rehashSlot(ctx, d, newTable, newMask, e.hash)
		dst, err := d.entryAtTable(newTable, slot)
		if err != nil {
			return err
		}
		*dst = *e
	}
	d.payload.table = newTable
	d.payload.mask = newMask
	d.payload.fill = d.payload.used
	return sharedalloc.FreeData(ctx, d.heap, oldTable)
}

// rehashSlot finds an empty slot in a freshly allocated (all-free) table:
// no tombstones exist yet, so the search is a pure probe to the first free
// slot.
func rehashSlot(ctx context.Context, d *Dict, table handle.Handle, mask, hash uint64) uint64 {
	i := hash & mask
	perturb := hash
	for {
		e, err := d.entryAtTable(table, i)
		if err == nil && e.state == stateFree {
			return i
		}
		perturb >>= 5
		i = (i*5 + perturb + 1) & mask
	}
}

func hashKey(key interface{}) uint64 {
	return hashPrimitive(key)
}

func stringify(v interface{}) string {
	return fmt.Sprintf("%v", v)
}
