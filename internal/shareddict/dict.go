// Package shareddict implements SharedDictBase: an open-addressed hash map
// whose entries live in shared memory as (state, hash, key handle, value
// handle) rows, with the mutation-safe lookup spec.md §4.11 requires
// (snapshot the table handle and the probed entry's key handle before a
// potentially reentrant comparison, restart if either changed underneath
// the probe) and tombstone deletion.
//
// Grounded in the teacher repo's own hash-bucket indexing idiom
// (internal/runtime/concurrency/lfmap.go's FNV-hashed, power-of-two bucket
// count), generalized from a Go-native chained map to the spec's
// open-addressed, handle-based layout, and in its size-classed allocation
// style (internal/allocator/pool.go) for the backing table's storage.
package shareddict

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/kdart/procshare/internal/handle"
	"github.com/kdart/procshare/internal/procerr"
	"github.com/kdart/procshare/internal/sharedalloc"
	"github.com/kdart/procshare/internal/sharedobject"
)

const (
	stateFree int32 = iota
	stateInUse
	stateDeleted
)

const minTableSize = 8

// entry is one row of the backing table: state-tagged, handle-valued.
// Plain integers and Handles only, safe for shared-memory overlay.
type entry struct {
	state  int32
	_      int32 // padding to keep hash 8-byte aligned
	hash   uint64
	keyH   handle.Handle
	valueH handle.Handle
}

// payload is the fixed layout placed directly after a Dict's SharedObject
// header: table size bookkeeping plus a handle to the entries array.
// spec.md's popitem scans from a "finger" abusively stored in slot[0].hash;
// this port gives it an honest field instead of stealing a bit from the
// first entry, a small, documented clarity improvement (see DESIGN.md).
type payload struct {
	mask   uint64
	fill   uint64
	used   uint64
	table  handle.Handle
	finger uint64
}

// KeyValue is a resolved (key, value) pair for snapshot operations.
type KeyValue struct {
	Key   interface{}
	Value interface{}
}

// Codec converts between a Go value and the (hash, handle) representation
// stored in the table. Registered per key/value type; internal/registry
// supplies the default built on internal/registry's Share/resolve
// primitives.
type Codec interface {
	Share(ctx context.Context, v interface{}) (handle.Handle, uint64, error)
	Resolve(ctx context.Context, h handle.Handle) (interface{}, error)
	Release(ctx context.Context, h handle.Handle) error
	Equal(ctx context.Context, h handle.Handle, v interface{}) (equal bool, err error)
}

// Dict is the per-participant handle onto a shared hash map.
type Dict struct {
	heap    sharedalloc.HeapProvider
	table   *handle.Table
	header  *sharedobject.Header
	payload *payload
	codec   Codec
}

// New allocates a fresh, empty Dict of minTableSize capacity on heap's
// instance heap.
func New(ctx context.Context, heap sharedalloc.HeapProvider, table *handle.Table, codec Codec) (*Dict, error) {
	h, hdr, err := sharedalloc.AllocInstance(ctx, heap, int(payloadSize))
	if err != nil {
		return nil, err
	}
	addr, err := table.ToPointer(h)
	if err != nil {
		return nil, err
	}
	p := payloadAt(addr)
	tableH, err := allocTable(ctx, heap, table, minTableSize)
	if err != nil {
		return nil, err
	}
	*p = payload{mask: minTableSize - 1, table: tableH}
	return &Dict{heap: heap, table: table, header: hdr, payload: p, codec: codec}, nil
}

// Open wraps an existing Dict payload reached via its SharedObject header.
func Open(heap sharedalloc.HeapProvider, table *handle.Table, hdr *sharedobject.Header, payloadHandle handle.Handle, codec Codec) (*Dict, error) {
	addr, err := table.ToPointer(payloadHandle)
	if err != nil {
		return nil, err
	}
	return &Dict{heap: heap, table: table, header: hdr, payload: payloadAt(addr), codec: codec}, nil
}

// Header returns the SharedObject header for this dict, for
// internal/proxy's Enter/Leave wrapping.
func (d *Dict) Header() *sharedobject.Header { return d.header }

// Handle returns the position-independent handle to this dict's payload,
// the form in which another participant (or another shared object
// embedding a handle field) refers to it.
func (d *Dict) Handle() (handle.Handle, error) {
	return d.table.ToHandle(uintptrOf(d.payload))
}

// Len returns the number of live entries.
func (d *Dict) Len() int { return int(d.payload.used) }

// hashPrimitive computes the hash probe looks a key up by. Stored entries
// carry the hash registry.ScalarCodec returned when it shared the key, so
// this returns the same value for every kind the codec boxes: FNV-1a for
// strings, the integer's bits for int/int64, the IEEE bits for float64,
// and 0/1 for bool.
func hashPrimitive(v interface{}) uint64 {
	switch x := v.(type) {
	case int:
		return uint64(int64(x))
	case int64:
		return uint64(x)
	case float64:
		return math.Float64bits(x)
	case bool:
		if x {
			return 1
		}
		return 0
	}
	h := fnv.New64a()
	switch x := v.(type) {
	case string:
		_, _ = h.Write([]byte(x))
	default:
		_, _ = h.Write([]byte(fmtFallback(v)))
	}
	return h.Sum64()
}

func intBytes(v int64) []byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b[:]
}

func fmtFallback(v interface{}) string {
	return stringify(v)
}

// Get returns the value for key, or ErrNoSuchKey if absent.
func (d *Dict) Get(ctx context.Context, key interface{}) (interface{}, error) {
	e, _, found, err := d.probe(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, procerr.ErrNoSuchKey
	}
	return d.codec.Resolve(ctx, e.valueH)
}

// Contains reports whether key is present.
func (d *Dict) Contains(ctx context.Context, key interface{}) (bool, error) {
	_, _, found, err := d.probe(ctx, key)
	return found, err
}

// Set assigns value to key, sharing and incref'ing value (and key, if this
// is a new entry), decref'ing any value being replaced.
func (d *Dict) Set(ctx context.Context, key, value interface{}) error {
	valH, _, err := d.codec.Share(ctx, value)
	if err != nil {
		return err
	}
	e, idx, found, err := d.probe(ctx, key)
	if err != nil {
		_ = d.codec.Release(ctx, valH)
		return err
	}
	if found {
		old := e.valueH
		e.valueH = valH
		if err := d.setAt(idx, *e); err != nil {
			return err
		}
		return d.codec.Release(ctx, old)
	}
	keyH, hash, err := d.codec.Share(ctx, key)
	if err != nil {
		_ = d.codec.Release(ctx, valH)
		return err
	}
	slot, isDeletedReuse, err := d.insertSlot(ctx, key, hash)
	if err != nil {
		return err
	}
	d.payload.used++
	if !isDeletedReuse {
		d.payload.fill++
	}
	if err := d.setAt(slot, entry{state: stateInUse, hash: hash, keyH: keyH, valueH: valH}); err != nil {
		return err
	}
	if d.payload.fill*3 >= (d.payload.mask+1)*2 {
		return d.resize(ctx, (d.payload.used+1)*2)
	}
	return nil
}

// Delete tombstones key's entry, decref'ing both handles.
func (d *Dict) Delete(ctx context.Context, key interface{}) error {
	e, idx, found, err := d.probe(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return procerr.ErrNoSuchKey
	}
	keyH, valH := e.keyH, e.valueH
	if err := d.setAt(idx, entry{state: stateDeleted}); err != nil {
		return err
	}
	d.payload.used--
	if err := d.codec.Release(ctx, keyH); err != nil {
		return err
	}
	return d.codec.Release(ctx, valH)
}

// Clear swaps in a fresh empty table, decref'ing every old entry
// out-of-band (after the swap, so a concurrent reader never observes a
// half-cleared table).
func (d *Dict) Clear(ctx context.Context) error {
	old := d.payload.table
	oldMask := d.payload.mask
	newTable, err := allocTable(ctx, d.heap, d.table, minTableSize)
	if err != nil {
		return err
	}
	d.payload.table = newTable
	d.payload.mask = minTableSize - 1
	d.payload.fill = 0
	d.payload.used = 0

	for i := uint64(0); i <= oldMask; i++ {
		e, err := d.entryAtTable(old, i)
		if err != nil {
			continue
		}
		if e.state == stateInUse {
			_ = d.codec.Release(ctx, e.keyH)
			_ = d.codec.Release(ctx, e.valueH)
		}
	}
	return sharedalloc.FreeData(ctx, d.heap, old)
}

// Popitem removes and returns an arbitrary (key, value) pair, resuming
// the scan from wherever the last Popitem on this dict left off (the
// finger field) rather than always restarting at slot 0 — an O(1)
// amortized eviction order instead of the O(n) worst case a fixed start
// would give a dict that is repeatedly drained one item at a time.
func (d *Dict) Popitem(ctx context.Context) (KeyValue, error) {
	mask := d.payload.mask
	if d.payload.used == 0 {
		return KeyValue{}, procerr.ErrNoSuchKey
	}
	for i := uint64(0); i <= mask; i++ {
		idx := (d.payload.finger + i) & mask
		e, err := d.entryAt(idx)
		if err != nil {
			return KeyValue{}, err
		}
		if e.state != stateInUse {
			continue
		}
		keyH, valH := e.keyH, e.valueH
		k, err := d.codec.Resolve(ctx, keyH)
		if err != nil {
			return KeyValue{}, err
		}
		v, err := d.codec.Resolve(ctx, valH)
		if err != nil {
			return KeyValue{}, err
		}
		if err := d.setAt(idx, entry{state: stateDeleted}); err != nil {
			return KeyValue{}, err
		}
		d.payload.used--
		d.payload.finger = idx + 1
		if err := d.codec.Release(ctx, keyH); err != nil {
			return KeyValue{}, err
		}
		if err := d.codec.Release(ctx, valH); err != nil {
			return KeyValue{}, err
		}
		return KeyValue{Key: k, Value: v}, nil
	}
	return KeyValue{}, procerr.ErrHashProbeCorrupt
}

// Items materializes every (key, value) pair. The used count is snapshot
// before resolving, and the call restarts if a resize is observed to have
// happened mid-materialization (the table handle changed), matching
// spec.md §4.11's torn-size protection for keys/values/items.
func (d *Dict) Items(ctx context.Context) ([]KeyValue, error) {
	for {
		tableBefore := d.payload.table
		n := d.payload.used
		out := make([]KeyValue, 0, n)
		mask := d.payload.mask
		for i := uint64(0); i <= mask; i++ {
			e, err := d.entryAtTable(tableBefore, i)
			if err != nil {
				return nil, err
			}
			if e.state != stateInUse {
				continue
			}
			k, err := d.codec.Resolve(ctx, e.keyH)
			if err != nil {
				continue
			}
			v, err := d.codec.Resolve(ctx, e.valueH)
			if err != nil {
				continue
			}
			out = append(out, KeyValue{Key: k, Value: v})
		}
		if d.payload.table == tableBefore {
			return out, nil
		}
		// resized mid-construction: retry from scratch.
	}
}
