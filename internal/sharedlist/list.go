// Package sharedlist implements the two shared sequence types spec.md
// §4.12 calls for: List, a mutable vector-backed sequence growing at a
// 1.5x factor, and Tuple, an immutable fixed-length sequence whose hash
// combines its elements' hashes with the classic
// "x = 1000003*x XOR y" recurrence (remapping a -1 result to -2, since
// -1 is reserved to signal "hash failed" the way spec.md's hashing
// convention for containers does).
//
// Grounded in the teacher's growable-vector core (internal/allocator's
// pool-backed slice growth policy) and in its AST literal-sequence
// hashing (internal/ast's tuple/array literal nodes), reworked from
// Go-native slices to handle-addressed, shared-memory-backed storage.
package sharedlist

import (
	"context"
	"unsafe"

	"github.com/kdart/procshare/internal/handle"
	"github.com/kdart/procshare/internal/procerr"
	"github.com/kdart/procshare/internal/sharedalloc"
	"github.com/kdart/procshare/internal/sharedobject"
)

// Codec matches internal/shareddict.Codec's shape; a registry-provided
// ScalarCodec instance satisfies both, so a single codec configuration
// serves every container type a participant uses.
type Codec interface {
	Share(ctx context.Context, v interface{}) (handle.Handle, uint64, error)
	Resolve(ctx context.Context, h handle.Handle) (interface{}, error)
	Release(ctx context.Context, h handle.Handle) error
	Equal(ctx context.Context, h handle.Handle, v interface{}) (bool, error)
}

// listPayload is the fixed layout following a List's SharedObject header:
// element count, allocated capacity, and a handle to the backing vector
// of element handles.
type listPayload struct {
	length   int64
	capacity int64
	vector   handle.Handle
}

var listPayloadSize = int(unsafe.Sizeof(listPayload{}))
var elemSize = int(unsafe.Sizeof(handle.Handle{}))

// growthNumerator/growthDenominator give the 1.5x policy spec.md calls for
// in place of a doubling policy, to bound worst-case wasted space for a
// resource shared across a process tree rather than reclaimed per-process
// by a GC.
const growthNumerator, growthDenominator = 3, 2

// List is the per-participant handle onto a shared mutable sequence.
type List struct {
	heap    sharedalloc.HeapProvider
	table   *handle.Table
	header  *sharedobject.Header
	payload *listPayload
	codec   Codec
}

// New allocates an empty List with the given initial capacity (at least
// 1, to avoid a zero-capacity vector needing special-cased growth math).
func New(ctx context.Context, heap sharedalloc.HeapProvider, table *handle.Table, codec Codec, capacityHint int) (*List, error) {
	if capacityHint < 1 {
		capacityHint = 1
	}
	h, hdr, err := sharedalloc.AllocInstance(ctx, heap, listPayloadSize)
	if err != nil {
		return nil, err
	}
	addr, err := table.ToPointer(h)
	if err != nil {
		return nil, err
	}
	p := (*listPayload)(unsafe.Pointer(addr))
	vec, err := sharedalloc.AllocData(ctx, heap, elemSize*capacityHint)
	if err != nil {
		return nil, err
	}
	*p = listPayload{length: 0, capacity: int64(capacityHint), vector: vec}
	return &List{heap: heap, table: table, header: hdr, payload: p, codec: codec}, nil
}

// Open wraps an existing List reached via its SharedObject header.
func Open(heap sharedalloc.HeapProvider, table *handle.Table, hdr *sharedobject.Header, payloadHandle handle.Handle, codec Codec) (*List, error) {
	addr, err := table.ToPointer(payloadHandle)
	if err != nil {
		return nil, err
	}
	return &List{heap: heap, table: table, header: hdr, payload: (*listPayload)(unsafe.Pointer(addr)), codec: codec}, nil
}

func (l *List) Header() *sharedobject.Header { return l.header }

// Handle returns the position-independent handle to this list's payload.
func (l *List) Handle() (handle.Handle, error) {
	return l.table.ToHandle(uintptr(unsafe.Pointer(l.payload)))
}

// Len returns the number of elements.
func (l *List) Len() int { return int(l.payload.length) }

func (l *List) slotAddr(i int64) (uintptr, error) {
	base, err := l.table.ToPointer(l.payload.vector)
	if err != nil {
		return 0, err
	}
	return base + uintptr(i)*uintptr(elemSize), nil
}

func (l *List) slot(i int64) (*handle.Handle, error) {
	addr, err := l.slotAddr(i)
	if err != nil {
		return nil, err
	}
	return (*handle.Handle)(unsafe.Pointer(addr)), nil
}

// Get returns the element at index i.
func (l *List) Get(ctx context.Context, i int) (interface{}, error) {
	if i < 0 || int64(i) >= l.payload.length {
		return nil, procerr.ErrIndexOutOfRange
	}
	s, err := l.slot(int64(i))
	if err != nil {
		return nil, err
	}
	return l.codec.Resolve(ctx, *s)
}

// Set replaces the element at index i, releasing the old one.
func (l *List) Set(ctx context.Context, i int, v interface{}) error {
	if i < 0 || int64(i) >= l.payload.length {
		return procerr.ErrIndexOutOfRange
	}
	h, _, err := l.codec.Share(ctx, v)
	if err != nil {
		return err
	}
	s, err := l.slot(int64(i))
	if err != nil {
		return err
	}
	old := *s
	*s = h
	return l.codec.Release(ctx, old)
}

// ensureCapacity grows the backing vector by the 1.5x policy when it cannot
// hold need elements: the new capacity is ceil(need*1.5).
func (l *List) ensureCapacity(ctx context.Context, need int64) error {
	if need <= l.payload.capacity {
		return nil
	}
	newCap := (need*growthNumerator + growthDenominator - 1) / growthDenominator
	nv, err := sharedalloc.ReallocData(ctx, l.heap, l.payload.vector, int(newCap)*elemSize)
	if err != nil {
		return err
	}
	l.payload.vector = nv
	l.payload.capacity = newCap
	return nil
}

// Append adds v to the end of the list.
func (l *List) Append(ctx context.Context, v interface{}) error {
	if err := l.ensureCapacity(ctx, l.payload.length+1); err != nil {
		return err
	}
	h, _, err := l.codec.Share(ctx, v)
	if err != nil {
		return err
	}
	s, err := l.slot(l.payload.length)
	if err != nil {
		return err
	}
	*s = h
	l.payload.length++
	return nil
}

// Insert inserts v at index i, shifting subsequent elements right.
func (l *List) Insert(ctx context.Context, i int, v interface{}) error {
	if i < 0 {
		i = 0
	}
	if int64(i) > l.payload.length {
		i = int(l.payload.length)
	}
	if err := l.ensureCapacity(ctx, l.payload.length+1); err != nil {
		return err
	}
	for j := l.payload.length; j > int64(i); j-- {
		dst, err := l.slot(j)
		if err != nil {
			return err
		}
		src, err := l.slot(j - 1)
		if err != nil {
			return err
		}
		*dst = *src
	}
	h, _, err := l.codec.Share(ctx, v)
	if err != nil {
		return err
	}
	s, err := l.slot(int64(i))
	if err != nil {
		return err
	}
	*s = h
	l.payload.length++
	return nil
}

// Remove deletes the element at index i, shifting subsequent elements
// left, and releases it.
func (l *List) Remove(ctx context.Context, i int) error {
	if i < 0 || int64(i) >= l.payload.length {
		return procerr.ErrIndexOutOfRange
	}
	s, err := l.slot(int64(i))
	if err != nil {
		return err
	}
	old := *s
	for j := int64(i); j < l.payload.length-1; j++ {
		dst, err := l.slot(j)
		if err != nil {
			return err
		}
		src, err := l.slot(j + 1)
		if err != nil {
			return err
		}
		*dst = *src
	}
	l.payload.length--
	return l.codec.Release(ctx, old)
}

// AssignSlice replaces the list's entire contents with vs, the Open
// Question §9 resolution this runtime uses for slice-assignment
// semantics: release every existing element, then append each of vs in
// order — equivalent to (and implemented in terms of) Clear followed by
// n Appends, rather than a special-cased bulk splice.
func (l *List) AssignSlice(ctx context.Context, vs []interface{}) error {
	if err := l.Clear(ctx); err != nil {
		return err
	}
	for _, v := range vs {
		if err := l.Append(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes and releases every element without shrinking capacity.
func (l *List) Clear(ctx context.Context) error {
	for i := int64(0); i < l.payload.length; i++ {
		s, err := l.slot(i)
		if err != nil {
			return err
		}
		if err := l.codec.Release(ctx, *s); err != nil {
			return err
		}
	}
	l.payload.length = 0
	return nil
}

// Items materializes every element in order.
func (l *List) Items(ctx context.Context) ([]interface{}, error) {
	out := make([]interface{}, 0, l.payload.length)
	for i := int64(0); i < l.payload.length; i++ {
		s, err := l.slot(i)
		if err != nil {
			return nil, err
		}
		v, err := l.codec.Resolve(ctx, *s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Invoke dispatches a named operation, the same explicit capability-table
// approach internal/shareddict.Dict.Invoke uses.
func (l *List) Invoke(ctx context.Context, name string, args []interface{}) (interface{}, error) {
	switch name {
	case "Len":
		return l.Len(), nil
	case "Get":
		return l.Get(ctx, args[0].(int))
	case "Set":
		return nil, l.Set(ctx, args[0].(int), args[1])
	case "Append":
		return nil, l.Append(ctx, args[0])
	case "Insert":
		return nil, l.Insert(ctx, args[0].(int), args[1])
	case "Remove":
		return nil, l.Remove(ctx, args[0].(int))
	case "AssignSlice":
		return nil, l.AssignSlice(ctx, args[0].([]interface{}))
	case "Clear":
		return nil, l.Clear(ctx)
	case "Items":
		return l.Items(ctx)
	default:
		return nil, procerr.Wrap(procerr.ErrNotShareable, "sharedlist: unknown operation "+name)
	}
}

// Destroy implements sharedobject.Destroyer.
func (l *List) Destroy(ctx context.Context, hdr *sharedobject.Header) error {
	if err := l.Clear(ctx); err != nil {
		return err
	}
	if err := sharedalloc.FreeData(ctx, l.heap, l.payload.vector); err != nil {
		return err
	}
	payloadHandle, err := l.table.ToHandle(uintptr(unsafe.Pointer(l.payload)))
	if err != nil {
		return err
	}
	return sharedalloc.FreeInstance(ctx, l.heap, payloadHandle)
}
