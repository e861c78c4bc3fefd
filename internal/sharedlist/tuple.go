package sharedlist

import (
	"context"
	"unsafe"

	"github.com/kdart/procshare/internal/handle"
	"github.com/kdart/procshare/internal/procerr"
	"github.com/kdart/procshare/internal/sharedalloc"
	"github.com/kdart/procshare/internal/sharedobject"
)

// tuplePayload is the fixed layout following a Tuple's SharedObject
// header: a fixed element count and a handle to the (never resized)
// inline vector of element handles.
type tuplePayload struct {
	length int64
	vector handle.Handle
}

var tuplePayloadSize = int(unsafe.Sizeof(tuplePayload{}))

// Tuple is the per-participant handle onto a shared immutable sequence.
// Unlike List, its length is fixed at construction and its contents never
// change, which is what lets Hash cache nothing and simply recompute on
// every call: the recurrence is cheap and the result is stable by
// construction.
type Tuple struct {
	heap    sharedalloc.HeapProvider
	table   *handle.Table
	header  *sharedobject.Header
	payload *tuplePayload
	codec   Codec
}

// NewTuple allocates an immutable Tuple from vs. Every element is shared
// (incref'd) once, at construction; there is no later mutation path to
// share or release an element again.
func NewTuple(ctx context.Context, heap sharedalloc.HeapProvider, table *handle.Table, codec Codec, vs []interface{}) (*Tuple, error) {
	h, hdr, err := sharedalloc.AllocInstance(ctx, heap, tuplePayloadSize)
	if err != nil {
		return nil, err
	}
	addr, err := table.ToPointer(h)
	if err != nil {
		return nil, err
	}
	p := (*tuplePayload)(unsafe.Pointer(addr))
	n := len(vs)
	if n < 1 {
		n = 1
	}
	vec, err := sharedalloc.AllocData(ctx, heap, elemSize*n)
	if err != nil {
		return nil, err
	}
	*p = tuplePayload{length: int64(len(vs)), vector: vec}
	t := &Tuple{heap: heap, table: table, header: hdr, payload: p, codec: codec}
	for i, v := range vs {
		eh, _, err := codec.Share(ctx, v)
		if err != nil {
			return nil, err
		}
		s, err := t.slot(int64(i))
		if err != nil {
			return nil, err
		}
		*s = eh
	}
	return t, nil
}

// OpenTuple wraps an existing Tuple reached via its SharedObject header.
func OpenTuple(heap sharedalloc.HeapProvider, table *handle.Table, hdr *sharedobject.Header, payloadHandle handle.Handle, codec Codec) (*Tuple, error) {
	addr, err := table.ToPointer(payloadHandle)
	if err != nil {
		return nil, err
	}
	return &Tuple{heap: heap, table: table, header: hdr, payload: (*tuplePayload)(unsafe.Pointer(addr)), codec: codec}, nil
}

func (t *Tuple) Header() *sharedobject.Header { return t.header }

// Handle returns the position-independent handle to this tuple's payload.
func (t *Tuple) Handle() (handle.Handle, error) {
	return t.table.ToHandle(uintptr(unsafe.Pointer(t.payload)))
}

// Len returns the tuple's fixed element count.
func (t *Tuple) Len() int { return int(t.payload.length) }

func (t *Tuple) slot(i int64) (*handle.Handle, error) {
	base, err := t.table.ToPointer(t.payload.vector)
	if err != nil {
		return nil, err
	}
	return (*handle.Handle)(unsafe.Pointer(base + uintptr(i)*uintptr(elemSize))), nil
}

// Get returns the element at index i.
func (t *Tuple) Get(ctx context.Context, i int) (interface{}, error) {
	if i < 0 || int64(i) >= t.payload.length {
		return nil, procerr.ErrIndexOutOfRange
	}
	s, err := t.slot(int64(i))
	if err != nil {
		return nil, err
	}
	return t.codec.Resolve(ctx, *s)
}

// Items materializes every element in order.
func (t *Tuple) Items(ctx context.Context) ([]interface{}, error) {
	out := make([]interface{}, 0, t.payload.length)
	for i := int64(0); i < t.payload.length; i++ {
		s, err := t.slot(i)
		if err != nil {
			return nil, err
		}
		v, err := t.codec.Resolve(ctx, *s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Hash combines each element's hash with the classic multiplicative
// recurrence: x = 1000003*x XOR elementHash, seeded at 0x345678 rather
// than 0, so an all-zero-hash tuple does not collide with every other
// all-zero-hash tuple of a different length at the seed alone. A result
// of -1 is reserved to signal "hash failed" elsewhere in this runtime, so
// a genuine -1 is remapped to -2, matching spec.md's hashing convention.
func (t *Tuple) Hash(ctx context.Context) (int64, error) {
	var x int64 = 0x345678
	for i := int64(0); i < t.payload.length; i++ {
		s, err := t.slot(i)
		if err != nil {
			return 0, err
		}
		v, err := t.codec.Resolve(ctx, *s)
		if err != nil {
			return 0, err
		}
		eh, err := elementHash(v)
		if err != nil {
			return 0, err
		}
		x = 1000003*x ^ eh
	}
	if x == -1 {
		x = -2
	}
	return x, nil
}

func elementHash(v interface{}) (int64, error) {
	switch x := v.(type) {
	case string:
		return int64(fnvHashString(x)), nil
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case float64:
		return int64(x), nil
	default:
		return 0, procerr.ErrUnhashable
	}
}

func fnvHashString(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

// compareValues orders two resolved scalar elements, returning -1, 0, or 1.
// Only the scalar kinds internal/registry.ScalarCodec boxes are ordered
// directly; anything else (nested containers, mismatched types) fails,
// matching spec.md §4.12's "compare the first differing element pair with
// the corresponding operator" over primitive elements.
func compareValues(a, b interface{}) (int, error) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, procerr.ErrUnhashable
		}
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		default:
			return 0, nil
		}
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, procerr.ErrUnhashable
		}
		switch {
		case x == y:
			return 0, nil
		case !x:
			return -1, nil
		default:
			return 1, nil
		}
	default:
		fa, erra := asFloat(a)
		fb, errb := asFloat(b)
		if erra != nil || errb != nil {
			return 0, procerr.ErrUnhashable
		}
		switch {
		case fa < fb:
			return -1, nil
		case fa > fb:
			return 1, nil
		default:
			return 0, nil
		}
	}
}

func asFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	default:
		return 0, procerr.ErrUnhashable
	}
}

// RichCompare implements spec.md §4.12's element-wise tuple comparison
// against either a native Go slice or another shared Tuple, under the
// resolved referents: EQ/NE short-circuit on the first differing element,
// LT/LE/GT/GE compare the first differing pair with the corresponding
// operator, and ties fall back to comparing lengths exactly as Python
// tuple comparison does.
func (t *Tuple) RichCompare(ctx context.Context, op string, other interface{}) (bool, error) {
	ours, err := t.Items(ctx)
	if err != nil {
		return false, err
	}
	var theirs []interface{}
	switch o := other.(type) {
	case *Tuple:
		theirs, err = o.Items(ctx)
		if err != nil {
			return false, err
		}
	case []interface{}:
		theirs = o
	default:
		return false, procerr.ErrNotShareable
	}

	n := len(ours)
	if len(theirs) < n {
		n = len(theirs)
	}
	for i := 0; i < n; i++ {
		c, err := compareValues(ours[i], theirs[i])
		if err != nil {
			return false, err
		}
		if c != 0 {
			return applyOp(op, c)
		}
	}
	return applyOp(op, compareInts(len(ours), len(theirs)))
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func applyOp(op string, c int) (bool, error) {
	switch op {
	case "EQ":
		return c == 0, nil
	case "NE":
		return c != 0, nil
	case "LT":
		return c < 0, nil
	case "LE":
		return c <= 0, nil
	case "GT":
		return c > 0, nil
	case "GE":
		return c >= 0, nil
	default:
		return false, procerr.Wrap(procerr.ErrNotShareable, "sharedlist: unknown compare op "+op)
	}
}

// Invoke dispatches a named operation.
func (t *Tuple) Invoke(ctx context.Context, name string, args []interface{}) (interface{}, error) {
	switch name {
	case "Len":
		return t.Len(), nil
	case "Get":
		return t.Get(ctx, args[0].(int))
	case "Items":
		return t.Items(ctx)
	case "Hash":
		return t.Hash(ctx)
	case "Compare":
		return t.RichCompare(ctx, args[0].(string), args[1])
	default:
		return nil, procerr.Wrap(procerr.ErrNotShareable, "sharedlist: unknown tuple operation "+name)
	}
}

// Destroy implements sharedobject.Destroyer: releases every element and
// returns the vector and payload to their heaps.
func (t *Tuple) Destroy(ctx context.Context, hdr *sharedobject.Header) error {
	for i := int64(0); i < t.payload.length; i++ {
		s, err := t.slot(i)
		if err != nil {
			return err
		}
		if err := t.codec.Release(ctx, *s); err != nil {
			return err
		}
	}
	if err := sharedalloc.FreeData(ctx, t.heap, t.payload.vector); err != nil {
		return err
	}
	payloadHandle, err := t.table.ToHandle(uintptr(unsafe.Pointer(t.payload)))
	if err != nil {
		return err
	}
	return sharedalloc.FreeInstance(ctx, t.heap, payloadHandle)
}
