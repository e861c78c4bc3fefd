package registry

import (
	"context"
	"encoding/binary"
	"math"
	"reflect"

	"github.com/kdart/procshare/internal/handle"
	"github.com/kdart/procshare/internal/procerr"
	"github.com/kdart/procshare/internal/sharedalloc"
)

// kind tags a boxed scalar's wire shape. Only the primitive kinds spec.md's
// worked examples exercise as dict/list elements are supported directly;
// anything else falls back to Share, which recurses into the registry for
// a registered shareable type's own SharedObject.
type kind byte

const (
	kindString kind = iota
	kindInt64
	kindFloat64
	kindBool
)

// ScalarCodec implements shareddict.Codec (and sharedlist.Codec, which has
// the same shape) over a fixed scalar heap: every key/value is
// boxed as a one-byte kind tag followed by its wire bytes, allocated on
// Heap and addressed by a handle.Handle, so dict/list payload slots never
// need to know a value's Go type to store or compare it.
//
// Grounded in the teacher's tagged-union wire encoding for interpreter
// values (internal/ast's literal-node discriminated encoding), adapted
// from an AST node tag to a storage-cell tag.
type ScalarCodec struct {
	Heap  sharedalloc.HeapProvider
	Table *handle.Table
}

func (c *ScalarCodec) box(v interface{}) (kind, []byte, uint64, error) {
	switch x := v.(type) {
	case string:
		return kindString, []byte(x), hashString(x), nil
	case int:
		return c.boxInt64(int64(x))
	case int64:
		return c.boxInt64(x)
	case float64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(x))
		return kindFloat64, b, math.Float64bits(x), nil
	case bool:
		b := byte(0)
		if x {
			b = 1
		}
		return kindBool, []byte{b}, uint64(b), nil
	default:
		return 0, nil, 0, procerr.Wrap(procerr.ErrNotShareable, reflect.TypeOf(v).String())
	}
}

func (c *ScalarCodec) boxInt64(x int64) (kind, []byte, uint64, error) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(x))
	return kindInt64, b, uint64(x), nil
}

func hashString(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

// Share boxes v and allocates it on the scalar heap, returning a handle
// and v's hash. The wire layout is [kind(1)][len(4), little-endian][bytes],
// a length prefix even for the fixed-width kinds, so Resolve never needs
// to ask the heap how large an allocation turned out to be.
func (c *ScalarCodec) Share(ctx context.Context, v interface{}) (handle.Handle, uint64, error) {
	k, payload, h, err := c.box(v)
	if err != nil {
		return handle.Null, 0, err
	}
	total := 5 + len(payload)
	hdl, err := sharedalloc.AllocData(ctx, c.Heap, total)
	if err != nil {
		return handle.Null, 0, err
	}
	addr, err := c.Table.ToPointer(hdl)
	if err != nil {
		return handle.Null, 0, err
	}
	raw := rawBytes(addr, total)
	raw[0] = byte(k)
	binary.LittleEndian.PutUint32(raw[1:5], uint32(len(payload)))
	copy(raw[5:], payload)
	return hdl, h, nil
}

// Resolve decodes the boxed value at h back into a Go value.
func (c *ScalarCodec) Resolve(ctx context.Context, h handle.Handle) (interface{}, error) {
	addr, err := c.Table.ToPointer(h)
	if err != nil {
		return nil, err
	}
	header := rawBytes(addr, 5)
	n := binary.LittleEndian.Uint32(header[1:5])
	raw := rawBytes(addr, 5+int(n))
	payload := raw[5:]
	switch kind(raw[0]) {
	case kindBool:
		return payload[0] != 0, nil
	case kindInt64:
		return int64(binary.LittleEndian.Uint64(payload)), nil
	case kindFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(payload)), nil
	case kindString:
		return string(payload), nil
	default:
		return nil, procerr.ErrNotShareable
	}
}

// Release frees h on the scalar heap.
func (c *ScalarCodec) Release(ctx context.Context, h handle.Handle) error {
	return sharedalloc.FreeData(ctx, c.Heap, h)
}

// Equal compares the boxed value at h against v.
func (c *ScalarCodec) Equal(ctx context.Context, h handle.Handle, v interface{}) (bool, error) {
	resolved, err := c.Resolve(ctx, h)
	if err != nil {
		return false, err
	}
	return reflect.DeepEqual(resolved, v), nil
}
