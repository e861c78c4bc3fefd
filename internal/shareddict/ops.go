package shareddict

import (
	"context"

	"github.com/kdart/procshare/internal/procerr"
	"github.com/kdart/procshare/internal/sharedalloc"
	"github.com/kdart/procshare/internal/sharedobject"
)

// Invoke dispatches a named operation by an explicit capability table
// rather than reflection, per spec.md §9's resolution of dynamic method
// dispatch: each registered type contributes its own switch, and
// internal/proxy.Proxy only ever calls through this one entry point.
func (d *Dict) Invoke(ctx context.Context, name string, args []interface{}) (interface{}, error) {
	switch name {
	case "Len":
		return d.Len(), nil
	case "Get":
		return d.Get(ctx, args[0])
	case "Set":
		return nil, d.Set(ctx, args[0], args[1])
	case "Delete":
		return nil, d.Delete(ctx, args[0])
	case "Contains":
		return d.Contains(ctx, args[0])
	case "Clear":
		return nil, d.Clear(ctx)
	case "Items":
		return d.Items(ctx)
	case "Popitem":
		return d.Popitem(ctx)
	default:
		return nil, procerr.Wrap(procerr.ErrNotShareable, "shareddict: unknown operation "+name)
	}
}

// Destroy implements sharedobject.Destroyer: once a Dict's last reference
// disappears, every live entry is released and the backing table and
// payload are returned to their heaps.
func (d *Dict) Destroy(ctx context.Context, hdr *sharedobject.Header) error {
	if err := d.Clear(ctx); err != nil {
		return err
	}
	payloadHandle, err := d.table.ToHandle(uintptrOf(d.payload))
	if err != nil {
		return err
	}
	return sharedalloc.FreeInstance(ctx, d.heap, payloadHandle)
}
