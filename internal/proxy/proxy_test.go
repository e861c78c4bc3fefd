package proxy

import (
	"context"
	"testing"

	"github.com/kdart/procshare/internal/sharedobject"
)

type fakeObj struct {
	hdr   sharedobject.Header
	value int
}

func newFakeObj() *fakeObj {
	o := &fakeObj{}
	o.hdr.Init(false)
	return o
}

func (o *fakeObj) Header() *sharedobject.Header { return &o.hdr }

func (o *fakeObj) Destroy(ctx context.Context, hdr *sharedobject.Header) error { return nil }

func (o *fakeObj) Invoke(ctx context.Context, name string, args []interface{}) (interface{}, error) {
	switch name {
	case "Get":
		return o.value, nil
	case "Set":
		o.value = args[0].(int)
		return nil, nil
	case "Self":
		return o, nil
	case "Other":
		return "other-value", nil
	}
	return nil, nil
}

type fakeSynch struct {
	entered, left int
}

func (f *fakeSynch) Enter(ctx context.Context, obj *sharedobject.Header, opName string) (interface{}, error) {
	f.entered++
	return true, nil
}

func (f *fakeSynch) Leave(obj *sharedobject.Header, token interface{}) error {
	f.left++
	return nil
}

func TestProxy_CallMethodEntersAndLeaves(t *testing.T) {
	obj := newFakeObj()
	synch := &fakeSynch{}
	p := New(obj, synch, 1)

	if _, err := p.CallMethod(context.Background(), "Set", []interface{}{7}); err != nil {
		t.Fatalf("CallMethod(Set): %v", err)
	}
	v, err := p.CallMethod(context.Background(), "Get", nil)
	if err != nil {
		t.Fatalf("CallMethod(Get): %v", err)
	}
	if v != 7 {
		t.Fatalf("Get returned %v, want 7", v)
	}
	if synch.entered != 2 || synch.left != 2 {
		t.Fatalf("Enter/Leave counts = %d/%d, want 2/2", synch.entered, synch.left)
	}
}

func TestProxy_CallMethodReturnSelfPreservesIdentity(t *testing.T) {
	obj := newFakeObj()
	p := New(obj, &fakeSynch{}, 1)

	result, err := p.CallMethod(context.Background(), "Self", nil)
	if err != nil {
		t.Fatalf("CallMethod(Self): %v", err)
	}
	if result != p {
		t.Fatalf("CallMethod(Self) returned %v (%T), want the same *Proxy", result, result)
	}
}

func TestProxy_CallMethodOtherValuePassesThrough(t *testing.T) {
	obj := newFakeObj()
	p := New(obj, &fakeSynch{}, 1)

	result, err := p.CallMethod(context.Background(), "Other", nil)
	if err != nil {
		t.Fatalf("CallMethod(Other): %v", err)
	}
	if result != "other-value" {
		t.Fatalf("CallMethod(Other) = %v, want %q", result, "other-value")
	}
}

func TestProxy_CallMethodUnwrapsProxyArguments(t *testing.T) {
	inner := newFakeObj()
	innerProxy := New(inner, &fakeSynch{}, 1)

	outer := newFakeObj()
	var captured interface{}
	outer.hdr.Init(false)
	outerSynch := &fakeSynch{}
	outerProxy := &Proxy{obj: dispatchRecorder{outer, &captured}, synch: outerSynch, mySlot: 1}

	if _, err := outerProxy.CallMethod(context.Background(), "Record", []interface{}{innerProxy}); err != nil {
		t.Fatalf("CallMethod: %v", err)
	}
	if captured != Dispatchable(inner) {
		t.Fatalf("argument was not unwrapped to its referent: got %v", captured)
	}
}

type dispatchRecorder struct {
	*fakeObj
	captured *interface{}
}

func (d dispatchRecorder) Invoke(ctx context.Context, name string, args []interface{}) (interface{}, error) {
	*d.captured = args[0]
	return nil, nil
}

func TestProxy_NewSetsProxyBit(t *testing.T) {
	obj := newFakeObj()
	New(obj, &fakeSynch{}, 4)
	if !obj.hdr.Reachable() {
		t.Fatal("New should mark the object reachable via its proxy bit")
	}
}

func TestProxy_ReleaseClearsProxyBitAndDestroys(t *testing.T) {
	obj := newFakeObj()
	p := New(obj, &fakeSynch{}, 2)

	if err := p.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if obj.hdr.Reachable() {
		t.Fatal("object should be unreachable after its only proxy is released")
	}
}

func TestProxy_Corrupt(t *testing.T) {
	obj := newFakeObj()
	p := New(obj, &fakeSynch{}, 1)
	if p.Corrupt() {
		t.Fatal("fresh object should not be corrupt")
	}
	obj.hdr.MarkCorrupt()
	if !p.Corrupt() {
		t.Fatal("Corrupt() should reflect the underlying header once marked")
	}
}
