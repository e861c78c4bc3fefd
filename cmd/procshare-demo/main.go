// Command procshare-demo exercises spec.md §8's three end-to-end
// scenarios against a real procshare runtime: a cross-participant dict
// read, a monitor-guarded concurrent increment, and proxy-bit accounting
// across an object's last two references. Grounded on the teacher's
// small narrational cmd/ demos (cmd/test-demo), plain fmt output with
// ✓/✗ markers rather than a flag-driven tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/kdart/procshare"
	"github.com/kdart/procshare/internal/procerr"
	"github.com/kdart/procshare/internal/proxy"
)

func main() {
	fmt.Println("procshare participant demo")
	fmt.Println("==========================")

	ctx := context.Background()
	ancestor, err := procshare.Open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "open ancestor runtime: %v\n", err)
		os.Exit(1)
	}
	defer ancestor.Close()

	ok := true
	ok = scenario1(ctx, ancestor) && ok
	ok = scenario2(ctx, ancestor) && ok
	ok = scenario3(ctx, ancestor) && ok

	if !ok {
		os.Exit(1)
	}
}

// openParticipant attaches a second Runtime sharing the ancestor's process
// tree, the way a process that inherited region file descriptors would,
// save that here it is another goroutine in this same OS process rather
// than a distinct one (see DESIGN.md's note on Globals' in-process
// scoping).
func openParticipant(ancestor *procshare.Runtime) (*procshare.Runtime, error) {
	return procshare.OpenChild(ancestor.Globals())
}

func scenario1(ctx context.Context, ancestor *procshare.Runtime) bool {
	fmt.Println("\nScenario 1: shared dict, cross-participant read")

	p1, err := openParticipant(ancestor)
	if err != nil {
		fmt.Printf("✗ p1 OpenChild: %v\n", err)
		return false
	}
	p2, err := openParticipant(ancestor)
	if err != nil {
		fmt.Printf("✗ p2 OpenChild: %v\n", err)
		return false
	}

	d1, err := p1.NewDict(ctx)
	if err != nil {
		fmt.Printf("✗ p1 NewDict: %v\n", err)
		return false
	}
	if _, err := d1.CallMethod(ctx, "Set", []interface{}{"k", "v"}); err != nil {
		fmt.Printf("✗ p1 Set: %v\n", err)
		return false
	}

	h, err := procshare.AddressOf(d1)
	if err != nil {
		fmt.Printf("✗ AddressOf: %v\n", err)
		return false
	}

	d2, err := p2.OpenDict(h)
	if err != nil {
		fmt.Printf("✗ p2 OpenDict: %v\n", err)
		return false
	}
	v, err := d2.CallMethod(ctx, "Get", []interface{}{"k"})
	if err != nil {
		fmt.Printf("✗ p2 Get: %v\n", err)
		return false
	}
	if v != "v" {
		fmt.Printf("✗ p2 read %q, want %q\n", v, "v")
		return false
	}
	fmt.Printf("✓ p2 read d['k'] == %q written by p1\n", v)
	return true
}

func scenario2(ctx context.Context, ancestor *procshare.Runtime) bool {
	fmt.Println("\nScenario 2: concurrent increment")

	p1, err := openParticipant(ancestor)
	if err != nil {
		fmt.Printf("✗ p1 OpenChild: %v\n", err)
		return false
	}
	p2, err := openParticipant(ancestor)
	if err != nil {
		fmt.Printf("✗ p2 OpenChild: %v\n", err)
		return false
	}

	d1, err := p1.NewDict(ctx)
	if err != nil {
		fmt.Printf("✗ p1 NewDict: %v\n", err)
		return false
	}
	h, err := procshare.AddressOf(d1)
	if err != nil {
		fmt.Printf("✗ AddressOf: %v\n", err)
		return false
	}
	d2, err := p2.OpenDict(h)
	if err != nil {
		fmt.Printf("✗ p2 OpenDict: %v\n", err)
		return false
	}

	const iterations = 1000
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	increment := func(d *proxy.Proxy) {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			token, err := d.Enter(ctx, "increment")
			if err != nil {
				errs <- err
				return
			}
			cur := 0
			v, err := d.CallMethod(ctx, "Get", []interface{}{"c"})
			switch {
			case err == nil:
				cur = v.(int)
			case errors.Is(err, procerr.ErrNoSuchKey):
				cur = 0
			default:
				_ = d.Leave(token)
				errs <- err
				return
			}
			if _, err := d.CallMethod(ctx, "Set", []interface{}{"c", cur + 1}); err != nil {
				_ = d.Leave(token)
				errs <- err
				return
			}
			if err := d.Leave(token); err != nil {
				errs <- err
				return
			}
		}
	}

	wg.Add(2)
	go increment(d1)
	go increment(d2)
	wg.Wait()
	close(errs)
	for err := range errs {
		fmt.Printf("✗ increment: %v\n", err)
		return false
	}

	final, err := d1.CallMethod(ctx, "Get", []interface{}{"c"})
	if err != nil {
		fmt.Printf("✗ final Get: %v\n", err)
		return false
	}
	if final != 2*iterations {
		fmt.Printf("✗ d['c'] == %v, want %d\n", final, 2*iterations)
		return false
	}
	fmt.Printf("✓ d['c'] == %d after %d increments from each of two participants\n", final, iterations)
	return true
}

func scenario3(ctx context.Context, ancestor *procshare.Runtime) bool {
	fmt.Println("\nScenario 3: proxy bit accounting")

	p1, err := openParticipant(ancestor)
	if err != nil {
		fmt.Printf("✗ p1 OpenChild: %v\n", err)
		return false
	}
	p2, err := openParticipant(ancestor)
	if err != nil {
		fmt.Printf("✗ p2 OpenChild: %v\n", err)
		return false
	}

	o1, err := p1.NewList(ctx, 0)
	if err != nil {
		fmt.Printf("✗ p1 NewList: %v\n", err)
		return false
	}
	h, err := procshare.AddressOf(o1)
	if err != nil {
		fmt.Printf("✗ AddressOf: %v\n", err)
		return false
	}
	o2, err := p2.OpenList(h)
	if err != nil {
		fmt.Printf("✗ p2 OpenList: %v\n", err)
		return false
	}

	if err := o2.Release(ctx); err != nil {
		fmt.Printf("✗ p2 Release: %v\n", err)
		return false
	}
	if o1.Corrupt() {
		fmt.Printf("✗ object flagged corrupt after p2 released\n")
		return false
	}
	if err := o1.Release(ctx); err != nil {
		fmt.Printf("✗ p1 Release: %v\n", err)
		return false
	}

	fmt.Println("✓ both proxies released in reverse order of opening; object reclaimed without error")
	return true
}
