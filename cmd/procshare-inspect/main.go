// Command procshare-inspect is procshare's read-only diagnostics surface:
// it opens a fresh runtime, reports process-tree and heap occupancy, and
// optionally tails file-backed regions for external removal. A release
// build of the library itself emits nothing on its own; this tool is the
// opt-in, external, debug-build-equivalent surface spec.md §6 describes.
//
// Grounded on the teacher's flag-driven cmd/ tools (cmd/orizon-profile).
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kdart/procshare"
	"github.com/kdart/procshare/internal/sharedheap"
)

func main() {
	var (
		watch    = flag.Bool("watch", false, "tail file-backed regions for external removal")
		interval = flag.Duration("interval", 2*time.Second, "snapshot interval")
		once     = flag.Bool("once", false, "print a single snapshot and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Read-only procshare runtime diagnostics.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s --once                 # print one snapshot\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --watch                # also report region removals live\n", os.Args[0])
	}
	flag.Parse()

	rt, err := procshare.Open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "procshare-inspect: open runtime: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	if *watch {
		w, err := rt.Globals().WatchRegions()
		if err != nil {
			fmt.Fprintf(os.Stderr, "procshare-inspect: watch regions: %v\n", err)
			os.Exit(1)
		}
		go func() {
			for ev := range w.Events() {
				if ev.Removed {
					fmt.Printf("[region removed] %s\n", ev.Path)
				}
			}
		}()
	}

	printSnapshot(rt)
	if *once {
		return
	}
	for range time.Tick(*interval) {
		printSnapshot(rt)
	}
}

func printSnapshot(rt *procshare.Runtime) {
	st := rt.Globals().Stats()
	fmt.Printf("participants: %d/%d  regions: %d/%d  sleepers: %d\n",
		st.Participants, st.MaxProcesses, st.Regions, st.MaxRegions, st.Sleepers)

	instance, data := rt.HeapStats()
	fmt.Println("instance heap:")
	printClasses(instance[:])
	fmt.Println("data heap:")
	printClasses(data[:])
}

func printClasses(classes []sharedheap.ClassStats) {
	for _, c := range classes {
		if c.Pages == 0 {
			continue
		}
		fmt.Printf("  size %6d: %3d pages, %5d/%5d units free\n", c.UnitSize, c.Pages, c.FreeUnits, c.TotalUnits)
	}
}
