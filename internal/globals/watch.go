package globals

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// RegionEvent reports a filesystem-level change to a region's backing
// file, for participants running the file-backed mmap fallback
// (internal/region's non-Linux path, which leaves a named temp file
// linked for the region's lifetime instead of unlinking it immediately).
// Linux's memfd-backed regions have no path and are never reported here.
type RegionEvent struct {
	Path    string
	Removed bool
}

// RegionWatcher tails the backing files of file-based regions for
// external removal (an operator clearing /tmp, a misbehaving cleanup
// script), surfacing it as a diagnostic rather than letting a
// participant silently keep operating on a revoked mapping. Grounded on
// the teacher's fsnotify wrapper (internal/runtime/vfs/watch_fsnotify.go),
// narrowed here to the single event this runtime cares about.
type RegionWatcher struct {
	w      *fsnotify.Watcher
	events chan RegionEvent
	done   chan struct{}
}

// NewRegionWatcher starts a watcher with no paths registered yet.
func NewRegionWatcher() (*RegionWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("globals: fsnotify.NewWatcher: %w", err)
	}
	rw := &RegionWatcher{w: w, events: make(chan RegionEvent, 16), done: make(chan struct{})}
	go rw.run()
	return rw, nil
}

// Watch adds path to the set of backing files being tailed. A no-op for
// the empty path (the common case on Linux, where regions have no
// backing file to watch).
func (rw *RegionWatcher) Watch(path string) error {
	if path == "" {
		return nil
	}
	return rw.w.Add(path)
}

// Unwatch stops tailing path, e.g. once its region has been cleanly
// destroyed by this participant and the removal is expected rather than
// external.
func (rw *RegionWatcher) Unwatch(path string) error {
	if path == "" {
		return nil
	}
	return rw.w.Remove(path)
}

// Events returns the channel RegionEvents are delivered on.
func (rw *RegionWatcher) Events() <-chan RegionEvent { return rw.events }

func (rw *RegionWatcher) run() {
	defer close(rw.events)
	for {
		select {
		case ev, ok := <-rw.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				select {
				case rw.events <- RegionEvent{Path: ev.Name, Removed: true}:
				case <-rw.done:
					return
				}
			}
		case _, ok := <-rw.w.Errors:
			if !ok {
				return
			}
		case <-rw.done:
			return
		}
	}
}

// Close stops the watcher and releases its underlying OS resources.
func (rw *RegionWatcher) Close() error {
	close(rw.done)
	return rw.w.Close()
}
