//go:build !linux && !windows

package region

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// On non-Linux Unix targets there is no memfd_create, so the backing store
// is a temp file instead: created and mmap'd MAP_SHARED exactly as the
// Linux path does. Unlike an older revision of this file, the directory
// entry is left linked for the region's lifetime (removed only in
// destroy) rather than unlinked immediately after creation, so
// internal/globals's fsnotify-backed watcher can observe the file
// disappearing out from under a still-attached participant (e.g. an
// operator manually clearing /tmp) and report it as a diagnostic rather
// than silently continuing on a revoked mapping. The fd is still what
// gets inherited across a process duplication event.
func createAndAttach(size int) (Handle, uintptr, int, error) {
	actual := pageRoundUp(size)
	f, err := os.CreateTemp("", "procshare-region-*")
	if err != nil {
		return Handle{}, 0, 0, fmt.Errorf("region: create temp backing file: %w", err)
	}
	name := f.Name()

	if err := f.Truncate(int64(actual)); err != nil {
		f.Close()
		os.Remove(name)
		return Handle{}, 0, 0, fmt.Errorf("region: truncate: %w", err)
	}
	fd := int(f.Fd())
	h := Handle{FD: fd, Size: actual, Path: name}
	addr, err := attach(h)
	if err != nil {
		f.Close()
		os.Remove(name)
		return Handle{}, 0, 0, err
	}
	return h, addr, actual, nil
}

func pageRoundUp(size int) int {
	pageSize := unix.Getpagesize()
	if size <= 0 {
		size = pageSize
	}
	return (size + pageSize - 1) / pageSize * pageSize
}

func attach(h Handle) (uintptr, error) {
	data, err := unix.Mmap(h.FD, 0, h.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return 0, fmt.Errorf("region: mmap: %w", err)
	}
	return uintptr(unsafePointer(data)), nil
}

func detach(addr uintptr, size int) error {
	if err := unix.Munmap(bytesAt(addr, size)); err != nil {
		return fmt.Errorf("region: munmap: %w", err)
	}
	return nil
}

func destroy(h Handle) error {
	if h.Path != "" {
		_ = os.Remove(h.Path)
	}
	if err := unix.Close(h.FD); err != nil {
		return fmt.Errorf("region: close: %w", err)
	}
	return nil
}
