//go:build linux

package region

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// pageRoundUp rounds size up to the next multiple of the OS page size.
func pageRoundUp(size int) int {
	pageSize := unix.Getpagesize()
	if size <= 0 {
		size = pageSize
	}
	return (size + pageSize - 1) / pageSize * pageSize
}

func createAndAttach(size int) (Handle, uintptr, int, error) {
	actual := pageRoundUp(size)
	fd, err := unix.MemfdCreate("procshare-region", unix.MFD_CLOEXEC)
	if err != nil {
		return Handle{}, 0, 0, fmt.Errorf("region: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(actual)); err != nil {
		_ = unix.Close(fd)
		return Handle{}, 0, 0, fmt.Errorf("region: ftruncate: %w", err)
	}
	h := Handle{FD: fd, Size: actual}
	addr, err := attach(h)
	if err != nil {
		_ = unix.Close(fd)
		return Handle{}, 0, 0, err
	}
	return h, addr, actual, nil
}

func attach(h Handle) (uintptr, error) {
	data, err := unix.Mmap(h.FD, 0, h.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return 0, fmt.Errorf("region: mmap: %w", err)
	}
	return uintptr(unsafePointer(data)), nil
}

func detach(addr uintptr, size int) error {
	data := bytesAt(addr, size)
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("region: munmap: %w", err)
	}
	return nil
}

func destroy(h Handle) error {
	if err := unix.Close(h.FD); err != nil {
		return fmt.Errorf("region: close: %w", err)
	}
	return nil
}
