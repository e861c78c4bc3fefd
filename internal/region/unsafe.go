package region

import "unsafe"

// unsafePointer returns the address of the first byte of data's backing
// array. Used to turn an mmap'd []byte into a stable base address other
// participants' handles can be added to as an offset.
func unsafePointer(data []byte) unsafe.Pointer {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Pointer(&data[0])
}

// bytesAt reconstructs the []byte slice an mmap call returned, given the
// base address and length, so it can be handed back to Munmap.
func bytesAt(addr uintptr, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}
