package kernel

import "unsafe"

// Memset sets size bytes at the given address to the supplied value. Instead
// of looping over every byte, the first byte is written and then doubled via
// log2(size) copy calls which is fast for the page-aligned blocks the memory
// manager clears.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	target := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)

	target[0] = value
	for index := uintptr(1); index < size; index *= 2 {
		copy(target[index:], target[:index])
	}
}

// Memcopy copies size bytes from src to dst. The regions may overlap.
func Memcopy(src, dst uintptr, size uintptr) {
	if size == 0 {
		return
	}

	copy(
		unsafe.Slice((*byte)(unsafe.Pointer(dst)), size),
		unsafe.Slice((*byte)(unsafe.Pointer(src)), size),
	)
}
