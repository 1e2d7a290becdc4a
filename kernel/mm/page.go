// Package mm defines the types shared by the physical and virtual memory
// managers.
package mm

import (
	"math"
	"pebbleos/kernel"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns a pointer to the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}

// FrameAllocator is implemented by physical memory allocators. The virtual
// memory code receives a FrameAllocator whenever it may need to reserve
// frames for page tables or page contents.
type FrameAllocator interface {
	// AllocFrame reserves a physical frame. It returns InvalidFrame and
	// an error when no more frames are available.
	AllocFrame() (Frame, *kernel.Error)
}

// FrameAllocatorFn adapts a plain function to the FrameAllocator interface.
type FrameAllocatorFn func() (Frame, *kernel.Error)

// AllocFrame implements FrameAllocator.
func (fn FrameAllocatorFn) AllocFrame() (Frame, *kernel.Error) { return fn() }

// Page describes a virtual memory page index.
type Page uintptr

// Address returns a pointer to the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}

// PageRange returns the first and last page that overlap the virtual address
// range [start, start+size). size must be greater than zero.
func PageRange(start, size uintptr) (first, last Page) {
	return PageFromAddress(start), PageFromAddress(start + size - 1)
}
