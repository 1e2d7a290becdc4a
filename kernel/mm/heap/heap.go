// Package heap implements the kernel heap: a fixed virtual region backed by
// freshly allocated frames and managed by an address-ordered first-fit free
// list.
package heap

import (
	"pebbleos/kernel"
	"pebbleos/kernel/kfmt"
	"pebbleos/kernel/mm"
	"pebbleos/kernel/mm/vmm"
	"pebbleos/kernel/sync"
	"unsafe"
)

const (
	// blockAlign is the granularity of all heap blocks. A free block must
	// be able to hold a freeBlock header so it can never be smaller.
	blockAlign = uintptr(16)

	// MinBlockSize is the smallest block the heap hands out.
	MinBlockSize = blockAlign
)

var (
	// ErrOutOfMemory is returned by Alloc when no free block can satisfy
	// the request.
	ErrOutOfMemory = &kernel.Error{Module: "heap", Message: "out of memory"}

	errInvalidAlign = &kernel.Error{Module: "heap", Message: "alignment must be a power of 2"}
	errInvalidFree  = &kernel.Error{Module: "heap", Message: "free of an address outside the heap"}
	errDoubleFree   = &kernel.Error{Module: "heap", Message: "free of a block that is already free"}
	errEmptyRegion  = &kernel.Error{Module: "heap", Message: "heap region is too small"}
)

// Allocator is implemented by memory allocators that hand out raw blocks of
// memory. Callers must pass the same size and alignment to Free that they
// used for the matching Alloc call.
type Allocator interface {
	Alloc(size, align uintptr) (uintptr, *kernel.Error)
	Free(addr, size, align uintptr) *kernel.Error
}

// PageMapper is implemented by types that can install virtual to physical
// page mappings.
type PageMapper interface {
	Map(page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag, alloc mm.FrameAllocator) *kernel.Error
}

// freeBlock is the header stored at the beginning of each free block.
type freeBlock struct {
	size uintptr

	// next is the address of the following free block or 0 if this is
	// the last block in the list.
	next uintptr
}

func blockAt(addr uintptr) *freeBlock {
	return (*freeBlock)(unsafe.Pointer(addr))
}

// Heap manages the memory region [start, end).
type Heap struct {
	mutex sync.IRQSpinlock

	start, end uintptr

	// head is the address of the free block with the lowest address.
	head uintptr

	used uintptr
}

// Init maps every page of the region [start, start+size) to a freshly
// allocated frame, as present and writable, and sets up h to manage the
// region. The first mapping or
// allocation error is returned unchanged; pages mapped before the error stay
// mapped.
func Init(h *Heap, mapper PageMapper, alloc mm.FrameAllocator, start, size uintptr) *kernel.Error {
	if size < MinBlockSize {
		return errEmptyRegion
	}

	firstPage, lastPage := mm.PageRange(start, size)
	for page := firstPage; page <= lastPage; page++ {
		frame, err := alloc.AllocFrame()
		if err != nil {
			return err
		}

		if err = mapper.Map(page, frame, vmm.FlagPresent|vmm.FlagRW, alloc); err != nil {
			return err
		}
	}

	h.init(start, size)
	kfmt.Printf("[heap] %d bytes at 0x%x\n", uint64(h.Size()), start)
	return nil
}

// init sets up the free list so that it contains a single block spanning the
// entire region. The region must already be backed by memory.
func (h *Heap) init(start, size uintptr) {
	h.start = mm.AlignUp(start, blockAlign)
	h.end = mm.AlignDown(start+size, blockAlign)
	h.used = 0
	h.head = 0

	if h.end > h.start {
		h.head = h.start
		*blockAt(h.head) = freeBlock{size: h.end - h.start}
	}
}

// Alloc returns the address of a block of at least size bytes aligned to
// align, which must be a power of 2. Alloc returns ErrOutOfMemory if no free
// block can fit the request.
func (h *Heap) Alloc(size, align uintptr) (uintptr, *kernel.Error) {
	size, align, err := normalize(size, align)
	if err != nil {
		return 0, err
	}

	h.mutex.Acquire()
	defer h.mutex.Release()

	for prev, cur := uintptr(0), h.head; cur != 0; prev, cur = cur, blockAt(cur).next {
		block := blockAt(cur)
		allocStart := mm.AlignUp(cur, align)
		allocEnd := allocStart + size
		blockEnd := cur + block.size
		if allocStart < cur || allocEnd < allocStart || allocEnd > blockEnd {
			continue
		}

		// Replace the block with the fragments left before and after
		// the allocation.
		next := block.next
		if allocEnd < blockEnd {
			*blockAt(allocEnd) = freeBlock{size: blockEnd - allocEnd, next: next}
			next = allocEnd
		}
		if allocStart > cur {
			block.size = allocStart - cur
			block.next = next
			next = cur
		}
		h.link(prev, next)

		h.used += size
		return allocStart, nil
	}

	return 0, ErrOutOfMemory
}

// Free returns the block at addr to the heap and merges it with adjacent
// free blocks. Free detects attempts to release memory outside the heap and
// blocks that overlap memory that is already free. Every heap byte is either
// part of a free block or counted as used, so a range that overlaps no free
// block is always covered by the used count.
func (h *Heap) Free(addr, size, align uintptr) *kernel.Error {
	size, _, err := normalize(size, align)
	if err != nil {
		return err
	}

	if addr < h.start || addr >= h.end || addr&(blockAlign-1) != 0 || size > h.end-addr {
		return errInvalidFree
	}

	h.mutex.Acquire()
	defer h.mutex.Release()

	// Find the free blocks surrounding addr
	prev, next := uintptr(0), h.head
	for next != 0 && next < addr {
		prev, next = next, blockAt(next).next
	}

	if (prev != 0 && prev+blockAt(prev).size > addr) || (next != 0 && addr+size > next) {
		return errDoubleFree
	}

	block := blockAt(addr)
	*block = freeBlock{size: size, next: next}
	if next != 0 && addr+size == next {
		block.size += blockAt(next).size
		block.next = blockAt(next).next
	}

	if prev != 0 && prev+blockAt(prev).size == addr {
		blockAt(prev).size += block.size
		blockAt(prev).next = block.next
	} else {
		h.link(prev, addr)
	}

	h.used -= size
	return nil
}

// link makes next the successor of prev or the list head if prev is 0.
func (h *Heap) link(prev, next uintptr) {
	if prev == 0 {
		h.head = next
		return
	}
	blockAt(prev).next = next
}

// normalize rounds size up to the block granularity and raises align to the
// minimum block alignment.
func normalize(size, align uintptr) (uintptr, uintptr, *kernel.Error) {
	if align == 0 {
		align = blockAlign
	}
	if align&(align-1) != 0 {
		return 0, 0, errInvalidAlign
	}
	if align < blockAlign {
		align = blockAlign
	}

	if size < MinBlockSize {
		size = MinBlockSize
	}
	if size > ^uintptr(0)-(blockAlign-1) {
		return 0, 0, ErrOutOfMemory
	}
	return mm.AlignUp(size, blockAlign), align, nil
}

// Size returns the number of bytes managed by the heap.
func (h *Heap) Size() uintptr {
	return h.end - h.start
}

// Used returns the number of bytes currently allocated, including the
// rounding applied to each request.
func (h *Heap) Used() uintptr {
	h.mutex.Acquire()
	defer h.mutex.Release()
	return h.used
}

// FreeBytes returns the number of bytes available for allocation.
func (h *Heap) FreeBytes() uintptr {
	return h.Size() - h.Used()
}

// Contains returns true if addr lies inside the heap region.
func (h *Heap) Contains(addr uintptr) bool {
	return addr >= h.start && addr < h.end
}

// AllocBytes allocates n bytes from a and returns them as a byte slice. The
// returned memory is zeroed. It must only be used for data that contains no
// Go pointers.
func AllocBytes(a Allocator, n uintptr) ([]byte, *kernel.Error) {
	addr, err := a.Alloc(n, 0)
	if err != nil {
		return nil, err
	}

	kernel.Memset(addr, 0, n)
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(n)), nil
}
