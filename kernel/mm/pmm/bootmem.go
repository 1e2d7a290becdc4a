package pmm

import (
	"pebbleos/bootinfo"
	"pebbleos/kernel"
	"pebbleos/kernel/kfmt"
	"pebbleos/kernel/mm"
	"pebbleos/kernel/sync"
)

var (
	// ErrOutOfMemory is returned by AllocFrame once all usable frames have
	// been handed out.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}
)

// BootMemAllocator implements a rudimentary physical memory allocator which
// hands out the frames of the usable memory regions reported by the boot
// collaborator.
//
// The allocator keeps a cursor (current region and next frame in it) that
// only moves forward, so every frame is returned at most once. Frames cannot
// be freed.
type BootMemAllocator struct {
	mutex sync.Spinlock

	// regions aliases the memory map of the boot info block.
	regions []bootinfo.MemoryRegion

	regionIndex int
	nextFrame   mm.Frame

	// allocCount tracks the total number of allocated frames.
	allocCount uint64

	// Keep track of kernel location so we exclude this region.
	kernelStartAddr, kernelEndAddr   uintptr
	kernelStartFrame, kernelEndFrame mm.Frame
}

// Init sets up the boot memory allocator internal state. The regions slice is
// retained as-is; no region information is copied or pre-processed.
func (alloc *BootMemAllocator) Init(regions []bootinfo.MemoryRegion, kernelStart, kernelEnd uintptr) {
	alloc.regions = regions
	alloc.regionIndex = 0
	alloc.nextFrame = 0
	alloc.allocCount = 0

	// round down kernel start to the nearest page and round up kernel end
	// to the nearest page.
	alloc.kernelStartAddr = kernelStart
	alloc.kernelEndAddr = kernelEnd
	if kernelEnd <= kernelStart {
		// empty range that no frame can fall into
		alloc.kernelStartFrame, alloc.kernelEndFrame = mm.InvalidFrame, 0
		return
	}
	alloc.kernelStartFrame = mm.FrameFromAddress(kernelStart)
	alloc.kernelEndFrame = mm.FrameFromAddress(mm.AlignUp(kernelEnd, mm.PageSize)) - 1
}

// kernelPages returns the number of frames occupied by the kernel image.
func (alloc *BootMemAllocator) kernelPages() uint64 {
	if alloc.kernelEndFrame < alloc.kernelStartFrame {
		return 0
	}
	return uint64(alloc.kernelEndFrame - alloc.kernelStartFrame + 1)
}

// AllocFrame reserves the next available free frame. It returns
// ErrOutOfMemory if no more memory can be allocated.
func (alloc *BootMemAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	alloc.mutex.Acquire()

	for alloc.regionIndex < len(alloc.regions) {
		startFrame, endFrame := usableFrames(&alloc.regions[alloc.regionIndex])

		if alloc.nextFrame < startFrame {
			alloc.nextFrame = startFrame
		}

		// Skip over the frames that hold the kernel image
		if alloc.nextFrame >= alloc.kernelStartFrame && alloc.nextFrame <= alloc.kernelEndFrame {
			alloc.nextFrame = alloc.kernelEndFrame + 1
		}

		if alloc.nextFrame < endFrame {
			frame := alloc.nextFrame
			alloc.nextFrame++
			alloc.allocCount++
			alloc.mutex.Release()
			return frame, nil
		}

		alloc.regionIndex++
		alloc.nextFrame = 0
	}

	alloc.mutex.Release()
	return mm.InvalidFrame, ErrOutOfMemory
}

// AllocCount returns the number of frames handed out so far.
func (alloc *BootMemAllocator) AllocCount() uint64 {
	return alloc.allocCount
}

// usableFrames returns the range [start, end) of whole frames contained in
// region. Reported addresses may not be page-aligned so the start is rounded
// up and the end rounded down. Regions that are not usable yield an empty
// range.
func usableFrames(region *bootinfo.MemoryRegion) (mm.Frame, mm.Frame) {
	if region.Kind != bootinfo.Usable {
		return 0, 0
	}

	start := mm.AlignUp(uintptr(region.Start), mm.PageSize)
	end := mm.AlignDown(uintptr(region.End), mm.PageSize)
	if end <= start {
		return 0, 0
	}

	return mm.FrameFromAddress(start), mm.FrameFromAddress(end)
}

// PrintMemoryMap outputs the system's memory map as reported by the boot
// collaborator.
func (alloc *BootMemAllocator) PrintMemoryMap() {
	kfmt.Printf("[pmm] system memory map:\n")
	var totalFree mm.Size
	for i := range alloc.regions {
		region := &alloc.regions[i]
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.Start, region.End, region.Size(), region.Kind.String())

		if region.Kind == bootinfo.Usable {
			totalFree += mm.Size(region.Size())
		}
	}
	kfmt.Printf("[pmm] available memory: %dKb\n", uint64(totalFree/mm.Kb))
	kfmt.Printf("[pmm] kernel loaded at 0x%x - 0x%x\n", alloc.kernelStartAddr, alloc.kernelEndAddr)
	kfmt.Printf("[pmm] size: %d bytes, reserved pages: %d\n",
		uint64(alloc.kernelEndAddr-alloc.kernelStartAddr),
		alloc.kernelPages(),
	)
}
