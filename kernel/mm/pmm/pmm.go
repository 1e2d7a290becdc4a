// Package pmm contains code that manages physical memory frame allocations.
package pmm

import (
	"pebbleos/bootinfo"
)

// bootMemAllocator is the frame allocator used by the kernel.
var bootMemAllocator BootMemAllocator

// Init sets up the kernel physical memory allocation sub-system using the
// memory map supplied by the boot collaborator and returns the allocator.
func Init(regions []bootinfo.MemoryRegion, kernelStart, kernelEnd uintptr) *BootMemAllocator {
	bootMemAllocator.Init(regions, kernelStart, kernelEnd)
	bootMemAllocator.PrintMemoryMap()

	return &bootMemAllocator
}
