// Package bootinfo decodes the information block that the boot collaborator
// hands to the kernel: the physical memory offset mapping, the location of
// the loaded kernel image, the physical memory map and the kernel command
// line.
package bootinfo

import (
	"pebbleos/kernel"
	"unsafe"
)

// Magic identifies a valid boot information block ("PBLBOOT1" stored as a
// little-endian uint64).
const Magic = uint64(0x31544f4f424c4250)

var (
	infoData uintptr

	errBadMagic = &kernel.Error{Module: "bootinfo", Message: "boot info block has an invalid magic value"}
)

// header describes the layout of the boot information block.
type header struct {
	magic uint64

	// Virtual address where the complete physical address space is mapped.
	physOffset uint64

	// Physical extents of the loaded kernel image.
	kernelStart uint64
	kernelEnd   uint64

	// Pointer to and length of the MemoryRegion array.
	regionsPtr uint64
	regionsLen uint64

	// Pointer to and length of the command line bytes. The command line
	// does not need to be NULL-terminated.
	cmdLinePtr uint64
	cmdLineLen uint64
}

// RegionKind describes what a MemoryRegion may be used for.
type RegionKind uint32

const (
	// Usable indicates that the memory region is free for the kernel to use.
	Usable RegionKind = iota + 1

	// Bootloader indicates memory used by the boot collaborator (page
	// tables, the boot info block, the kernel image).
	Bootloader

	// UnknownUEFI indicates a region with a firmware specific UEFI type.
	UnknownUEFI

	// UnknownBIOS indicates a region with a firmware specific E820 type.
	// Any unrecognized kind is reported as UnknownBIOS.
	UnknownBIOS
)

// String implements fmt.Stringer for RegionKind.
func (k RegionKind) String() string {
	switch k {
	case Usable:
		return "usable"
	case Bootloader:
		return "bootloader"
	case UnknownUEFI:
		return "uefi"
	default:
		return "bios"
	}
}

// MemoryRegion describes a physical memory region [Start, End).
type MemoryRegion struct {
	Start uint64
	End   uint64
	Kind  RegionKind
	_     uint32
}

// Size returns the length of the region in bytes.
func (r *MemoryRegion) Size() uint64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each memory region provided by the boot collaborator.
// The visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(*MemoryRegion) bool

// SetInfoPtr updates the internal boot info pointer to the given value. This
// function must be invoked before invoking any other function exported by
// this package.
func SetInfoPtr(ptr uintptr) *kernel.Error {
	if ptr == 0 || (*header)(unsafe.Pointer(ptr)).magic != Magic {
		infoData = 0
		return errBadMagic
	}

	infoData = ptr
	return nil
}

func info() *header {
	return (*header)(unsafe.Pointer(infoData))
}

// PhysicalMemoryOffset returns the virtual address at which the boot
// collaborator mapped the complete physical address space.
func PhysicalMemoryOffset() uintptr {
	if infoData == 0 {
		return 0
	}
	return uintptr(info().physOffset)
}

// KernelImage returns the physical address range occupied by the kernel.
func KernelImage() (start, end uintptr) {
	if infoData == 0 {
		return 0, 0
	}
	return uintptr(info().kernelStart), uintptr(info().kernelEnd)
}

// MemoryRegions returns a view of the memory map provided by the boot
// collaborator. The returned slice aliases the boot info memory and must be
// treated as read-only.
func MemoryRegions() []MemoryRegion {
	if infoData == 0 || info().regionsLen == 0 {
		return nil
	}

	return unsafe.Slice((*MemoryRegion)(unsafe.Pointer(uintptr(info().regionsPtr))), int(info().regionsLen))
}

// VisitMemRegions will invoke the supplied visitor for each memory region
// defined by the boot info block.
func VisitMemRegions(visitor MemRegionVisitor) {
	regions := MemoryRegions()
	for i := range regions {
		if !visitor(&regions[i]) {
			return
		}
	}
}

// CmdLine returns the raw kernel command line. The returned string aliases
// the boot info memory.
func CmdLine() string {
	if infoData == 0 || info().cmdLineLen == 0 {
		return ""
	}

	return unsafe.String((*byte)(unsafe.Pointer(uintptr(info().cmdLinePtr))), int(info().cmdLineLen))
}

// CmdLineVisitor is invoked by VisitCmdLine for each option found in the
// kernel command line. The visitor must return true to continue or false to
// abort the scan.
type CmdLineVisitor func(key, value string) bool

// VisitCmdLine splits the kernel command line into space-separated options
// and invokes visitor for each one. Options in "key=value" form are reported
// as such; bare "key" options are reported with the key as their value. This
// function does not allocate memory so it can be used before the heap is
// available.
func VisitCmdLine(visitor CmdLineVisitor) {
	cmdLine := CmdLine()

	for start := 0; start < len(cmdLine); {
		// skip separators
		if isSpace(cmdLine[start]) {
			start++
			continue
		}

		end := start
		for end < len(cmdLine) && !isSpace(cmdLine[end]) {
			end++
		}

		key, value := splitOption(cmdLine[start:end])
		if !visitor(key, value) {
			return
		}
		start = end
	}
}

func splitOption(opt string) (string, string) {
	for i := 0; i < len(opt); i++ {
		if opt[i] == '=' {
			return opt[:i], opt[i+1:]
		}
	}
	return opt, opt
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == 0
}
