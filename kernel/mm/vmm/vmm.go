// Package vmm manages the active 4-level page table hierarchy. All page
// tables are reached through the window at which the boot collaborator
// mapped the complete physical address space.
package vmm

import (
	"pebbleos/kernel"
	"pebbleos/kernel/cpu"
	"pebbleos/kernel/kfmt"
	"pebbleos/kernel/mm"
	"unsafe"
)

var (
	// the following functions are mocked by tests.
	activePDTFn     = cpu.ActivePDT
	flushTLBEntryFn = cpu.FlushTLBEntry

	kernelMapper Mapper

	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrPageAlreadyMapped is returned by Map when the page is already
	// mapped to a different frame or with different flags.
	ErrPageAlreadyMapped = &kernel.Error{Module: "vmm", Message: "page is already mapped"}

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
	errNoActivePDT       = &kernel.Error{Module: "vmm", Message: "no active page directory table"}
)

// Mapper edits the page table hierarchy rooted at a P4 table.
type Mapper struct {
	p4Frame    mm.Frame
	physOffset uintptr
}

// Init builds a Mapper for the currently active page table hierarchy and
// installs the page fault and general protection fault handlers. The
// physicalMemoryOffset argument is the virtual address at which the complete
// physical memory is mapped; the mapping must stay in place for as long as
// the returned Mapper is in use.
func Init(physicalMemoryOffset uintptr) (*Mapper, *kernel.Error) {
	pdtAddr := activePDTFn()
	if pdtAddr == 0 {
		return nil, errNoActivePDT
	}

	kernelMapper = Mapper{
		p4Frame:    mm.FrameFromAddress(pdtAddr),
		physOffset: physicalMemoryOffset,
	}

	installFaultHandlers()

	kfmt.Printf("[vmm] active P4 at 0x%x, physical memory mapped at 0x%x\n", pdtAddr, physicalMemoryOffset)
	return &kernelMapper, nil
}

// NewMapper returns a Mapper for the hierarchy rooted at p4Frame.
func NewMapper(p4Frame mm.Frame, physicalMemoryOffset uintptr) Mapper {
	return Mapper{p4Frame: p4Frame, physOffset: physicalMemoryOffset}
}

// PhysToVirt returns the virtual address through which physAddr can be
// accessed.
func (m *Mapper) PhysToVirt(physAddr uintptr) uintptr {
	return m.physOffset + physAddr
}

func (m *Mapper) table(frame mm.Frame) *pageTable {
	return (*pageTable)(unsafe.Pointer(m.PhysToVirt(frame.Address())))
}

// Map establishes a mapping between a virtual page and a physical memory
// frame. Missing intermediate page tables are allocated using alloc and
// cleared. Intermediate entries that already exist are widened with the RW
// and user-accessible bits of flags so they never restrict the new leaf.
//
// Mapping a page that is already present is only allowed if the request is
// identical to the existing mapping, in which case Map does nothing;
// otherwise ErrPageAlreadyMapped is returned.
func (m *Mapper) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag, alloc mm.FrameAllocator) *kernel.Error {
	var (
		virtAddr = page.Address()
		table    = m.table(m.p4Frame)
		pte      *pageTableEntry
	)

	flags |= FlagPresent

	for level := 0; level < pageLevels-1; level++ {
		pte = &table[tableIndex(virtAddr, level)]

		switch {
		case !pte.HasFlags(FlagPresent):
			tableFrame, err := alloc.AllocFrame()
			if err != nil {
				return err
			}

			kernel.Memset(m.PhysToVirt(tableFrame.Address()), 0, mm.PageSize)
			*pte = 0
			pte.SetFrame(tableFrame)
			pte.SetFlags(FlagPresent | FlagRW | (flags & FlagUserAccessible))
		case pte.HasFlags(FlagHugePage):
			return errNoHugePageSupport
		default:
			pte.SetFlags(flags & (FlagRW | FlagUserAccessible))
		}

		table = m.table(pte.Frame())
	}

	var entry pageTableEntry
	entry.SetFrame(frame)
	entry.SetFlags(flags)

	pte = &table[tableIndex(virtAddr, pageLevels-1)]
	if pte.HasFlags(FlagPresent) {
		// The CPU may have set the accessed/dirty bits on the existing entry.
		existing := *pte
		existing.ClearFlags(FlagAccessed | FlagDirty)
		if existing == entry {
			return nil
		}
		return ErrPageAlreadyMapped
	}

	*pte = entry
	flushTLBEntryFn(virtAddr)
	return nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address. 1GiB and 2MiB pages are
// supported.
func (m *Mapper) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	table := m.table(m.p4Frame)

	for level := 0; level < pageLevels; level++ {
		pte := table[tableIndex(virtAddr, level)]
		if !pte.HasFlags(FlagPresent) {
			return 0, ErrInvalidMapping
		}

		switch {
		case level == pageLevels-1:
			return pte.Frame().Address() + PageOffset(virtAddr), nil
		case level == 1 && pte.HasFlags(FlagHugePage):
			return (pte.Frame().Address() &^ hugePage1GMask) + (virtAddr & hugePage1GMask), nil
		case level == 2 && pte.HasFlags(FlagHugePage):
			return (pte.Frame().Address() &^ hugePage2MMask) + (virtAddr & hugePage2MMask), nil
		}

		table = m.table(pte.Frame())
	}

	return 0, ErrInvalidMapping
}
