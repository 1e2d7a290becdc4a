package vmm

const (
	// pageLevels indicates the number of page levels supported by the amd64 architecture.
	pageLevels = 4

	// entriesPerTable is the number of entries in each page table.
	entriesPerTable = 512

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. For this particular architecture,
	// bits 12-51 contain the physical memory address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// hugePage1GMask and hugePage2MMask extract the offset inside a 1GiB
	// and a 2MiB page respectively.
	hugePage1GMask = uintptr(1<<30 - 1)
	hugePage2MMask = uintptr(1<<21 - 1)
)

// pageLevelShifts defines the shift required to access each page table
// component of a virtual address. For the amd64 architecture each level uses
// 9 bits which amounts to 512 entries for each page level.
var pageLevelShifts = [pageLevels]uint8{
	39,
	30,
	21,
	12,
}

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set on P3 and P2 entries that map a 1GiB or 2MiB
	// page instead of pointing to the next table.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the swapping page tables by updating the CR3 register.
	FlagGlobal

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute = 1 << 63
)
