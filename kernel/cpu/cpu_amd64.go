// Package cpu exposes the privileged x86_64 instructions used by the kernel.
// All functions are implemented in assembly; callers that need to run in
// user-mode tests must access them through a function variable that the test
// can replace.
package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// InterruptsEnabled returns true if the IF flag is set in RFLAGS.
func InterruptsEnabled() bool

// Halt disables interrupts and stops instruction execution. Halt never
// returns.
func Halt()

// EnableInterruptsAndHalt atomically enables interrupts and halts the CPU
// until the next interrupt arrives. STI delays interrupt delivery by one
// instruction so an interrupt cannot slip in between the two instructions.
func EnableInterruptsAndHalt()

// Breakpoint raises a breakpoint exception (INT3).
func Breakpoint()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// ReadCS returns the active code segment selector.
func ReadCS() uint16

// ReadTR returns the selector of the loaded task state segment.
func ReadTR() uint16

// ReadGDTR stores the GDT register contents (limit followed by base) to the
// 10-byte buffer pointed to by dst.
func ReadGDTR(dst uintptr)

// LoadIDT loads the IDT register from the 10-byte descriptor pointed to by src.
func LoadIDT(src uintptr)

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8
