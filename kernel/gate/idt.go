package gate

import (
	"pebbleos/kernel"
	"pebbleos/kernel/cpu"
	"pebbleos/kernel/kfmt"
	"unsafe"
)

const (
	idtEntries = 256

	// gateTypeInterrupt marks a present 64-bit interrupt gate with DPL 0.
	// Interrupt gates clear IF on entry.
	gateTypeInterrupt = uint8(0x8e)

	// maxISTIndex is the number of IST slots in a 64-bit TSS.
	maxISTIndex = 7
)

// idtEntry describes a 64-bit interrupt gate descriptor.
type idtEntry struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	_          uint32
}

var (
	idt [idtEntries]idtEntry

	// idtr holds the limit (2 bytes) and base address (8 bytes) loaded
	// via LIDT.
	idtr [10]byte

	handlers [idtEntries]func(*Registers)

	// The following functions are mocked by tests.
	readCSFn    = cpu.ReadCS
	loadIDTFn   = cpu.LoadIDT
	entryAddrFn = gateEntryAddr
	panicFn     = kfmt.Panic

	errUnhandledInterrupt = &kernel.Error{Module: "gate", Message: "unhandled interrupt"}
)

// Init clears the IDT and loads it to the CPU. All gate entries are initially
// marked as non-present and must be explicitly enabled via a call to
// HandleInterrupt.
func Init() {
	for i := range idt {
		idt[i] = idtEntry{}
		handlers[i] = nil
	}

	base := uint64(uintptr(unsafe.Pointer(&idt[0])))
	limit := uint16(unsafe.Sizeof(idt) - 1)
	idtr[0], idtr[1] = byte(limit), byte(limit>>8)
	for i := 0; i < 8; i++ {
		idtr[2+i] = byte(base >> (8 * i))
	}

	loadIDTFn(uintptr(unsafe.Pointer(&idtr[0])))
}

// HandleInterrupt ensures that the provided handler will be invoked when a
// particular interrupt number occurs. The value of the istIndex argument
// selects the interrupt stack table slot (1-7) that the CPU switches to
// before invoking the entry stub; 0 keeps the current stack.
//
// Handlers run with interrupts disabled and must not block.
func HandleInterrupt(intNumber InterruptNumber, istIndex uint8, handler func(*Registers)) {
	addr := entryAddrFn(uint8(intNumber))

	handlers[intNumber] = handler
	idt[intNumber] = idtEntry{
		offsetLow:  uint16(addr),
		selector:   readCSFn(),
		ist:        istIndex & 0x7,
		typeAttr:   gateTypeInterrupt,
		offsetMid:  uint16(addr >> 16),
		offsetHigh: uint32(addr >> 32),
	}
}

// dispatchInterrupt is invoked by the common entry stub to route an incoming
// interrupt to the registered handler.
//go:nosplit
func dispatchInterrupt(regs *Registers) {
	if handler := handlers[uint8(regs.Vector)]; handler != nil {
		handler(regs)
		return
	}

	kfmt.Printf("\n[gate] unhandled interrupt vector %d (error code: 0x%x)\n", regs.Vector, regs.Info)
	regs.DumpTo(kfmt.GetOutputSink())
	panicFn(errUnhandledInterrupt)
}
