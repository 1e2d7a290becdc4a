package vmm

import (
	"pebbleos/kernel"
	"pebbleos/kernel/cpu"
	"pebbleos/kernel/gate"
	"pebbleos/kernel/kfmt"
)

const (
	faultProtection  = 1 << 0
	faultWrite       = 1 << 1
	faultUser        = 1 << 2
	faultReservedBit = 1 << 3
	faultInstrFetch  = 1 << 4
)

var (
	// the following functions are mocked by tests.
	handleInterruptFn = gate.HandleInterrupt
	readCR2Fn         = cpu.ReadCR2
	panicFn           = kfmt.Panic

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}
)

func installFaultHandlers() {
	handleInterruptFn(gate.PageFaultException, 0, pageFaultHandler)
	handleInterruptFn(gate.GPFException, 0, generalProtectionFaultHandler)
}

// pageFaultHandler is invoked when a PDT or PDT-entry is not present or when a
// RW protection check fails. The kernel does not demand-page so every page
// fault is fatal.
func pageFaultHandler(regs *gate.Registers) {
	faultAddress := uintptr(readCR2Fn())

	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	if regs.Info&faultProtection != 0 {
		kfmt.Printf("page protection violation")
	} else {
		kfmt.Printf("non-present page")
	}

	switch {
	case regs.Info&faultInstrFetch != 0:
		kfmt.Printf(" (instruction fetch)")
	case regs.Info&faultWrite != 0:
		kfmt.Printf(" (write)")
	default:
		kfmt.Printf(" (read)")
	}

	if regs.Info&faultUser != 0 {
		kfmt.Printf(", user-mode")
	}
	if regs.Info&faultReservedBit != 0 {
		kfmt.Printf(", page table has reserved bit set")
	}
	kfmt.Printf("\nError code: 0x%x\n", regs.Info)

	kfmt.Printf("\nRegisters:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panicFn(errUnrecoverableFault)
}

// generalProtectionFaultHandler is invoked for various reasons:
// - segment errors (privilege, type or limit violations)
// - executing privileged instructions outside ring-0
// - attempts to access reserved or unimplemented CPU registers
func generalProtectionFaultHandler(regs *gate.Registers) {
	kfmt.Printf("\nGeneral protection fault (error code: 0x%x)\n", regs.Info)
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panicFn(errUnrecoverableFault)
}
