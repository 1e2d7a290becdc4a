// Package gate manages the interrupt descriptor table. Every vector is routed
// through an assembly entry stub that captures the register state into a
// Registers value and hands it to the Go handler registered for that vector.
package gate

import (
	"io"
	"pebbleos/kernel/kfmt"
)

// Registers contains a snapshot of all register values when an exception or
// interrupt occurs. The field order matches the layout that the common entry
// stub builds on the stack.
type Registers struct {
	R15 uint64
	R14 uint64
	R13 uint64
	R12 uint64
	R11 uint64
	R10 uint64
	R9  uint64
	R8  uint64
	RBP uint64
	RDI uint64
	RSI uint64
	RDX uint64
	RCX uint64
	RBX uint64
	RAX uint64

	// Vector is the interrupt vector that was raised.
	Vector uint64

	// Info contains the exception error code for exceptions that push one
	// and zero for everything else.
	Info uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Fprintf(w, "RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Fprintf(w, "RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Fprintf(w, "RBP = %16x\n", r.RBP)
	kfmt.Fprintf(w, "R8  = %16x R9  = %16x\n", r.R8, r.R9)
	kfmt.Fprintf(w, "R10 = %16x R11 = %16x\n", r.R10, r.R11)
	kfmt.Fprintf(w, "R12 = %16x R13 = %16x\n", r.R12, r.R13)
	kfmt.Fprintf(w, "R14 = %16x R15 = %16x\n", r.R14, r.R15)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "VEC = %16x ERR = %16x\n", r.Vector, r.Info)
	kfmt.Fprintf(w, "RIP = %16x CS  = %16x\n", r.RIP, r.CS)
	kfmt.Fprintf(w, "RSP = %16x SS  = %16x\n", r.RSP, r.SS)
	kfmt.Fprintf(w, "RFL = %16x\n", r.RFlags)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems.
	NMI = InterruptNumber(2)

	// Breakpoint is raised by the INT3 instruction.
	Breakpoint = InterruptNumber(3)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DoubleFault occurs when an exception is raised while the CPU is
	// trying to deliver a prior exception. Its handler must run on a
	// known-good stack.
	DoubleFault = InterruptNumber(8)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(14)

	// IRQBase is the first vector used by the remapped hardware interrupt
	// lines.
	IRQBase = InterruptNumber(32)
)

// hasErrorCode returns true for the exceptions that make the CPU push an
// error code before entering the handler.
func hasErrorCode(vector InterruptNumber) bool {
	switch vector {
	case 8, 10, 11, 12, 13, 14, 17, 21, 29, 30:
		return true
	}
	return false
}

// gateEntryAddr returns the address of the assembly entry stub for vector.
func gateEntryAddr(vector uint8) uintptr

// gateCommon is the shared assembly tail of every entry stub.
func gateCommon()
