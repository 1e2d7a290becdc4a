// Package irq installs the CPU exception handlers that the kernel can
// service, drives the legacy 8259 PIC pair and 8253 PIT and dispatches
// hardware interrupt lines to their handlers.
package irq

import (
	"pebbleos/kernel"
	"pebbleos/kernel/gate"
	"pebbleos/kernel/kfmt"
	"pebbleos/kernel/mm"
	"pebbleos/kernel/sync"
	"unsafe"
)

const (
	// doubleFaultIST is the interrupt stack table slot used by the double
	// fault handler.
	doubleFaultIST = 1

	doubleFaultStackSize = 20 * 1024

	// TimerLine is the IRQ line wired to PIT channel 0.
	TimerLine = uint8(0)
)

var (
	// the following functions are mocked by tests.
	handleInterruptFn  = gate.HandleInterrupt
	installISTStackFn  = gate.InstallISTStack
	enableInterruptsFn = sync.EnableInterrupts
	panicFn            = kfmt.Panic

	// doubleFaultStack is the dedicated stack that the CPU switches to
	// when delivering a double fault. It is part of the kernel image so it
	// is always mapped.
	doubleFaultStack [doubleFaultStackSize]byte

	irqHandlers [irqLines]func()

	errDoubleFault = &kernel.Error{Module: "irq", Message: "double fault"}
	errInvalidLine = &kernel.Error{Module: "irq", Message: "invalid IRQ line"}
)

// Config holds the tunables of the interrupt subsystem.
type Config struct {
	// TimerHz is the rate at which the PIT raises IRQ0.
	TimerHz uint32
}

// Init remaps the PICs, installs the breakpoint, double fault and timer
// handlers, programs the PIT and enables interrupts. gate.Init must be
// called before Init.
func Init(cfg Config) *kernel.Error {
	remapPIC()

	if err := installISTStackFn(doubleFaultIST, doubleFaultStackTop()); err != nil {
		return err
	}

	handleInterruptFn(gate.Breakpoint, 0, breakpointHandler)
	handleInterruptFn(gate.DoubleFault, doubleFaultIST, doubleFaultHandler)

	if err := HandleIRQ(TimerLine, timerHandler); err != nil {
		return err
	}
	programPIT(cfg.TimerHz)

	kfmt.Printf("[irq] PIC remapped to vectors %d-%d, timer at %dHz\n", PICMasterOffset, PICSlaveOffset+7, cfg.TimerHz)
	enableInterruptsFn()
	return nil
}

// doubleFaultStackTop returns the 16-byte aligned top of the double fault
// stack. Stacks grow downwards.
func doubleFaultStackTop() uintptr {
	return mm.AlignDown(uintptr(unsafe.Pointer(&doubleFaultStack[0]))+doubleFaultStackSize, 16)
}

// HandleIRQ registers handler for a hardware interrupt line and unmasks the
// line. The handler runs with interrupts disabled; the end-of-interrupt
// signal is sent after it returns.
func HandleIRQ(line uint8, handler func()) *kernel.Error {
	if line >= irqLines || line == cascadeLine {
		return errInvalidLine
	}

	irqHandlers[line] = handler
	handleInterruptFn(gate.IRQBase+gate.InterruptNumber(line), 0, dispatchIRQ)
	unmaskLine(line)
	return nil
}

// dispatchIRQ routes a hardware interrupt to the registered line handler
// and acknowledges it.
func dispatchIRQ(regs *gate.Registers) {
	line := uint8(regs.Vector) - PICMasterOffset
	if line >= irqLines {
		return
	}

	if isSpurious(line) {
		// The master still saw a real request on the cascade line.
		if line >= 8 {
			portWriteByteFn(picMasterCmd, picEOI)
		}
		return
	}

	if handler := irqHandlers[line]; handler != nil {
		handler()
	}

	sendEOI(line)
}

// breakpointHandler logs the location of the INT3 instruction and resumes
// execution.
func breakpointHandler(regs *gate.Registers) {
	kfmt.Printf("[irq] breakpoint at RIP 0x%x\n", regs.RIP)
	regs.DumpTo(kfmt.GetOutputSink())
}

// doubleFaultHandler runs on the dedicated IST stack. A double fault is
// unrecoverable so the handler logs the CPU state and halts.
func doubleFaultHandler(regs *gate.Registers) {
	kfmt.Printf("\nDouble fault (error code: 0x%x)\n", regs.Info)
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panicFn(errDoubleFault)
}
