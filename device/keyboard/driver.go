// Package keyboard implements a PS/2 keyboard driver. Scancodes are read by
// the IRQ1 handler and handed over to tasks through a bounded queue.
package keyboard

import (
	"io"
	"pebbleos/device"
	"pebbleos/kernel"
	"pebbleos/kernel/cpu"
	"pebbleos/kernel/irq"
)

const (
	keyboardIRQ  = 1
	dataPort     = 0x60
	statusPort   = 0x64
	statusAbsent = 0xff
)

var (
	// the following functions are mocked by tests.
	portReadByteFn = cpu.PortReadByte
	handleIRQFn    = irq.HandleIRQ

	ps2 ps2Keyboard
)

type ps2Keyboard struct{}

// DriverName returns the name of this driver.
func (*ps2Keyboard) DriverName() string {
	return "ps2_keyboard"
}

// DriverVersion returns the version of this driver.
func (*ps2Keyboard) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit installs the keyboard interrupt handler.
func (*ps2Keyboard) DriverInit(_ io.Writer) *kernel.Error {
	return handleIRQFn(keyboardIRQ, interruptHandler)
}

// interruptHandler reads the pending scancode from the controller. The byte
// must be read for the controller to raise further interrupts.
func interruptHandler() {
	AddScancode(portReadByteFn(dataPort))
}

// probeForPS2Keyboard checks for a PS/2 controller. A missing controller
// floats the status port to 0xff.
func probeForPS2Keyboard() device.Driver {
	if portReadByteFn(statusPort) == statusAbsent {
		return nil
	}

	return &ps2
}

var ps2Info = device.DriverInfo{
	Order: device.DetectOrderInput,
	Probe: probeForPS2Keyboard,
}

func init() {
	device.RegisterDriver(&ps2Info)
}
