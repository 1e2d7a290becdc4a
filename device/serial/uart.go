// Package serial provides a driver for 16550-compatible UARTs.
package serial

import (
	"io"
	"pebbleos/device"
	"pebbleos/kernel"
	"pebbleos/kernel/cpu"
	"pebbleos/kernel/kconf"
)

// COM1 is the I/O port base of the first serial port.
const COM1 = uint16(0x3f8)

// Register offsets relative to the port base.
const (
	regData        = 0 // THR on write, RBR on read; divisor low byte when DLAB is set
	regIntEnable   = 1 // divisor high byte when DLAB is set
	regFIFOControl = 2
	regLineControl = 3
	regModemCtrl   = 4
	regLineStatus  = 5
	regScratch     = 7
)

const (
	baseBaudRate = 115200
	baudRate     = 38400

	lineControlDLAB = 1 << 7
	lineControl8N1  = 0x03

	// enable FIFOs, clear both of them and use a 14-byte threshold.
	fifoControlEnable = 0xc7

	// DTR, RTS and OUT2.
	modemControlReady = 0x0b

	lineStatusTHREmpty = 1 << 5

	scratchProbeValue = 0xa5
)

var (
	// the following functions are mocked by tests.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte
	serialEnabledFn = func() bool { return kconf.Active().Serial }

	com1 = Port{base: COM1}
)

// Port is a 16550 UART driven by polled I/O.
type Port struct {
	base uint16
}

// NewPort returns a Port for the UART at the supplied I/O port base.
func NewPort(base uint16) *Port {
	return &Port{base: base}
}

// DriverName returns the name of this driver.
func (p *Port) DriverName() string {
	return "uart16550"
}

// DriverVersion returns the version of this driver.
func (p *Port) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit programs the UART for 38400 baud, 8 data bits, no parity and
// one stop bit.
func (p *Port) DriverInit(w io.Writer) *kernel.Error {
	divisor := uint16(baseBaudRate / baudRate)

	portWriteByteFn(p.base+regIntEnable, 0)
	portWriteByteFn(p.base+regLineControl, lineControlDLAB)
	portWriteByteFn(p.base+regData, uint8(divisor))
	portWriteByteFn(p.base+regIntEnable, uint8(divisor>>8))
	portWriteByteFn(p.base+regLineControl, lineControl8N1)
	portWriteByteFn(p.base+regFIFOControl, fifoControlEnable)
	portWriteByteFn(p.base+regModemCtrl, modemControlReady)

	return nil
}

// Write implements io.Writer. Line feeds are translated to CR LF.
func (p *Port) Write(data []byte) (int, error) {
	for _, b := range data {
		if b == '\n' {
			p.writeByte('\r')
		}
		p.writeByte(b)
	}

	return len(data), nil
}

func (p *Port) writeByte(b byte) {
	for portReadByteFn(p.base+regLineStatus)&lineStatusTHREmpty == 0 {
	}
	portWriteByteFn(p.base+regData, b)
}

// present checks for a UART at the port base by writing a value to the
// scratch register and reading it back. Unpopulated ports read as 0xff.
func (p *Port) present() bool {
	portWriteByteFn(p.base+regScratch, scratchProbeValue)
	return portReadByteFn(p.base+regScratch) == scratchProbeValue
}

func probeForCOM1() device.Driver {
	if !serialEnabledFn() || !com1.present() {
		return nil
	}

	return &com1
}

var com1Info = device.DriverInfo{
	Order: device.DetectOrderEarly,
	Probe: probeForCOM1,
}

func init() {
	device.RegisterDriver(&com1Info)
}
