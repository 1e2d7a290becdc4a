package irq

import "pebbleos/kernel/cpu"

const (
	picMasterCmd  = uint16(0x20)
	picMasterData = uint16(0x21)
	picSlaveCmd   = uint16(0xa0)
	picSlaveData  = uint16(0xa1)

	// ioWaitPort is an unused port; writing to it gives the PICs time to
	// process the previous command.
	ioWaitPort = uint16(0x80)

	picEOI       = uint8(0x20)
	ocw3ReadISR  = uint8(0x0b)
	icw1Init     = uint8(0x11)
	icw4Mode8086 = uint8(0x01)

	// PICMasterOffset and PICSlaveOffset are the first vectors used by the
	// master and slave PIC after remapping.
	PICMasterOffset = uint8(32)
	PICSlaveOffset  = uint8(PICMasterOffset + 8)

	// cascadeLine is the master line that the slave PIC is attached to.
	cascadeLine = uint8(2)

	irqLines = 16
)

var (
	// the following functions are mocked by tests.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte
)

func ioWait() {
	portWriteByteFn(ioWaitPort, 0)
}

// remapPIC moves the interrupt vectors of the chained 8259 PICs from their
// BIOS defaults (which collide with CPU exceptions) to
// PICMasterOffset..PICMasterOffset+15. All lines other than the cascade line
// start out masked; HandleIRQ unmasks the lines that get a handler.
func remapPIC() {
	portWriteByteFn(picMasterCmd, icw1Init)
	ioWait()
	portWriteByteFn(picSlaveCmd, icw1Init)
	ioWait()

	portWriteByteFn(picMasterData, PICMasterOffset)
	ioWait()
	portWriteByteFn(picSlaveData, PICSlaveOffset)
	ioWait()

	// tell the master that the slave is attached to line 2 and tell the
	// slave its cascade identity.
	portWriteByteFn(picMasterData, 1<<cascadeLine)
	ioWait()
	portWriteByteFn(picSlaveData, cascadeLine)
	ioWait()

	portWriteByteFn(picMasterData, icw4Mode8086)
	ioWait()
	portWriteByteFn(picSlaveData, icw4Mode8086)
	ioWait()

	portWriteByteFn(picMasterData, ^uint8(1<<cascadeLine))
	portWriteByteFn(picSlaveData, 0xff)
}

// unmaskLine enables delivery of the given IRQ line.
func unmaskLine(line uint8) {
	port := picMasterData
	if line >= 8 {
		port = picSlaveData
		line -= 8
	}

	portWriteByteFn(port, portReadByteFn(port)&^(1<<line))
}

// sendEOI acknowledges the given IRQ line. Lines served by the slave PIC
// need to be acknowledged by both controllers.
func sendEOI(line uint8) {
	if line >= 8 {
		portWriteByteFn(picSlaveCmd, picEOI)
	}
	portWriteByteFn(picMasterCmd, picEOI)
}

// isSpurious reports whether an interrupt on line 7 or 15 was raised by the
// PIC without the line being in service. This happens when the request goes
// away before the CPU acknowledges it; such interrupts must not be
// acknowledged by the PIC that raised them.
func isSpurious(line uint8) bool {
	var port uint16
	switch line {
	case 7:
		port = picMasterCmd
	case 15:
		port = picSlaveCmd
	default:
		return false
	}

	portWriteByteFn(port, ocw3ReadISR)
	return portReadByteFn(port)&(1<<7) == 0
}
