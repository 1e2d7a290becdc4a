package irq

import "sync/atomic"

const (
	pitChannel0 = uint16(0x40)
	pitCommand  = uint16(0x43)

	// pitBaseFrequency is the frequency of the PIT oscillator in Hz.
	pitBaseFrequency = uint32(1193182)

	// pitModeRateGenerator selects channel 0, lo/hi byte access and mode 3
	// (square wave generator).
	pitModeRateGenerator = uint8(0x36)
)

// ticks counts timer interrupts since the PIT was programmed.
var ticks uint64

// Ticks returns the number of timer interrupts serviced so far.
func Ticks() uint64 {
	return atomic.LoadUint64(&ticks)
}

// pitDivisor returns the channel 0 reload value for the requested frequency.
// Frequencies that cannot be represented are clamped to the slowest or
// fastest supported rate.
func pitDivisor(hz uint32) uint16 {
	if hz == 0 {
		return 0xffff
	}

	divisor := pitBaseFrequency / hz
	switch {
	case divisor == 0:
		return 1
	case divisor > 0xffff:
		return 0xffff
	}
	return uint16(divisor)
}

// programPIT configures channel 0 of the PIT to fire IRQ0 at hz.
func programPIT(hz uint32) {
	divisor := pitDivisor(hz)

	portWriteByteFn(pitCommand, pitModeRateGenerator)
	portWriteByteFn(pitChannel0, uint8(divisor))
	portWriteByteFn(pitChannel0, uint8(divisor>>8))
}

func timerHandler() {
	atomic.AddUint64(&ticks, 1)
}
