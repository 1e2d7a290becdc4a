// Package kconf collects the kernel tunables that can be overridden from the
// kernel command line.
package kconf

import (
	"pebbleos/bootinfo"
	"pebbleos/kernel/kfmt"
	"pebbleos/kernel/mm"
)

const (
	// HeapStart is the virtual address where the kernel heap is mapped.
	HeapStart = uintptr(0x4444_4444_0000)

	// DefaultHeapSize is the heap size used when heapSize is not specified.
	DefaultHeapSize = 100 * mm.Kb

	// DefaultTimerHz is the timer interrupt frequency used when timerHz is
	// not specified.
	DefaultTimerHz = 100

	// DefaultScancodeQueueSize is the capacity of the keyboard scancode
	// queue used when kbdQueue is not specified.
	DefaultScancodeQueueSize = 100

	minHeapSize          = 4 * mm.Kb
	maxHeapSize          = 1 * mm.Gb
	minTimerHz           = 19
	maxTimerHz           = 1193182
	maxScancodeQueueSize = 4096
)

// Config holds the kernel tunables.
type Config struct {
	HeapStart uintptr
	HeapSize  mm.Size
	TimerHz   uint32

	// ScancodeQueueSize is the number of scancodes that can be buffered
	// between the keyboard interrupt handler and the consuming task.
	ScancodeQueueSize int

	// Serial enables the COM1 serial console.
	Serial bool

	// KeyEcho enables the task that prints decoded key presses.
	KeyEcho bool
}

var (
	// visitCmdLineFn is mocked by tests.
	visitCmdLineFn = bootinfo.VisitCmdLine

	active = Defaults()
)

// Defaults returns the configuration used when no command line overrides
// are present.
func Defaults() Config {
	return Config{
		HeapStart:         HeapStart,
		HeapSize:          DefaultHeapSize,
		TimerHz:           DefaultTimerHz,
		ScancodeQueueSize: DefaultScancodeQueueSize,
		Serial:            true,
		KeyEcho:           true,
	}
}

// Active returns the configuration populated by the last call to Load or
// the defaults if Load has not been called yet.
func Active() *Config {
	return &active
}

// Load applies the overrides found in the kernel command line on top of the
// defaults and makes the result the active configuration. Unknown options
// are ignored; options with invalid values are reported and the default
// value is kept.
//
// Recognized options:
//   - heapSize=N[K|M]
//   - timerHz=N
//   - kbdQueue=N
//   - serial=on|off
//   - echo=on|off
func Load() *Config {
	active = Defaults()

	visitCmdLineFn(func(key, value string) bool {
		if !apply(&active, key, value) {
			kfmt.Printf("[kconf] ignoring invalid value for %s: %s\n", key, value)
		}
		return true
	})

	return &active
}

// apply sets the config field for key. It returns false if value is not
// valid for key.
func apply(cfg *Config, key, value string) bool {
	switch key {
	case "heapSize":
		size, ok := parseSize(value)
		if !ok || size < minHeapSize || size > maxHeapSize {
			return false
		}
		cfg.HeapSize = size
	case "timerHz":
		hz, ok := parseUint(value)
		if !ok || hz < minTimerHz || hz > maxTimerHz {
			return false
		}
		cfg.TimerHz = uint32(hz)
	case "kbdQueue":
		n, ok := parseUint(value)
		if !ok || n == 0 || n > maxScancodeQueueSize {
			return false
		}
		cfg.ScancodeQueueSize = int(n)
	case "serial":
		return parseSwitch(value, &cfg.Serial)
	case "echo":
		return parseSwitch(value, &cfg.KeyEcho)
	}

	return true
}

// parseSize parses a byte count with an optional K or M suffix.
func parseSize(value string) (mm.Size, bool) {
	if value == "" {
		return 0, false
	}

	unit := mm.Byte
	switch value[len(value)-1] {
	case 'K', 'k':
		unit = mm.Kb
		value = value[:len(value)-1]
	case 'M', 'm':
		unit = mm.Mb
		value = value[:len(value)-1]
	}

	n, ok := parseUint(value)
	if !ok || n > uint64(maxHeapSize/unit) {
		return 0, false
	}

	return mm.Size(n) * unit, true
}

// parseUint parses a decimal number without allocating.
func parseUint(value string) (uint64, bool) {
	if value == "" || len(value) > 19 {
		return 0, false
	}

	var n uint64
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return 0, false
		}
		n = n*10 + uint64(value[i]-'0')
	}

	return n, true
}

func parseSwitch(value string, dst *bool) bool {
	switch value {
	case "on":
		*dst = true
	case "off":
		*dst = false
	default:
		return false
	}
	return true
}
