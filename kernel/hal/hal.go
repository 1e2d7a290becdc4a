// Package hal detects the available hardware and initializes the drivers
// for it.
package hal

import (
	"io"
	"pebbleos/device"
	"pebbleos/kernel/kfmt"
	"sort"
)

const maxActiveDrivers = 16

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	// console is the first initialized driver that can accept kernel
	// output.
	console io.Writer

	// activeDrivers tracks all initialized device drivers.
	activeDrivers     [maxActiveDrivers]device.Driver
	activeDriverCount int
}

var (
	devices managedDevices

	// the following functions are mocked by tests.
	driverListFn    = device.DriverList
	setOutputSinkFn = kfmt.SetOutputSink
)

// prefixBuf is a fixed-size io.Writer used to build driver log prefixes
// without allocating. Output that does not fit is truncated.
type prefixBuf struct {
	buf [64]byte
	n   int
}

func (b *prefixBuf) Write(p []byte) (int, error) {
	b.n += copy(b.buf[b.n:], p)
	return len(p), nil
}

func (b *prefixBuf) Reset() { b.n = 0 }

func (b *prefixBuf) Bytes() []byte { return b.buf[:b.n] }

// ActiveDrivers returns the drivers that were successfully initialized.
func ActiveDrivers() []device.Driver {
	return devices.activeDrivers[:devices.activeDriverCount]
}

// Console returns the device that is used for kernel output or nil if no
// output device was detected.
func Console() io.Writer {
	return devices.console
}

// DetectHardware probes for hardware devices and initializes the appropriate
// drivers.
func DetectHardware() {
	// Get driver list and sort by detection priority
	drivers := driverListFn()
	sort.Sort(drivers)

	probe(drivers)
}

// probe executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func probe(driverInfoList device.DriverInfoList) {
	var (
		w      = kfmt.PrefixWriter{Sink: kfmt.GetOutputSink()}
		prefix prefixBuf
	)

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		prefix.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&prefix, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = prefix.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&w, "initialized\n")
		onDriverInit(drv)

		// Pick up the sink in case this driver became the console.
		w.Sink = kfmt.GetOutputSink()
	}
}

// onDriverInit is invoked by probe() whenever a piece of hardware is detected
// and successfully initialized.
func onDriverInit(drv device.Driver) {
	if devices.activeDriverCount < maxActiveDrivers {
		devices.activeDrivers[devices.activeDriverCount] = drv
		devices.activeDriverCount++
	}

	if cons, ok := drv.(io.Writer); ok && devices.console == nil {
		devices.console = cons
		setOutputSinkFn(cons)
	}
}
