package irq

import (
	"bytes"
	"pebbleos/kernel"
	"pebbleos/kernel/cpu"
	"pebbleos/kernel/gate"
	"pebbleos/kernel/kfmt"
	"pebbleos/kernel/sync"
	"strings"
	"testing"
	"unsafe"
)

type portWrite struct {
	port uint16
	val  uint8
}

// mockPorts emulates the PIC data registers and records all port writes
// except the ones used for I/O delays.
type mockPorts struct {
	writes []portWrite
	masks  map[uint16]uint8

	// isr holds the in-service register returned by the PIC command
	// ports.
	isr map[uint16]uint8
}

func newMockPorts() *mockPorts {
	return &mockPorts{masks: map[uint16]uint8{picMasterData: 0xff, picSlaveData: 0xff}}
}

func (m *mockPorts) install() {
	portWriteByteFn = func(port uint16, val uint8) {
		if port == ioWaitPort {
			return
		}
		m.writes = append(m.writes, portWrite{port, val})
		if _, ok := m.masks[port]; ok {
			m.masks[port] = val
		}
	}
	portReadByteFn = func(port uint16) uint8 {
		if v, ok := m.isr[port]; ok {
			return v
		}
		return m.masks[port]
	}
}

func restorePorts() {
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn = cpu.PortReadByte
}

func TestRemapPIC(t *testing.T) {
	defer restorePorts()

	ports := newMockPorts()
	ports.install()

	remapPIC()

	exp := []portWrite{
		{picMasterCmd, icw1Init},
		{picSlaveCmd, icw1Init},
		{picMasterData, 32},
		{picSlaveData, 40},
		{picMasterData, 4},
		{picSlaveData, 2},
		{picMasterData, icw4Mode8086},
		{picSlaveData, icw4Mode8086},
		{picMasterData, 0xfb},
		{picSlaveData, 0xff},
	}

	if len(ports.writes) != len(exp) {
		t.Fatalf("expected %d port writes; got %d: %v", len(exp), len(ports.writes), ports.writes)
	}

	for i := range exp {
		if ports.writes[i] != exp[i] {
			t.Errorf("[write %d] expected %v; got %v", i, exp[i], ports.writes[i])
		}
	}
}

func TestSendEOI(t *testing.T) {
	defer restorePorts()

	specs := []struct {
		line uint8
		exp  []portWrite
	}{
		{0, []portWrite{{picMasterCmd, picEOI}}},
		{1, []portWrite{{picMasterCmd, picEOI}}},
		{7, []portWrite{{picMasterCmd, picEOI}}},
		{8, []portWrite{{picSlaveCmd, picEOI}, {picMasterCmd, picEOI}}},
		{15, []portWrite{{picSlaveCmd, picEOI}, {picMasterCmd, picEOI}}},
	}

	for specIndex, spec := range specs {
		ports := newMockPorts()
		ports.install()

		sendEOI(spec.line)

		if len(ports.writes) != len(spec.exp) {
			t.Errorf("[spec %d] expected writes %v; got %v", specIndex, spec.exp, ports.writes)
			continue
		}
		for i := range spec.exp {
			if ports.writes[i] != spec.exp[i] {
				t.Errorf("[spec %d] expected writes %v; got %v", specIndex, spec.exp, ports.writes)
			}
		}
	}
}

func TestPITDivisor(t *testing.T) {
	specs := []struct {
		hz  uint32
		exp uint16
	}{
		{0, 0xffff},
		{1, 0xffff},
		{18, 0xffff},
		{19, 62799},
		{100, 11931},
		{1000, 1193},
		{1193182, 1},
		{2000000, 1},
	}

	for _, spec := range specs {
		if got := pitDivisor(spec.hz); got != spec.exp {
			t.Errorf("expected divisor for %dHz to be %d; got %d", spec.hz, spec.exp, got)
		}
	}
}

func TestProgramPIT(t *testing.T) {
	defer restorePorts()

	ports := newMockPorts()
	ports.install()

	programPIT(100)

	exp := []portWrite{
		{pitCommand, pitModeRateGenerator},
		{pitChannel0, uint8(11931 & 0xff)},
		{pitChannel0, uint8(11931 >> 8)},
	}

	for i := range exp {
		if ports.writes[i] != exp[i] {
			t.Errorf("[write %d] expected %v; got %v", i, exp[i], ports.writes[i])
		}
	}
}

type installedHandler struct {
	ist     uint8
	handler func(*gate.Registers)
}

func mockGate() map[gate.InterruptNumber]installedHandler {
	installed := make(map[gate.InterruptNumber]installedHandler)
	handleInterruptFn = func(num gate.InterruptNumber, ist uint8, handler func(*gate.Registers)) {
		installed[num] = installedHandler{ist, handler}
	}
	return installed
}

func restoreAll() {
	restorePorts()
	handleInterruptFn = gate.HandleInterrupt
	installISTStackFn = gate.InstallISTStack
	enableInterruptsFn = sync.EnableInterrupts
	panicFn = kfmt.Panic
	kfmt.SetOutputSink(nil)
	for i := range irqHandlers {
		irqHandlers[i] = nil
	}
}

func TestInit(t *testing.T) {
	defer restoreAll()
	defer sync.EmulateInterruptFlag()()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	ports := newMockPorts()
	ports.install()
	installed := mockGate()

	var (
		istIndex uint8
		istTop   uintptr
	)
	installISTStackFn = func(index uint8, top uintptr) *kernel.Error {
		istIndex, istTop = index, top
		return nil
	}

	sync.DisableInterrupts()
	if err := Init(Config{TimerHz: 100}); err != nil {
		t.Fatal(err)
	}

	if !sync.InterruptsEnabled() {
		t.Error("expected Init to enable interrupts")
	}

	if istIndex != doubleFaultIST {
		t.Errorf("expected double fault stack to be installed in IST%d; got IST%d", doubleFaultIST, istIndex)
	}

	stackBottom := uintptr(unsafe.Pointer(&doubleFaultStack[0]))
	if istTop <= stackBottom || istTop > stackBottom+doubleFaultStackSize || istTop%16 != 0 {
		t.Errorf("expected IST top 0x%x to be the aligned end of the double fault stack [0x%x, 0x%x)", istTop, stackBottom, stackBottom+doubleFaultStackSize)
	}

	if h, ok := installed[gate.DoubleFault]; !ok || h.ist != doubleFaultIST {
		t.Errorf("expected double fault handler to use IST%d", doubleFaultIST)
	}

	if h, ok := installed[gate.Breakpoint]; !ok || h.ist != 0 {
		t.Error("expected breakpoint handler to be installed on the current stack")
	}

	if _, ok := installed[gate.IRQBase]; !ok {
		t.Error("expected timer handler to be installed for vector 32")
	}

	if ports.masks[picMasterData]&1 != 0 {
		t.Error("expected timer line to be unmasked")
	}

	if !strings.Contains(buf.String(), "timer at 100Hz") {
		t.Errorf("expected init message; got %q", buf.String())
	}

	t.Run("IST install error", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "no TSS"}
		installISTStackFn = func(_ uint8, _ uintptr) *kernel.Error { return expErr }

		if err := Init(Config{TimerHz: 100}); err != expErr {
			t.Fatalf("expected IST error to be returned; got %v", err)
		}
	})
}

func TestHandleIRQ(t *testing.T) {
	defer restoreAll()

	ports := newMockPorts()
	ports.install()
	installed := mockGate()

	var calls int
	if err := HandleIRQ(12, func() { calls++ }); err != nil {
		t.Fatal(err)
	}

	h, ok := installed[gate.IRQBase+12]
	if !ok {
		t.Fatal("expected handler for vector 44 to be installed")
	}

	if ports.masks[picSlaveData] != 0xff&^(1<<4) {
		t.Errorf("expected slave line 4 to be unmasked; mask: 0x%x", ports.masks[picSlaveData])
	}

	ports.writes = nil
	h.handler(&gate.Registers{Vector: 44})

	if calls != 1 {
		t.Fatalf("expected line handler to be called once; got %d", calls)
	}

	exp := []portWrite{{picSlaveCmd, picEOI}, {picMasterCmd, picEOI}}
	if len(ports.writes) != 2 || ports.writes[0] != exp[0] || ports.writes[1] != exp[1] {
		t.Fatalf("expected EOI to be sent to both PICs; got %v", ports.writes)
	}

	t.Run("EOI without handler", func(t *testing.T) {
		ports.writes = nil
		dispatchIRQ(&gate.Registers{Vector: 35})
		if len(ports.writes) != 1 || ports.writes[0] != (portWrite{picMasterCmd, picEOI}) {
			t.Fatalf("expected EOI to be sent; got %v", ports.writes)
		}
	})

	t.Run("invalid lines", func(t *testing.T) {
		for _, line := range []uint8{cascadeLine, 16, 200} {
			if err := HandleIRQ(line, func() {}); err != errInvalidLine {
				t.Errorf("[line %d] expected errInvalidLine; got %v", line, err)
			}
		}
	})
}

func TestSpuriousIRQ(t *testing.T) {
	defer restoreAll()

	specs := []struct {
		descr     string
		line      uint8
		isr       map[uint16]uint8
		expCalled bool
		expWrites []portWrite
	}{
		{
			"spurious master interrupt",
			7,
			map[uint16]uint8{picMasterCmd: 0},
			false,
			[]portWrite{{picMasterCmd, ocw3ReadISR}},
		},
		{
			"real master line 7 interrupt",
			7,
			map[uint16]uint8{picMasterCmd: 1 << 7},
			true,
			[]portWrite{{picMasterCmd, ocw3ReadISR}, {picMasterCmd, picEOI}},
		},
		{
			"spurious slave interrupt",
			15,
			map[uint16]uint8{picSlaveCmd: 0},
			false,
			[]portWrite{{picSlaveCmd, ocw3ReadISR}, {picMasterCmd, picEOI}},
		},
		{
			"real slave line 15 interrupt",
			15,
			map[uint16]uint8{picSlaveCmd: 1 << 7},
			true,
			[]portWrite{{picSlaveCmd, ocw3ReadISR}, {picSlaveCmd, picEOI}, {picMasterCmd, picEOI}},
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			ports := newMockPorts()
			ports.isr = spec.isr
			ports.install()
			mockGate()

			var called bool
			if err := HandleIRQ(spec.line, func() { called = true }); err != nil {
				t.Fatal(err)
			}
			defer func() { irqHandlers[spec.line] = nil }()

			ports.writes = nil
			dispatchIRQ(&gate.Registers{Vector: uint64(PICMasterOffset + spec.line)})

			if called != spec.expCalled {
				t.Errorf("expected handler to be called: %t; got %t", spec.expCalled, called)
			}

			if len(ports.writes) != len(spec.expWrites) {
				t.Fatalf("expected port writes %v; got %v", spec.expWrites, ports.writes)
			}
			for i := range spec.expWrites {
				if ports.writes[i] != spec.expWrites[i] {
					t.Fatalf("expected port writes %v; got %v", spec.expWrites, ports.writes)
				}
			}
		})
	}
}

func TestTimerHandler(t *testing.T) {
	before := Ticks()
	for i := 0; i < 3; i++ {
		timerHandler()
	}

	if got := Ticks() - before; got != 3 {
		t.Fatalf("expected tick count to advance by 3; got %d", got)
	}
}

func TestBreakpointHandler(t *testing.T) {
	defer restoreAll()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	panicFn = func(_ interface{}) {
		t.Fatal("breakpoint handler must not halt")
	}

	breakpointHandler(&gate.Registers{Vector: 3, RIP: 0xbadf00d})

	if exp := "[irq] breakpoint at RIP 0xbadf00d"; !strings.Contains(buf.String(), exp) {
		t.Fatalf("expected output to contain %q; got:\n%s", exp, buf.String())
	}
}

func TestDoubleFaultHandler(t *testing.T) {
	defer restoreAll()

	var (
		buf      bytes.Buffer
		panicErr interface{}
	)
	kfmt.SetOutputSink(&buf)
	panicFn = func(e interface{}) { panicErr = e }

	doubleFaultHandler(&gate.Registers{Vector: 8, Info: 0})

	if panicErr != errDoubleFault {
		t.Fatalf("expected double fault handler to halt via Panic; got %v", panicErr)
	}

	if !strings.Contains(buf.String(), "Double fault") {
		t.Fatalf("expected double fault message; got:\n%s", buf.String())
	}
}
