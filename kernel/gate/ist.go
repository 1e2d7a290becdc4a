package gate

import (
	"pebbleos/kernel"
	"pebbleos/kernel/cpu"
	"unsafe"
)

const (
	// istOffset is the offset of IST1 inside a 64-bit TSS.
	istOffset = 36

	tssTypeAvailable = 0x9
	tssTypeBusy      = 0xb
)

var (
	// The following functions are mocked by tests.
	readTRFn   = cpu.ReadTR
	readGDTRFn = cpu.ReadGDTR

	errInvalidISTIndex = &kernel.Error{Module: "gate", Message: "IST index must be in the range [1, 7]"}
	errNoTSS           = &kernel.Error{Module: "gate", Message: "no 64-bit TSS is loaded"}
)

// InstallISTStack points the interrupt stack table slot index (1-7) of the
// currently loaded TSS at stackTop. The TSS is located by decoding its
// descriptor from the GDT using the selector in the task register.
func InstallISTStack(index uint8, stackTop uintptr) *kernel.Error {
	if index == 0 || index > maxISTIndex {
		return errInvalidISTIndex
	}

	tssBase, err := loadedTSS()
	if err != nil {
		return err
	}

	*(*uint64)(unsafe.Pointer(tssBase + istOffset + 8*uintptr(index-1))) = uint64(stackTop)
	return nil
}

// loadedTSS returns the base address of the TSS referenced by the task
// register.
func loadedTSS() (uintptr, *kernel.Error) {
	var gdtr [10]byte
	readGDTRFn(uintptr(unsafe.Pointer(&gdtr[0])))

	var (
		limit = uintptr(gdtr[0]) | uintptr(gdtr[1])<<8
		base  uintptr
		sel   = uintptr(readTRFn() &^ 0x7)
	)
	for i := 0; i < 8; i++ {
		base |= uintptr(gdtr[2+i]) << (8 * i)
	}

	// A 64-bit TSS descriptor spans two GDT slots.
	if sel == 0 || sel+15 > limit {
		return 0, errNoTSS
	}

	desc := (*[16]byte)(unsafe.Pointer(base + sel))
	if typ := desc[5] & 0xf; typ != tssTypeAvailable && typ != tssTypeBusy {
		return 0, errNoTSS
	}

	tssBase := uintptr(desc[2]) | uintptr(desc[3])<<8 | uintptr(desc[4])<<16 | uintptr(desc[7])<<24 |
		uintptr(desc[8])<<32 | uintptr(desc[9])<<40 | uintptr(desc[10])<<48 | uintptr(desc[11])<<56

	return tssBase, nil
}
