package kernel

import (
	"testing"
	"unsafe"
)

func TestMemset(t *testing.T) {
	// memset with a 0 size should be a no-op
	Memset(uintptr(0), 0x00, 0)

	for pageCount := uint32(1); pageCount <= 10; pageCount++ {
		buf := make([]byte, 4096<<pageCount)
		for i := 0; i < len(buf); i++ {
			buf[i] = 0xFE
		}

		addr := uintptr(unsafe.Pointer(&buf[0]))
		Memset(addr, 0x00, uintptr(len(buf)))

		for i := 0; i < len(buf); i++ {
			if got := buf[i]; got != 0x00 {
				t.Errorf("[block with %d pages] expected byte: %d to be 0x00; got 0x%x", pageCount, i, got)
			}
		}
	}
}

func TestMemsetOddSize(t *testing.T) {
	buf := make([]byte, 37)
	Memset(uintptr(unsafe.Pointer(&buf[0])), 0xAB, 33)

	for i, b := range buf {
		exp := byte(0xAB)
		if i >= 33 {
			exp = 0
		}
		if b != exp {
			t.Fatalf("expected byte %d to be 0x%x; got 0x%x", i, exp, b)
		}
	}
}

func TestMemcopy(t *testing.T) {
	// memcopy with a 0 size should be a no-op
	Memcopy(uintptr(0), uintptr(0), 0)

	var (
		src = make([]byte, 4096)
		dst = make([]byte, 4096)
	)
	for i := 0; i < len(src); i++ {
		src[i] = byte(i % 256)
	}

	Memcopy(
		uintptr(unsafe.Pointer(&src[0])),
		uintptr(unsafe.Pointer(&dst[0])),
		uintptr(len(src)),
	)

	for i := 0; i < len(src); i++ {
		if got := dst[i]; got != src[i] {
			t.Errorf("value mismatch between src and dst at index %d", i)
		}
	}
}
