// Package kfmt implements the kernel's logging primitives: an allocation-free
// Printf, an early ring buffer that captures output until a sink device is
// attached, and Panic.
package kfmt

import (
	"io"
	"unsafe"
)

// maxBufSize defines the buffer size for formatting numbers.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	// earlyPrintBuffer is a ring buffer that stores Printf output before the
	// serial port is initialized.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// printer holds the scratch buffers used while formatting a single Printf
// call. It lives on the caller's stack so that Printf can be re-entered from
// an interrupt handler without the two calls corrupting each other's output.
type printer struct {
	w      io.Writer
	numBuf [maxBufSize + 1]byte
	single [1]byte
}

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the default target for calls to Printf.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf provides a minimal Printf implementation that can be safely used
// before the kernel heap is available and from interrupt handlers. This
// implementation does not allocate any memory.
//
// Similar to fmt.Printf, this version of printf supports the following subset
// of formatting verbs:
//
// Strings:
//		%s the uninterpreted bytes of the string or byte slice
//		%c a single byte
//
// Integers:
//		%o base 8
//		%d base 10
//		%x base 16, with lower-case letters for a-f
//
// Booleans:
//		%t "true" or "false"
//
// Width is specified by an optional decimal number immediately preceding the verb.
// If absent, the width is whatever is necessary to represent the value.
//
// String values with length less than the specified width will be left-padded with
// spaces. Integer values formatted as base-10 will also be left-padded with spaces.
// Finally, integer values formatted as base-8 or base-16 will be left-padded with zeroes.
//
// The output of Printf is written to the active output sink. If no sink is
// available, then the output is buffered into a ring-buffer and flushed to
// the first sink registered via SetOutputSink.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		p                            = printer{w: w}
		nextCh                       byte
		nextArgIndex                 int
		blockStart, blockEnd, padLen int
		fmtLen                       = len(format)
	)

	for blockEnd < fmtLen {
		nextCh = format[blockEnd]
		if nextCh != '%' {
			blockEnd++
			continue
		}

		p.writeString(format[blockStart:blockEnd])

		// Scan til we hit the format character
		padLen = 0
		blockEnd++
	parseFmt:
		for ; blockEnd < fmtLen; blockEnd++ {
			nextCh = format[blockEnd]
			switch {
			case nextCh == '%':
				p.writeByte('%')
				break parseFmt
			case nextCh >= '0' && nextCh <= '9':
				padLen = (padLen * 10) + int(nextCh-'0')
				continue
			case nextCh == 'd' || nextCh == 'x' || nextCh == 'o' || nextCh == 's' || nextCh == 't' || nextCh == 'c':
				// Run out of args to print
				if nextArgIndex >= len(args) {
					p.write(errMissingArg)
					break parseFmt
				}

				switch nextCh {
				case 'o':
					p.fmtInt(args[nextArgIndex], 8, padLen)
				case 'd':
					p.fmtInt(args[nextArgIndex], 10, padLen)
				case 'x':
					p.fmtInt(args[nextArgIndex], 16, padLen)
				case 's':
					p.fmtString(args[nextArgIndex], padLen)
				case 't':
					p.fmtBool(args[nextArgIndex])
				case 'c':
					p.fmtChar(args[nextArgIndex])
				}

				nextArgIndex++
				break parseFmt
			}

			// reached end of formatting string without finding a verb
			p.write(errNoVerb)
		}
		blockStart, blockEnd = blockEnd+1, blockEnd+1
	}

	if blockStart < fmtLen {
		p.writeString(format[blockStart:])
	}

	// Check for unused args
	for ; nextArgIndex < len(args); nextArgIndex++ {
		p.write(errExtraArg)
	}
}

// writeString emits s one byte at a time; converting s to a byte slice would
// trigger a memory allocation.
func (p *printer) writeString(s string) {
	for i := 0; i < len(s); i++ {
		p.writeByte(s[i])
	}
}

func (p *printer) writeByte(b byte) {
	p.single[0] = b
	p.write(p.single[:])
}

// fmtBool prints a formatted version of boolean value v.
func (p *printer) fmtBool(v interface{}) {
	bVal, ok := v.(bool)
	switch {
	case !ok:
		p.write(errWrongArgType)
	case bVal:
		p.write(trueValue)
	default:
		p.write(falseValue)
	}
}

// fmtChar prints a single byte or ASCII rune.
func (p *printer) fmtChar(v interface{}) {
	switch ch := v.(type) {
	case byte:
		p.writeByte(ch)
	case rune:
		p.writeByte(byte(ch))
	default:
		p.write(errWrongArgType)
	}
}

// fmtString prints a formatted version of string or []byte value v, applying
// the padding specified by padLen.
func (p *printer) fmtString(v interface{}, padLen int) {
	switch castedVal := v.(type) {
	case string:
		p.fmtRepeat(' ', padLen-len(castedVal))
		p.writeString(castedVal)
	case []byte:
		p.fmtRepeat(' ', padLen-len(castedVal))
		p.write(castedVal)
	default:
		p.write(errWrongArgType)
	}
}

// fmtRepeat writes count bytes with value ch.
func (p *printer) fmtRepeat(ch byte, count int) {
	for i := 0; i < count; i++ {
		p.writeByte(ch)
	}
}

// fmtInt prints out a formatted version of v in the requested base, applying
// the padding specified by padLen. This function supports all built-in signed
// and unsigned integer types and base 8, 10 and 16 output.
func (p *printer) fmtInt(v interface{}, base, padLen int) {
	var (
		sval             int64
		uval             uint64
		divider          = uint64(base)
		remainder        uint64
		padCh            byte = '0'
		left, right, end int
		buf              = p.numBuf[:]
	)

	if padLen >= maxBufSize {
		padLen = maxBufSize - 1
	}

	if base == 10 {
		padCh = ' '
	}

	switch t := v.(type) {
	case uint8:
		uval = uint64(t)
	case uint16:
		uval = uint64(t)
	case uint32:
		uval = uint64(t)
	case uint64:
		uval = t
	case uint:
		uval = uint64(t)
	case uintptr:
		uval = uint64(t)
	case int8:
		sval = int64(t)
	case int16:
		sval = int64(t)
	case int32:
		sval = int64(t)
	case int64:
		sval = t
	case int:
		sval = int64(t)
	default:
		p.write(errWrongArgType)
		return
	}

	// Handle signs
	if sval < 0 {
		uval = uint64(-sval)
	} else if sval > 0 {
		uval = uint64(sval)
	}

	for right < maxBufSize {
		remainder = uval % divider
		if remainder < 10 {
			buf[right] = byte(remainder) + '0'
		} else {
			// map values from 10 to 15 -> a-f
			buf[right] = byte(remainder-10) + 'a'
		}

		right++

		uval /= divider
		if uval == 0 {
			break
		}
	}

	// Apply padding if required
	for ; right-left < padLen; right++ {
		buf[right] = padCh
	}

	// Apply negative sign to the rightmost blank character (if using enough padding);
	// otherwise append the sign as a new char
	if sval < 0 {
		for end = right - 1; buf[end] == ' '; end-- {
		}

		if end == right-1 {
			right++
		}

		buf[end+1] = '-'
	}

	// Reverse in place
	end = right
	for right = right - 1; left < right; left, right = left+1, right-1 {
		buf[left], buf[right] = buf[right], buf[left]
	}

	p.write(buf[0:end])
}

// write is a proxy that uses the runtime.noescape hack to hide b from the
// compiler's escape analysis. Without this hack, the compiler cannot properly
// detect that b does not escape (due to the call to the yet unknown sink
// io.Writer) and plays it safe by moving the printer to the heap.
func (p *printer) write(b []byte) {
	doRealWrite(p.w, noEscape(unsafe.Pointer(&b)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	b := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(b)
	} else {
		earlyPrintBuffer.Write(b)
	}
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
