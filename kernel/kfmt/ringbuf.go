package kfmt

import "io"

// earlyBufferSize defines the size of the ring buffer that captures Printf
// output emitted before the serial port is probed. It must always be a power
// of 2.
const earlyBufferSize = 4096

// ringBuffer keeps the most recent earlyBufferSize bytes written to it. When
// the buffer is full, new writes overwrite the oldest bytes.
type ringBuffer struct {
	buffer [earlyBufferSize]byte

	// start is the index of the oldest unread byte and count the number of
	// unread bytes.
	start, count int
}

// Write writes len(p) bytes from p to the ringBuffer. It never fails.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[(rb.start+rb.count)&(earlyBufferSize-1)] = b
		if rb.count == earlyBufferSize {
			rb.start = (rb.start + 1) & (earlyBufferSize - 1)
			continue
		}
		rb.count++
	}

	return len(p), nil
}

// Read reads up to len(p) bytes into p. It returns io.EOF once all buffered
// bytes have been consumed.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.count == 0 {
		return 0, io.EOF
	}

	// Only copy the contiguous run up to the end of the backing array; the
	// caller will pick up the wrapped part with the next Read.
	n := earlyBufferSize - rb.start
	if n > rb.count {
		n = rb.count
	}
	if n > len(p) {
		n = len(p)
	}

	copy(p, rb.buffer[rb.start:rb.start+n])
	rb.start = (rb.start + n) & (earlyBufferSize - 1)
	rb.count -= n

	return n, nil
}

// Len returns the number of unread bytes.
func (rb *ringBuffer) Len() int {
	return rb.count
}
