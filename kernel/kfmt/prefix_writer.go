package kfmt

import "io"

// PrefixWriter is an io.Writer that wraps another io.Writer and injects a
// prefix at the beginning of each line. Drivers log through a PrefixWriter
// so their output is tagged with the driver name.
type PrefixWriter struct {
	// A writer where all writes get sent to. If nil, output goes to the
	// early print buffer.
	Sink io.Writer

	// The prefix injected at the beginning of each line.
	Prefix []byte

	midLine bool
}

// Write writes len(p) bytes from p to the underlying data stream. The
// injected prefix is not included in the number of written bytes returned
// by this method.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var (
		written, lineStart int
		sink               = w.Sink
	)

	if sink == nil {
		sink = &earlyPrintBuffer
	}

	for lineStart < len(p) {
		if !w.midLine {
			if _, err := sink.Write(w.Prefix); err != nil {
				return written, err
			}
			w.midLine = true
		}

		lineEnd := lineStart
		for lineEnd < len(p) && p[lineEnd] != '\n' {
			lineEnd++
		}
		if lineEnd < len(p) {
			// include the line feed and start a fresh line
			lineEnd++
			w.midLine = false
		}

		n, err := sink.Write(p[lineStart:lineEnd])
		written += n
		if err != nil {
			return written, err
		}
		lineStart = lineEnd
	}

	return written, nil
}
