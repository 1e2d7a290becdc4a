package keyboard

import (
	"pebbleos/kernel/kfmt"
	"pebbleos/kernel/task"
)

// EchoTask is a task that decodes scancodes from the scancode queue and
// prints the resulting keys. It never completes.
type EchoTask struct {
	stream  ScancodeStream
	decoder Decoder
}

// Poll implements task.Future.
func (t *EchoTask) Poll(w task.Waker) task.Status {
	for {
		scancode, ok := t.stream.PollNext(w)
		if !ok {
			return task.Pending
		}

		key, ok := t.decoder.Decode(scancode)
		if !ok {
			continue
		}

		if key.Char != 0 {
			kfmt.Printf("%c", key.Char)
		} else {
			kfmt.Printf("<%s>", key.Code.String())
		}
	}
}
