package keyboard

import (
	"pebbleos/kernel"
	"pebbleos/kernel/kfmt"
	"pebbleos/kernel/mm/heap"
	"pebbleos/kernel/task"
	"sync/atomic"
)

var (
	errQueueInitialized = &kernel.Error{Module: "kbd", Message: "scancode queue already initialized"}
	errInvalidCapacity  = &kernel.Error{Module: "kbd", Message: "scancode queue capacity must be positive"}

	queue scancodeQueue
)

// scancodeQueue is a bounded single-producer single-consumer ring. The
// keyboard interrupt handler is the only producer and the task polling the
// ScancodeStream is the only consumer. head and tail are indices into buf;
// one slot is always left unused so that a full queue can be told apart from
// an empty one.
type scancodeQueue struct {
	buf  []byte
	head uint32
	tail uint32

	// ready is set once buf has been allocated.
	ready uint32

	dropped uint64
	waker   task.AtomicWaker
}

// InitScancodeQueue allocates the scancode queue from alloc. The queue can
// only be initialized once.
func InitScancodeQueue(alloc heap.Allocator, capacity int) *kernel.Error {
	if capacity <= 0 {
		return errInvalidCapacity
	}

	if atomic.LoadUint32(&queue.ready) != 0 {
		return errQueueInitialized
	}

	buf, err := heap.AllocBytes(alloc, uintptr(capacity)+1)
	if err != nil {
		return err
	}

	queue.buf = buf
	atomic.StoreUint32(&queue.ready, 1)
	return nil
}

// AddScancode is called by the keyboard interrupt handler. It must not block
// or allocate. If the queue is full the scancode is dropped.
func AddScancode(scancode byte) {
	if atomic.LoadUint32(&queue.ready) == 0 {
		kfmt.Printf("[kbd] WARNING: scancode queue uninitialized\n")
		return
	}

	if !queue.push(scancode) {
		atomic.AddUint64(&queue.dropped, 1)
		kfmt.Printf("[kbd] WARNING: scancode queue full; dropping keyboard input\n")
		return
	}

	queue.waker.Wake()
}

// DroppedScancodes returns the number of scancodes dropped because the
// queue was full.
func DroppedScancodes() uint64 {
	return atomic.LoadUint64(&queue.dropped)
}

func (q *scancodeQueue) push(b byte) bool {
	tail := atomic.LoadUint32(&q.tail)
	next := q.advance(tail)
	if next == atomic.LoadUint32(&q.head) {
		return false
	}

	q.buf[tail] = b
	atomic.StoreUint32(&q.tail, next)
	return true
}

func (q *scancodeQueue) pop() (byte, bool) {
	if atomic.LoadUint32(&q.ready) == 0 {
		return 0, false
	}

	head := atomic.LoadUint32(&q.head)
	if head == atomic.LoadUint32(&q.tail) {
		return 0, false
	}

	b := q.buf[head]
	atomic.StoreUint32(&q.head, q.advance(head))
	return b, true
}

func (q *scancodeQueue) advance(index uint32) uint32 {
	if index++; index == uint32(len(q.buf)) {
		return 0
	}
	return index
}

// ScancodeStream is the consuming end of the scancode queue. Only one task
// may consume scancodes at a time.
type ScancodeStream struct{}

// PollNext returns the next queued scancode. If the queue is empty it
// registers w so that the task gets woken by the next keyboard interrupt and
// returns false.
func (ScancodeStream) PollNext(w task.Waker) (byte, bool) {
	if b, ok := queue.pop(); ok {
		return b, true
	}

	queue.waker.Register(w)

	// A scancode may have arrived between the first pop and Register.
	if b, ok := queue.pop(); ok {
		queue.waker.Take()
		return b, true
	}

	return 0, false
}
