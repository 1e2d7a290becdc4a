package task

import (
	"pebbleos/kernel"
	"pebbleos/kernel/cpu"
	"pebbleos/kernel/kfmt"
	"pebbleos/kernel/mm/heap"
	"pebbleos/kernel/sync"
	"unsafe"
)

// MaxTasks is the maximum number of tasks that can be alive at the same
// time.
const MaxTasks = 64

var (
	// the following functions are mocked by tests.
	haltFn              = cpu.EnableInterruptsAndHalt
	disableInterruptsFn = sync.DisableInterrupts
	enableInterruptsFn  = sync.EnableInterrupts

	errTooManyTasks   = &kernel.Error{Module: "task", Message: "too many tasks"}
	errNotInitialized = &kernel.Error{Module: "task", Message: "executor has not been initialized"}
)

type taskSlot struct {
	id     TaskID
	name   string
	future Future

	// queued is set while the slot index is in the ready queue.
	queued bool

	// done is set for completed tasks that are still referenced by the
	// ready queue. The slot is released once the queue entry is consumed.
	done bool
}

// Executor polls the tasks in its ready queue. The ready queue holds the
// slot index of every task that needs polling; a task is never queued more
// than once and a slot is never reused while it is still queued, so the
// queue cannot hold more than MaxTasks entries.
type Executor struct {
	mutex sync.IRQSpinlock

	slots     [MaxTasks]taskSlot
	taskCount int
	lastID    TaskID

	ready      []uint32
	readyHead  int
	readyCount int
}

// Init allocates the ready queue from alloc.
func (e *Executor) Init(alloc heap.Allocator) *kernel.Error {
	entrySize := unsafe.Sizeof(uint32(0))
	addr, err := alloc.Alloc(MaxTasks*entrySize, entrySize)
	if err != nil {
		return err
	}

	e.ready = unsafe.Slice((*uint32)(unsafe.Pointer(addr)), MaxTasks)
	e.readyHead, e.readyCount = 0, 0
	return nil
}

// Spawn adds a task to the executor and queues it for its first poll.
func (e *Executor) Spawn(name string, f Future) (TaskID, *kernel.Error) {
	if e.ready == nil {
		return 0, errNotInitialized
	}

	e.mutex.Acquire()

	slot := -1
	for i := range e.slots {
		if e.slots[i].id == 0 {
			slot = i
			break
		}
	}

	if slot == -1 {
		e.mutex.Release()
		return 0, errTooManyTasks
	}

	e.lastID++
	e.slots[slot] = taskSlot{id: e.lastID, name: name, future: f, queued: true}
	e.push(uint32(slot))
	e.taskCount++
	id := e.lastID

	e.mutex.Release()

	kfmt.Printf("[task] spawned %s (id %d)\n", name, uint64(id))
	return id, nil
}

// TaskCount returns the number of tasks that have not completed yet.
func (e *Executor) TaskCount() int {
	e.mutex.Acquire()
	defer e.mutex.Release()
	return e.taskCount
}

// RunReady polls queued tasks until the ready queue is empty. Tasks woken
// while RunReady runs are polled before it returns.
func (e *Executor) RunReady() {
	for {
		e.mutex.Acquire()
		slotIndex, ok := e.pop()
		if !ok {
			e.mutex.Release()
			return
		}

		slot := &e.slots[slotIndex]
		slot.queued = false
		if slot.done {
			*slot = taskSlot{}
			e.mutex.Release()
			continue
		}

		future, waker := slot.future, Waker{exec: e, slot: slotIndex, id: slot.id}
		e.mutex.Release()

		if future.Poll(waker) != Ready {
			continue
		}

		e.mutex.Acquire()
		name := slot.name
		if slot.queued {
			slot.done, slot.future = true, nil
		} else {
			*slot = taskSlot{}
		}
		e.taskCount--
		e.mutex.Release()

		kfmt.Printf("[task] %s (id %d) completed\n", name, uint64(waker.id))
	}
}

// Run polls tasks forever. When no task is ready the CPU is halted until the
// next interrupt. Run never returns.
func (e *Executor) Run() {
	for {
		e.RunReady()
		e.sleepIfIdle()
	}
}

// sleepIfIdle halts the CPU if the ready queue is empty. Interrupts are
// disabled while checking the queue so that a wake-up raised by an interrupt
// handler between the check and the halt cannot be lost; haltFn enables
// interrupts and halts as a single step.
func (e *Executor) sleepIfIdle() {
	disableInterruptsFn()

	e.mutex.Acquire()
	idle := e.readyCount == 0
	e.mutex.Release()

	if idle {
		haltFn()
		return
	}
	enableInterruptsFn()
}

func (e *Executor) wake(slotIndex uint32, id TaskID) {
	if slotIndex >= MaxTasks {
		return
	}

	e.mutex.Acquire()
	slot := &e.slots[slotIndex]
	if slot.id == id && !slot.done && !slot.queued {
		slot.queued = true
		e.push(slotIndex)
	}
	e.mutex.Release()
}

// push appends a slot index to the ready queue. It must be called with the
// mutex held.
func (e *Executor) push(slotIndex uint32) {
	e.ready[(e.readyHead+e.readyCount)%MaxTasks] = slotIndex
	e.readyCount++
}

// pop removes the oldest slot index from the ready queue. It must be called
// with the mutex held.
func (e *Executor) pop() (uint32, bool) {
	if e.readyCount == 0 {
		return 0, false
	}

	slotIndex := e.ready[e.readyHead]
	e.readyHead = (e.readyHead + 1) % MaxTasks
	e.readyCount--
	return slotIndex, true
}
