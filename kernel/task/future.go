// Package task implements cooperative multitasking. Tasks are futures that
// are polled by an Executor; a task that cannot make progress registers the
// Waker it was polled with and returns Pending. Waking the task from another
// task or from an interrupt handler puts it back in the ready queue.
package task

// Status is the result of polling a Future.
type Status uint8

const (
	// Pending indicates that the future cannot make progress until it is
	// woken up.
	Pending Status = iota

	// Ready indicates that the future has completed.
	Ready
)

// Future is implemented by types that can be driven to completion by an
// Executor. Poll must not block. A future that returns Pending must make
// sure that the supplied Waker gets invoked once it is able to make
// progress; otherwise it will never be polled again.
type Future interface {
	Poll(w Waker) Status
}

// FuncFuture adapts a plain function to the Future interface.
type FuncFuture func(w Waker) Status

// Poll implements Future.
func (f FuncFuture) Poll(w Waker) Status { return f(w) }

// TaskID uniquely identifies a task. IDs are never reused.
type TaskID uint64

// Waker re-queues the task it is bound to. Wakers are plain values that can
// be copied and stored; waking a task that has already completed has no
// effect.
type Waker struct {
	exec *Executor
	slot uint32
	id   TaskID
}

// Wake schedules the task for polling. Multiple wakes before the task is
// polled result in a single poll. Wake is safe to call from interrupt
// handlers.
func (w Waker) Wake() {
	if w.exec != nil {
		w.exec.wake(w.slot, w.id)
	}
}

// TaskID returns the id of the task that this waker is bound to or 0 for
// the zero Waker.
func (w Waker) TaskID() TaskID {
	return w.id
}
