// Package sync provides the spinlock implementations used by the kernel.
package sync

import "sync/atomic"

var (
	// yieldFn is invoked while spinning. The kernel runs on a single core
	// with no preemption so there is nothing to yield to; tests replace it
	// with runtime.Gosched.
	yieldFn func()
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		// Spin on a plain load so the cache line is not hammered with
		// locked writes while the lock is held.
		for atomic.LoadUint32(&l.state) != 0 {
			if yieldFn != nil {
				yieldFn()
			}
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
