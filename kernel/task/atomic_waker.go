package task

import "pebbleos/kernel/sync"

// AtomicWaker holds at most one Waker. It synchronizes a consumer task that
// registers its waker with a producer, usually an interrupt handler, that
// wakes whoever is registered.
type AtomicWaker struct {
	mutex sync.IRQSpinlock
	waker Waker
	set   bool
}

// Register stores w, replacing any previously registered waker.
func (a *AtomicWaker) Register(w Waker) {
	a.mutex.Acquire()
	a.waker, a.set = w, true
	a.mutex.Release()
}

// Take removes and returns the registered waker.
func (a *AtomicWaker) Take() (Waker, bool) {
	a.mutex.Acquire()
	w, ok := a.waker, a.set
	a.waker, a.set = Waker{}, false
	a.mutex.Release()

	return w, ok
}

// Wake takes the registered waker, if any, and wakes it.
func (a *AtomicWaker) Wake() {
	if w, ok := a.Take(); ok {
		w.Wake()
	}
}
