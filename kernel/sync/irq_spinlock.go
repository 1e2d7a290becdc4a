package sync

import (
	"pebbleos/kernel/cpu"
	"sync/atomic"
)

var (
	// The following functions are replaced when running in user-mode where
	// the interrupt flag cannot be modified. See EmulateInterruptFlag.
	interruptsEnabledFn = cpu.InterruptsEnabled
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
)

// IRQSpinlock is a spinlock that can be shared between interrupt handlers and
// regular kernel code. Acquire disables interrupts before spinning so an
// interrupt handler can never preempt the holder and then spin forever on
// the same lock. Release restores the interrupt flag that was active when the
// lock was acquired, which makes nested use from interrupt context (where
// interrupts are already off) safe.
//
// Critical sections guarded by an IRQSpinlock must be short as they delay
// interrupt delivery.
type IRQSpinlock struct {
	lock Spinlock

	// restoreIF is written only while the lock is held.
	restoreIF bool
}

// Acquire disables interrupts and acquires the lock.
func (l *IRQSpinlock) Acquire() {
	wasEnabled := interruptsEnabledFn()
	if wasEnabled {
		disableInterruptsFn()
	}

	l.lock.Acquire()
	l.restoreIF = wasEnabled
}

// Release releases the lock and re-enables interrupts if they were enabled
// when Acquire was called.
func (l *IRQSpinlock) Release() {
	restore := l.restoreIF
	l.restoreIF = false
	l.lock.Release()

	if restore {
		enableInterruptsFn()
	}
}

// WithoutInterrupts runs fn with interrupts disabled and restores the previous
// interrupt flag afterwards.
func WithoutInterrupts(fn func()) {
	wasEnabled := interruptsEnabledFn()
	if wasEnabled {
		disableInterruptsFn()
	}

	fn()

	if wasEnabled {
		enableInterruptsFn()
	}
}

// emulatedIF models the interrupt flag while EmulateInterruptFlag is active.
var emulatedIF uint32

// EmulateInterruptFlag replaces the privileged interrupt flag operations used
// by this package with an in-memory flag so that packages relying on
// IRQSpinlock can be exercised by user-mode tests. The flag starts out set.
// The returned function restores the real implementation.
func EmulateInterruptFlag() (restore func()) {
	atomic.StoreUint32(&emulatedIF, 1)
	interruptsEnabledFn = func() bool { return atomic.LoadUint32(&emulatedIF) == 1 }
	disableInterruptsFn = func() { atomic.StoreUint32(&emulatedIF, 0) }
	enableInterruptsFn = func() { atomic.StoreUint32(&emulatedIF, 1) }

	return func() {
		interruptsEnabledFn = cpu.InterruptsEnabled
		disableInterruptsFn = cpu.DisableInterrupts
		enableInterruptsFn = cpu.EnableInterrupts
	}
}

// InterruptsEnabled reports the current state of the interrupt flag (or the
// emulated flag under EmulateInterruptFlag).
func InterruptsEnabled() bool {
	return interruptsEnabledFn()
}

// DisableInterrupts clears the interrupt flag.
func DisableInterrupts() {
	disableInterruptsFn()
}

// EnableInterrupts sets the interrupt flag.
func EnableInterrupts() {
	enableInterruptsFn()
}
