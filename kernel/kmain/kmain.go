// Package kmain contains the kernel entrypoint.
package kmain

import (
	"pebbleos/bootinfo"
	"pebbleos/device/keyboard"
	"pebbleos/kernel"
	"pebbleos/kernel/gate"
	"pebbleos/kernel/hal"
	"pebbleos/kernel/irq"
	"pebbleos/kernel/kconf"
	"pebbleos/kernel/kfmt"
	"pebbleos/kernel/mm/heap"
	"pebbleos/kernel/mm/pmm"
	"pebbleos/kernel/mm/vmm"
	"pebbleos/kernel/task"

	// drivers register themselves with the device package.
	_ "pebbleos/device/serial"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	kernelHeap heap.Heap
	frameAlloc *pmm.BootMemAllocator
	executor   task.Executor
	keyEcho    keyboard.EchoTask

	// the following functions are mocked by tests.
	setInfoPtrFn        = bootinfo.SetInfoPtr
	loadConfigFn        = kconf.Load
	initGatesFn         = gate.Init
	initVMMFn           = vmm.Init
	initHeapFn          = heap.Init
	initIRQFn           = irq.Init
	initScancodeQueueFn = keyboard.InitScancodeQueue
	detectHardwareFn    = hal.DetectHardware
	runExecutorFn       = (*task.Executor).Run
	panicFn             = kfmt.Panic
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. It is invoked with the address of the boot info block
// once the bootloader has switched to long mode, identity-mapped the kernel
// image and mapped all of physical memory at the offset recorded in the boot
// info block.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(bootInfoPtr uintptr) {
	if err := boot(bootInfoPtr); err != nil {
		panicFn(err)
		return
	}

	runExecutorFn(&executor)

	// Use panicFn instead of panic to prevent the compiler from treating
	// kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

// boot initializes the kernel subsystems and spawns the initial tasks.
func boot(bootInfoPtr uintptr) *kernel.Error {
	if err := setInfoPtrFn(bootInfoPtr); err != nil {
		return err
	}

	cfg := loadConfigFn()
	kfmt.Printf("[kmain] starting pebbleos\n")

	kernelStart, kernelEnd := bootinfo.KernelImage()
	frameAlloc = pmm.Init(bootinfo.MemoryRegions(), kernelStart, kernelEnd)

	initGatesFn()
	mapper, err := initVMMFn(bootinfo.PhysicalMemoryOffset())
	if err != nil {
		return err
	}

	if err = initHeapFn(&kernelHeap, mapper, frameAlloc, cfg.HeapStart, uintptr(cfg.HeapSize)); err != nil {
		return err
	}

	if err = initIRQFn(irq.Config{TimerHz: cfg.TimerHz}); err != nil {
		return err
	}

	if err = initScancodeQueueFn(&kernelHeap, cfg.ScancodeQueueSize); err != nil {
		return err
	}

	detectHardwareFn()

	if err = executor.Init(&kernelHeap); err != nil {
		return err
	}

	if _, err = executor.Spawn("boot-report", task.FuncFuture(reportBoot)); err != nil {
		return err
	}

	if cfg.KeyEcho {
		if _, err = executor.Spawn("key-echo", &keyEcho); err != nil {
			return err
		}
	}

	return nil
}

// reportBoot is a one-shot task that prints the memory usage once the
// executor starts running.
func reportBoot(_ task.Waker) task.Status {
	kfmt.Printf("[kmain] boot complete: heap %d/%d bytes in use, %d frames allocated\n",
		uint64(kernelHeap.Used()), uint64(kernelHeap.Size()), frameAlloc.AllocCount())
	return task.Ready
}
