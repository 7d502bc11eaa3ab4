// Command kernel is the freestanding entry point linked into the final
// boot image. It exists to satisfy `go build` for a package whose actual
// execution never happens under a hosted OS: kernel_entry is invoked by
// the bootloader directly, before Go's normal runtime bring-up would make
// sense, so this main function only documents the wiring a real assembly
// trampoline performs before jumping into internal/kernel.Boot.
package main

import (
	"os"

	"github.com/BrokenPorkMachine/NOS-sub000/internal/arch/x86_64"
	"github.com/BrokenPorkMachine/NOS-sub000/internal/bootinfo"
	"github.com/BrokenPorkMachine/NOS-sub000/internal/kernel"
)

// These are filled in by the linker/assembly trampoline with the
// addresses of the ISR stubs BuildIDT wires into the table and of the
// TSS BuildGDT describes; zero values here only let this package build
// standalone.
var (
	handlerStub  uint64
	pageFaultISR uint64
	timerISR     uint64
	spuriousISR  uint64
	syscallISR   uint64
	tssBase      uint64
)

// cpuidAsm executes the CPUID instruction; the assembly trampoline
// installs the real //go:linkname'd primitive before calling main.
var cpuidAsm x8664.CPUIDFn

// decodeBootInfo reads the firmware's BootInfo structure out of the
// pointer the trampoline received from kernel_entry's argument register.
// The trampoline replaces this with the real decode before control
// reaches main; it stays nil here only so this package builds standalone.
var decodeBootInfo func() bootinfo.Raw

func main() {
	ports := kernel.Ports{
		Console:      os.Stdout,
		CPUID:        cpuidAsm,
		TSSBase:      tssBase,
		HandlerStub:  handlerStub,
		PageFaultISR: pageFaultISR,
		TimerISR:     timerISR,
		SpuriousISR:  spuriousISR,
		SyscallISR:   syscallISR,
	}

	var raw bootinfo.Raw
	if decodeBootInfo != nil {
		raw = decodeBootInfo()
	}

	k, err := kernel.Boot(raw, ports)
	if err != nil {
		panic(err)
	}

	for {
		if t := k.Schedulers[0].Schedule(); t == nil {
			break
		}
	}
}
