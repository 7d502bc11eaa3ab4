// Package kernel implements the init orchestration of spec.md §4.I: the
// fixed sequence of subsystem bring-up steps a freshly entered kernel_entry
// runs through before it ever reaches the scheduler, wiring together every
// other internal package the way mazboot's main/kernel.go wires GPIO, UART,
// and the mailbox before printing its first banner line.
package kernel

import (
	"context"
	"fmt"
	"io"

	"github.com/BrokenPorkMachine/NOS-sub000/internal/arch/x86_64"
	"github.com/BrokenPorkMachine/NOS-sub000/internal/bootinfo"
	"github.com/BrokenPorkMachine/NOS-sub000/internal/heap"
	"github.com/BrokenPorkMachine/NOS-sub000/internal/ipc"
	"github.com/BrokenPorkMachine/NOS-sub000/internal/kcmdline"
	"github.com/BrokenPorkMachine/NOS-sub000/internal/klog"
	"github.com/BrokenPorkMachine/NOS-sub000/internal/pmm"
	"github.com/BrokenPorkMachine/NOS-sub000/internal/sched"
	"github.com/BrokenPorkMachine/NOS-sub000/internal/vm"
)

// Named built-in IPC queues every init thread expects to find already
// granted by the time user code runs, supplementing spec.md §4.G with the
// concrete registry original_source/ipc/queues.c enumerates by name rather
// than leaving every queue anonymous.
const (
	QueueRegistry = "registry"
	QueueFS       = "fs"
	QueueLogin    = "login"
	QueueShell    = "shell"
)

// Reserved task ids for the built-in queues' owning agents, and for the
// spawning thread itself. original_source/Kernel/kernel.c assigns these
// agents fixed task ids before spawning them; TaskInit's SEND capability
// on every built-in queue is what lets the init thread hand the first
// message to each agent once it starts.
const (
	TaskInit     = 0
	TaskRegistry = 1
	TaskFS       = 2
	TaskLogin    = 3
	TaskShell    = 4
)

const (
	ipcQueueCapacity = 64
	ipcMaxTasks      = 64
	defaultTSSLimit  = 0x67 // sizeof(TSS)-1, no I/O bitmap
)

// Ports collects every collaborator spec.md marks out of the host-testable
// core's scope: raw hardware access, CPUID, and a timer driver. Production
// wiring in cmd/kernel supplies real implementations; tests supply fakes.
type Ports struct {
	Console     io.Writer
	CPUID       x8664.CPUIDFn
	Timer       x8664.TimerPort
	ZeroFrame   func(phys uint64)
	CopyFrame   func(dst, src uint64)
	Symbols     trapSymbolResolver
	TSSBase     uint64
	HandlerStub uint64
	PageFaultISR uint64
	TimerISR     uint64
	SpuriousISR  uint64
	SyscallISR   uint64
}

// trapSymbolResolver has the same method set as internal/trap.SymbolResolver,
// so Ports.Symbols is handed to trap.HandlePageFault unchanged.
type trapSymbolResolver = interface {
	Resolve(rip uint64) (module string, offset uint64, ok bool)
}

// Kernel holds every subsystem installed by Boot, the live object
// internal/sched's scheduler loop and internal/trap's fault handler
// operate on once init finishes.
type Kernel struct {
	Log       *klog.Logger
	Boot      *bootinfo.BootInfo
	Cmdline   kcmdline.Options
	PMM       *pmm.PMM
	VM        *vm.Manager
	Frames    *vm.FrameTable
	COW       *vm.COW
	NitroHeap *heap.NitroHeap
	LegacyHeap *heap.LegacyHeap
	GDT       x8664.GDT
	IDT       x8664.IDT
	Schedulers []*sched.Scheduler
	Queues    map[string]*ipc.Queue

	ports Ports
}

// Boot runs spec.md §4.I's init sequence over raw and ports, returning a
// fully wired Kernel positioned at the point schedule() is about to be
// entered for the first time on CPU 0. Each numbered step below matches
// the spec's init_orchestration step list.
func Boot(raw bootinfo.Raw, ports Ports) (*Kernel, error) {
	k := &Kernel{Queues: make(map[string]*ipc.Queue), ports: ports}

	// Step 1: console up first so every later step can log.
	if ports.Console == nil {
		return nil, fmt.Errorf("kernel: Ports.Console is required")
	}
	k.Log = klog.New(ports.Console, klog.LevelDebug, nil)
	k.Log.Info("console online")

	// bootinfo_init / validate: wire CPUID-based topology detection before
	// Validate ever needs the fallback.
	bootinfo.SetCPUIDTopologyFunc(func() int {
		return x8664.DetectCPUCount(ports.CPUID)
	})
	info, err := bootinfo.Validate(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("kernel: bootinfo: %w", err)
	}
	k.Boot = info
	k.Log.Info("bootinfo validated",
		klog.Uint64("cpus", uint64(len(info.CPUs()))),
		klog.Uint64("mmap_entries", uint64(len(info.Mmap()))))

	// Step 2: GDT/IDT install. TSS base/handler addresses are supplied by
	// the caller (cmd/kernel), since they live in statically allocated
	// kernel memory this package has no opinion about.
	k.GDT = x8664.BuildGDT(ports.TSSBase, defaultTSSLimit)
	k.IDT = x8664.BuildIDT(x8664.HandlerTable{
		Stub:      ports.HandlerStub,
		PageFault: ports.PageFaultISR,
		Timer:     ports.TimerISR,
		Spurious:  ports.SpuriousISR,
		Syscall:   ports.SyscallISR,
	})
	k.Log.Info("gdt/idt built")

	// Step 3: numa_init / buddy_init.
	nodes := info.NUMANodes()
	if len(nodes) == 0 {
		return nil, fmt.Errorf("kernel: no usable memory reported by bootinfo")
	}
	pmmNodes := make([]pmm.Node, len(nodes))
	for i, n := range nodes {
		pmmNodes[i] = pmm.Node{Base: n.Base, Length: n.Length}
	}
	p, err := pmm.NewPMM(pmmNodes)
	if err != nil {
		return nil, fmt.Errorf("kernel: pmm init: %w", err)
	}
	k.PMM = p
	k.Log.Info("buddy allocator online",
		klog.Uint64("nodes", uint64(p.NumNodes())),
		klog.Uint64("free_frames", uint64(p.FreeFramesTotal())))

	// Step 4: heap=parse / kheap_init. heap=legacy gets the page-granular
	// wrapper instead, per spec.md §8 scenario S6; every other command line
	// gets NitroHeap.
	k.Cmdline = kcmdline.Parse(info.Cmdline())
	src := newBuddyPageSource(p, 0)
	ncpu := len(info.CPUs())
	if ncpu < 1 {
		ncpu = 1
	}
	switch k.Cmdline.Heap {
	case kcmdline.HeapLegacy:
		k.LegacyHeap = heap.NewLegacyHeap(src)
		k.Log.Info("legacy heap selected", klog.Str("reason", "heap=legacy"))
	default:
		k.NitroHeap = heap.NewNitroHeap(src, ncpu)
		k.Log.Info("nitro heap online", klog.Uint64("cpus", uint64(ncpu)))
	}
	if len(k.Cmdline.Unknown) > 0 {
		k.Log.Debug("cmdline tokens passed through", klog.Str("tokens", fmt.Sprint(k.Cmdline.Unknown)))
	}

	// Step 5: paging_init. Build the kernel address space and identity-map
	// every usable range bootinfo reported (reserved and other non-usable
	// ranges are not mapped), so early kernel code can dereference physical
	// addresses directly until higher-half remapping (out of this core's
	// scope).
	mgr, err := vm.NewManager(p, 0)
	if err != nil {
		return nil, fmt.Errorf("kernel: vm manager init: %w", err)
	}
	k.VM = mgr
	if err := identityMapUsableRanges(mgr, info, 0); err != nil {
		return nil, fmt.Errorf("kernel: identity map: %w", err)
	}
	k.Log.Info("paging online")

	// Step 6: cow_init(total_frames).
	totalFrames := int(p.FreeFramesTotal())
	if totalFrames <= 0 {
		totalFrames = 1
	}
	lowestBase := nodes[0].Base
	for _, n := range nodes[1:] {
		if n.Base < lowestBase {
			lowestBase = n.Base
		}
	}
	k.Frames = vm.NewFrameTable(lowestBase, totalFrames)
	k.COW = vm.NewCOW(mgr, p, k.Frames)
	k.Log.Info("cow frame table online", klog.Uint64("frames", uint64(totalFrames)))

	// Step 7: PIC remap / PIT to 100 Hz / LAPIC calibration. The PIC/PIT
	// I/O itself is a Ports-level concern (out of core scope per spec.md
	// §1); this step only runs the calibration retry loop when a timer
	// port was supplied, and computes the 100 Hz PIT divisor regardless.
	pitDivisor := x8664.PITFrequencyDivisor(100)
	k.Log.Info("pit divisor computed", klog.Uint64("divisor", uint64(pitDivisor)))
	if ports.Timer != nil {
		ratio, err := x8664.CalibrateLAPIC(context.Background(), ports.Timer, 100_000_000)
		if err != nil {
			k.Log.Warn("lapic calibration failed, falling back to PIT-only timing",
				klog.Str("err", err.Error()))
		} else {
			k.Log.Info("lapic calibrated", klog.Str("ticks_per_ns", fmt.Sprintf("%.5f", ratio)))
		}
	}

	// Step 8: threads_early_init. Install the currently executing context
	// as thread 0 on CPU 0's scheduler, per spec.md §4.I: it never exits
	// and becomes the idle/init thread once real work is scheduled.
	k.Schedulers = make([]*sched.Scheduler, ncpu)
	for cpu := range k.Schedulers {
		k.Schedulers[cpu] = sched.NewScheduler(cpu, 256)
	}
	if _, err := k.Schedulers[0].Bootstrap(func() {}); err != nil {
		return nil, fmt.Errorf("kernel: threads_early_init: %w", err)
	}
	k.Log.Info("thread 0 bootstrapped")

	// Step 9: threads_init. Stand up the built-in IPC queues every
	// registry/fs/login/shell thread expects by name, grant TaskInit (the
	// spawning thread) SEND and the queue's owning agent RECV, matching
	// original_source/Kernel/kernel.c's boot-time grant before each agent
	// is spawned. Boot spawns no agent threads itself; it returns a kernel
	// whose scheduler is ready to run.
	builtinQueues := []struct {
		name  string
		owner int
	}{
		{QueueRegistry, TaskRegistry},
		{QueueFS, TaskFS},
		{QueueLogin, TaskLogin},
		{QueueShell, TaskShell},
	}
	for _, q := range builtinQueues {
		queue := ipc.NewQueue(ipcQueueCapacity, ipcMaxTasks, func() { k.Schedulers[0].Yield() })
		if err := queue.Grant(TaskInit, ipc.CapSend); err != nil {
			return nil, fmt.Errorf("kernel: granting SEND on %q to init: %w", q.name, err)
		}
		if err := queue.Grant(q.owner, ipc.CapRecv); err != nil {
			return nil, fmt.Errorf("kernel: granting RECV on %q to task %d: %w", q.name, q.owner, err)
		}
		k.Queues[q.name] = queue
	}
	k.Log.Info("built-in ipc queues online", klog.Uint64("count", uint64(len(k.Queues))))

	// Step 10: sti / enter scheduler is the caller's responsibility (it
	// requires a real interrupt-enable instruction this package cannot
	// issue); Boot returns with everything positioned for that final step.
	k.Log.Info("init complete, ready to enter scheduler")
	return k, nil
}

// identityMapUsableRanges maps every MemUsable bootinfo range 1:1 using
// 2 MiB huge pages where a range is large and aligned enough, falling back
// to 4 KiB pages at the edges, per spec.md §4.I step 5 and §4.C's note that
// huge pages are an optimization, not a requirement.
func identityMapUsableRanges(mgr *vm.Manager, info *bootinfo.BootInfo, node int) error {
	const hugeSize = vm.HugePageSize
	for _, e := range info.Mmap() {
		if e.Type != bootinfo.MemUsable {
			continue
		}
		addr := e.Addr &^ (vm.PageSize - 1)
		end := e.Addr + e.Len
		for addr < end {
			if addr%hugeSize == 0 && addr+hugeSize <= end {
				if err := mgr.Map(addr, addr, vm.Present|vm.Writable|vm.Huge, 9, node); err != nil {
					return err
				}
				addr += hugeSize
				continue
			}
			if err := mgr.Map(addr, addr, vm.Present|vm.Writable, 0, node); err != nil {
				return err
			}
			addr += vm.PageSize
		}
	}
	return nil
}
