package trap

import (
	"fmt"

	"github.com/BrokenPorkMachine/NOS-sub000/internal/klog"
	"github.com/BrokenPorkMachine/NOS-sub000/internal/vm"
)

// PageFaultError bits, per the x86-64 architecture manual's #PF error
// code layout, decoded by HandlePageFault for logging.
const (
	errPresent = 1 << 0
	errWrite   = 1 << 1
	errUser    = 1 << 2
	errReserved = 1 << 3
	errExec    = 1 << 4
)

// SymbolResolver looks up the module and offset owning an instruction
// pointer, when a symbol table has been installed. internal/kernel wires
// this once the loader's symbol table is available; until then,
// HandlePageFault logs without module attribution.
type SymbolResolver interface {
	Resolve(rip uint64) (module string, offset uint64, ok bool)
}

// Frame carries everything a #PF handler reads off the trap frame before
// dispatching into internal/vm.COW.
type Frame struct {
	ErrCode uint64
	CR2     uint64
	RIP     uint64
}

func decodeFaultFlags(errCode uint64) string {
	return fmt.Sprintf("present=%v write=%v user=%v reserved=%v exec=%v",
		errCode&errPresent != 0,
		errCode&errWrite != 0,
		errCode&errUser != 0,
		errCode&errReserved != 0,
		errCode&errExec != 0,
	)
}

// HandlePageFault implements spec.md §4.H's #PF handler: log the error
// code, CR2, RIP, decoded flags, and (if a symbol table is installed)
// the owning module/offset, then dispatch to cow's fault algorithm.
func HandlePageFault(log *klog.Logger, f Frame, cow *vm.COW, sym SymbolResolver, zeroFn func(phys uint64), copyFn func(dst, src uint64), node int) vm.FaultResult {
	fields := []klog.Field{
		klog.Uint64("err_code", f.ErrCode),
		klog.Uint64("cr2", f.CR2),
		klog.Uint64("rip", f.RIP),
		klog.Str("flags", decodeFaultFlags(f.ErrCode)),
	}
	if sym != nil {
		if mod, off, ok := sym.Resolve(f.RIP); ok {
			fields = append(fields, klog.Str("module", mod), klog.Uint64("offset", off))
		}
	}
	log.Warn("page fault", fields...)

	kind := vm.FaultRead
	if f.ErrCode&errWrite != 0 {
		kind = vm.FaultWrite
	} else if f.ErrCode&errExec != 0 {
		kind = vm.FaultExec
	}

	result := cow.HandleFault(f.CR2, kind, zeroFn, copyFn, node)
	if result == vm.FaultFatal {
		log.Error("fatal page fault", klog.Uint64("cr2", f.CR2))
	}
	return result
}

// NonCanonicalPanic is raised by the kernel's own dereference path (never
// the user #PF handler) when it computes a non-canonical address,
// identifying where and what went wrong instead of silently faulting
// into undefined behavior.
type NonCanonicalPanic struct {
	Addr   uint64
	Source string // "file:line"-shaped caller location
}

func (p *NonCanonicalPanic) Error() string {
	return fmt.Sprintf("trap: non-canonical kernel dereference of 0x%x at %s", p.Addr, p.Source)
}

// CheckCanonical panics with a *NonCanonicalPanic if addr is not
// canonical; kernel code that is about to dereference a computed address
// calls this first.
func CheckCanonical(addr uint64, source string) {
	if !Canonical(addr) {
		panic(&NonCanonicalPanic{Addr: addr, Source: source})
	}
}
