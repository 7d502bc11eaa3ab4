package kernel

import (
	"github.com/BrokenPorkMachine/NOS-sub000/internal/trap"
	"github.com/BrokenPorkMachine/NOS-sub000/internal/vm"
)

// HandlePageFault is the #PF entry point cmd/kernel's IDT stub for
// x8664.VectorPageFault calls into: it dispatches through internal/trap's
// decoder straight to the COW fault algorithm wired up during Boot.
func (k *Kernel) HandlePageFault(f trap.Frame) vm.FaultResult {
	return trap.HandlePageFault(k.Log, f, k.COW, k.ports.Symbols, k.ports.ZeroFrame, k.ports.CopyFrame, 0)
}
