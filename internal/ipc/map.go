package ipc

import (
	"errors"

	"github.com/BrokenPorkMachine/NOS-sub000/internal/vm"
)

// ErrNoRights is returned by MapIntoAddressSpace when a region carries
// neither SEND nor RECV for the consuming task, since a mapping with
// neither right attached grants no meaningful access.
var ErrNoRights = errors.New("ipc: region has no rights to map")

// MapIntoAddressSpace installs r's frames into mgr's currently selected
// address space starting at virt, translating r's SEND/RECV capability
// bits into page-table flags: rights_recv maps Present|User (the
// consuming task may read the page at all) and rights_send additionally
// maps Writable (the task may also produce data into it). This is the
// map_shared(region, pml4, rights) entry point spec.md §9's shared-memory
// rights Open Question resolves toward: capability bits stay capability
// bits at the IPC layer, and only get turned into PTE protection bits
// here, at the one place a region actually becomes visible in a task's
// PML4.
func MapIntoAddressSpace(mgr *vm.Manager, r *Region, virt uint64, node int) error {
	send, recv := r.Rights()
	var flags vm.PTEFlags
	if recv&CapRecv != 0 {
		flags |= vm.Present | vm.User
	}
	if send&CapSend != 0 {
		flags |= vm.Writable
	}
	if flags == 0 {
		return ErrNoRights
	}

	frames := r.Frames()
	for i, frame := range frames {
		addr := virt + uint64(i)*pageSize
		if err := mgr.Map(addr, frame, flags, 0, node); err != nil {
			return err
		}
	}
	return nil
}
