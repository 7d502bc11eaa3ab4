// Package trap implements the canonical-address checks, user-memory
// copy helpers, and fault/panic reporting of spec.md §4.H.
package trap

import "errors"

// UserTop is spec.md §4.H's USER_TOP: the highest valid canonical
// user-space address on x86-64.
const UserTop uint64 = 0x0000_7FFF_FFFF_FFFF

// ErrFault is returned by CopyFromUser/CopyToUser on any rejection,
// mirroring spec.md §4.H's -EFAULT.
var ErrFault = errors.New("trap: EFAULT")

// Canonical reports whether addr is in standard x86-64 canonical form:
// bits 63:47 all zero or all one.
func Canonical(addr uint64) bool {
	top := addr >> 47
	return top == 0 || top == 0x1FFFF
}

// IsUserAddr reports whether addr is both canonical and within the user
// half of the address space.
func IsUserAddr(addr uint64) bool {
	return Canonical(addr) && addr <= UserTop
}

// rangeOK validates an (addr, n) span per CopyFromUser/CopyToUser's
// shared rejection rules: n must not overflow the addition, and every
// byte of the range must be a user-canonical address.
func rangeOK(addr, n uint64) bool {
	if n == 0 {
		return IsUserAddr(addr)
	}
	end := addr + n - 1
	if end < addr {
		return false // wrapped
	}
	return IsUserAddr(addr) && IsUserAddr(end)
}

// MappedChecker reports whether every byte of [addr, addr+n) is
// currently mapped with user access, the dynamic half of
// CopyFromUser/CopyToUser's validation that a static range check alone
// cannot perform. Production wiring backs this with internal/vm.Manager;
// tests back it with a fake.
type MappedChecker interface {
	UserMapped(addr, n uint64) bool
}

// CopyFromUser copies n bytes from the user address usrc into dst,
// rejecting non-canonical ranges, wrapped lengths, and ranges not
// currently mapped for user access.
func CopyFromUser(dst []byte, usrc uint64, n uint64, mapped MappedChecker, read func(addr uint64) byte) error {
	if uint64(len(dst)) < n {
		return ErrFault
	}
	if !rangeOK(usrc, n) {
		return ErrFault
	}
	if mapped != nil && !mapped.UserMapped(usrc, n) {
		return ErrFault
	}
	for i := uint64(0); i < n; i++ {
		dst[i] = read(usrc + i)
	}
	return nil
}

// CopyToUser copies n bytes from src into the user address udst, with
// the same rejection rules as CopyFromUser.
func CopyToUser(udst uint64, src []byte, n uint64, mapped MappedChecker, write func(addr uint64, b byte)) error {
	if uint64(len(src)) < n {
		return ErrFault
	}
	if !rangeOK(udst, n) {
		return ErrFault
	}
	if mapped != nil && !mapped.UserMapped(udst, n) {
		return ErrFault
	}
	for i := uint64(0); i < n; i++ {
		write(udst+i, src[i])
	}
	return nil
}
