// Package x8664 builds the x86-64-specific structures spec.md §4.I's
// init sequence installs: the GDT, IDT, and a PIT/LAPIC calibration
// helper consuming an external timer driver port. CR-register access and
// the actual LGDT/LIDT/iretq instructions are out of scope for a
// host-testable core package; this package builds the byte layouts and
// leaves loading them to a narrow assembly boundary (spec.md's REDESIGN
// FLAGS "context switch... narrow unsafe boundary" principle, applied
// the same way to descriptor table loads).
package x8664

// GDT selectors, fixed by spec.md §6: "Any user-mode iretq must use
// exactly these with TI=0."
const (
	SelNull       uint16 = 0x00
	SelKernelCode uint16 = 0x08
	SelKernelData uint16 = 0x10
	SelUserCode   uint16 = 0x1B // RPL3
	SelUserData   uint16 = 0x23 // RPL3
	SelTSS        uint16 = 0x28
)

// gdtEntry is a packed 64-bit segment descriptor.
type gdtEntry uint64

func makeGDTEntry(base uint32, limit uint32, access uint8, flags uint8) gdtEntry {
	e := uint64(limit & 0xFFFF)
	e |= (uint64(base) & 0xFFFFFF) << 16
	e |= uint64(access) << 40
	e |= uint64((limit>>16)&0xF) << 48
	e |= uint64(flags&0xF) << 52
	e |= (uint64(base) >> 24 & 0xFF) << 56
	return gdtEntry(e)
}

// TSSDescriptor is a 128-bit (two gdtEntry slot) TSS descriptor, needed
// because a 32-bit base field can't hold a 64-bit TSS address.
type TSSDescriptor struct {
	Low  gdtEntry
	High uint64
}

func makeTSSDescriptor(base uint64, limit uint32) TSSDescriptor {
	const accessTSSAvailable = 0x89 // present, DPL0, type=0x9 (64-bit TSS available)
	low := makeGDTEntry(uint32(base), limit, accessTSSAvailable, 0)
	return TSSDescriptor{Low: low, High: base >> 32}
}

// GDT is the flat descriptor table spec.md §4.I step 2 builds: null,
// kernel CS/DS, user CS/DS (RPL3), and a TSS descriptor.
type GDT struct {
	Null       gdtEntry
	KernelCode gdtEntry
	KernelData gdtEntry
	UserCode   gdtEntry
	UserData   gdtEntry
	TSS        TSSDescriptor
}

// BuildGDT constructs the table; tssBase/tssLimit identify the task
// state segment loaded into TR.
func BuildGDT(tssBase uint64, tssLimit uint32) GDT {
	const (
		accessKernelCode = 0x9A // present, DPL0, code, executable, readable
		accessKernelData = 0x92 // present, DPL0, data, writable
		accessUserCode   = 0xFA // present, DPL3, code, executable, readable
		accessUserData   = 0xF2 // present, DPL3, data, writable
		flagsLongMode    = 0xA // L=1, G=1 (64-bit code/data segments)
	)
	return GDT{
		Null:       0,
		KernelCode: makeGDTEntry(0, 0xFFFFF, accessKernelCode, flagsLongMode),
		KernelData: makeGDTEntry(0, 0xFFFFF, accessKernelData, flagsLongMode),
		UserCode:   makeGDTEntry(0, 0xFFFFF, accessUserCode, flagsLongMode),
		UserData:   makeGDTEntry(0, 0xFFFFF, accessUserData, flagsLongMode),
		TSS:        makeTSSDescriptor(tssBase, tssLimit),
	}
}

// Bytes serializes the table in selector order, ready for an LGDT
// pointer to reference. TSS occupies two slots (selectors 0x28 and
// 0x30, though only 0x28 is architecturally meaningful).
func (g GDT) Bytes() []byte {
	out := make([]byte, 0, 8*6)
	for _, e := range []gdtEntry{g.Null, g.KernelCode, g.KernelData, g.UserCode, g.UserData, g.TSS.Low} {
		out = appendUint64LE(out, uint64(e))
	}
	out = appendUint64LE(out, g.TSS.High)
	return out
}

func appendUint64LE(buf []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(8*uint(i))))
	}
	return buf
}
