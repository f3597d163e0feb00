package elfmap

import (
	"fmt"

	"github.com/xyproto/tpde/internal/elfobj"
)

func (m *Mapper) thunkAddr(base uintptr, stubsOff int, name string) (thunk, literal uintptr, ok bool) {
	for i, n := range m.thunkName {
		if n == name {
			off := stubsOff + m.thunkOffset[i]
			return base + uintptr(off), base + uintptr(off+literalOffset), true
		}
	}
	return 0, 0, false
}

// resolveSymbols resolves every external symbol referenced by a thunk
// through the supplied SymbolResolver and writes its address into the
// thunk's literal slot.
func (m *Mapper) resolveSymbols(base uintptr, placed []placedSection, starts []int, stubsOff int) error {
	mem := unsafeSlice(base, len(m.mapped))
	for i, name := range m.thunkName {
		if m.resolve == nil {
			return fmt.Errorf("elfmap: external symbol %q needs a resolver, none supplied", name)
		}
		addr, ok := m.resolve(name)
		if !ok {
			return fmt.Errorf("elfmap: unresolved external symbol %q", name)
		}
		off := stubsOff + m.thunkOffset[i] + literalOffset
		putLE64(mem[off:off+8], uint64(addr))
	}
	return nil
}

func (m *Mapper) publicFuncs() map[string]uintptr {
	out := make(map[string]uintptr)
	for h := 0; h < m.asm.NumSymbolHandles(); h++ {
		s := m.asm.SymbolByHandle(h)
		if !s.Global || s.Section < 0 {
			continue
		}
		if addr, ok := m.sectionAddr[s.Section]; ok {
			out[s.Name] = addr + uintptr(s.Value)
		}
	}
	return out
}

const (
	rX8664_64         = elfobj.RelType(1)
	rX8664PC32        = elfobj.RelType(2)
	rX8664PLT32       = elfobj.RelType(4)
	rX8664GOTPCREL    = elfobj.RelType(9)
	rX8664GOTPCRELX   = elfobj.RelType(41)
	rX8664REXGOTPCREL = elfobj.RelType(42)

	rAARCH64ABS64         = elfobj.RelType(257)
	rAARCH64PREL32        = elfobj.RelType(261)
	rAARCH64CALL26        = elfobj.RelType(283)
	rAARCH64JUMP26        = elfobj.RelType(282)
	rAARCH64ADRPrelPGHi21 = elfobj.RelType(275)
	rAARCH64ADDABSLO12NC  = elfobj.RelType(277)
	rAARCH64LDSTABSLO12NC = elfobj.RelType(286)
	rAARCH64ADRGOTPage    = elfobj.RelType(311)
	rAARCH64LD64GOTLO12NC = elfobj.RelType(312)
)

func isGOTRelative(t elfobj.RelType) bool {
	switch t {
	case rX8664GOTPCREL, rX8664GOTPCRELX, rX8664REXGOTPCREL, rAARCH64ADRGOTPage, rAARCH64LD64GOTLO12NC:
		return true
	}
	return false
}

// applyRelocations walks every recorded relocation, resolves its symbol to
// a final mapped address (internal section address, or the thunk/literal
// slot for an external one), and patches the encoded field in place
// (spec.md §4.3 "resolve every relocation").
func (m *Mapper) applyRelocations(mem []byte, base uintptr, stubsOff int) error {
	for _, r := range m.asm.Relocations() {
		sym := m.asm.SymbolByHandle(r.Symbol)
		secAddr, ok := m.sectionAddr[r.Section]
		if !ok {
			return fmt.Errorf("elfmap: relocation against unmapped section %d", r.Section)
		}
		pc := secAddr + uintptr(r.Offset)

		var target uintptr
		if sym.Section >= 0 {
			sa, ok := m.sectionAddr[sym.Section]
			if !ok {
				return fmt.Errorf("elfmap: relocation symbol %q in unmapped section", sym.Name)
			}
			target = sa + uintptr(sym.Value)
		} else {
			thunk, literal, ok := m.thunkAddr(base, stubsOff, sym.Name)
			if !ok {
				return fmt.Errorf("elfmap: no thunk planned for external symbol %q", sym.Name)
			}
			if isGOTRelative(r.Type) {
				target = literal
			} else {
				target = thunk
			}
		}

		fieldOff := int(pc - base)
		if err := patchField(mem, fieldOff, r.Type, target, r.Addend, pc); err != nil {
			return err
		}
	}
	return nil
}

func patchField(mem []byte, off int, t elfobj.RelType, target uintptr, addend int64, pc uintptr) error {
	switch t {
	case rX8664_64, rAARCH64ABS64:
		putLE64(mem[off:off+8], uint64(int64(target)+addend))
	case rX8664PC32, rX8664PLT32, rAARCH64PREL32,
		rX8664GOTPCREL, rX8664GOTPCRELX, rX8664REXGOTPCREL:
		delta := int64(target) + addend - int64(pc)
		putLE32(mem[off:off+4], uint32(int32(delta)))
	case rAARCH64CALL26, rAARCH64JUMP26:
		delta := int64(target) + addend - int64(pc)
		if delta%4 != 0 {
			return fmt.Errorf("elfmap: unaligned aarch64 branch target")
		}
		imm26 := uint32((delta >> 2)) & 0x03ffffff
		word := le32(mem[off : off+4])
		word = (word &^ 0x03ffffff) | imm26
		putLE32(mem[off:off+4], word)
	case rAARCH64ADRPrelPGHi21:
		pageDelta := (int64(target)+addend)>>12 - int64(pc)>>12
		immlo := uint32(pageDelta) & 0x3
		immhi := uint32(pageDelta>>2) & 0x7ffff
		word := le32(mem[off : off+4])
		word = (word &^ (0x3 << 29)) | (immlo << 29)
		word = (word &^ (0x7ffff << 5)) | (immhi << 5)
		putLE32(mem[off:off+4], word)
	case rAARCH64ADDABSLO12NC, rAARCH64LDSTABSLO12NC, rAARCH64LD64GOTLO12NC:
		lo12 := uint32(int64(target)+addend) & 0xfff
		word := le32(mem[off : off+4])
		word = (word &^ (0xfff << 10)) | (lo12 << 10)
		putLE32(mem[off:off+4], word)
	case rAARCH64ADRGOTPage:
		pageDelta := (int64(target)+addend)>>12 - int64(pc)>>12
		immlo := uint32(pageDelta) & 0x3
		immhi := uint32(pageDelta>>2) & 0x7ffff
		word := le32(mem[off : off+4])
		word = (word &^ (0x3 << 29)) | (immlo << 29)
		word = (word &^ (0x7ffff << 5)) | (immhi << 5)
		putLE32(mem[off:off+4], word)
	default:
		return fmt.Errorf("elfmap: unsupported relocation type %d (e.g. TLSDESC is not implemented)", t)
	}
	return nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
