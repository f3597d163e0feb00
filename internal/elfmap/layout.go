package elfmap

import "github.com/xyproto/tpde/internal/elfobj"

const (
	shfWrite     = 0x1
	shfAlloc     = 0x2
	shfExecinstr = 0x4
	shtNobits    = 8
)

// planLayout classifies every allocatable section by permission class and
// computes which external symbols need a PLT-style thunk or a GOT-style
// data slot, returning the to-be-mapped sections and the combined stub
// region bytes (placeholder literals; patched once addresses are known in
// resolveSymbols).
func (m *Mapper) planLayout() ([]placedSection, []byte, error) {
	var placed []placedSection
	for i := 1; i < m.asm.NumSections(); i++ {
		idx := elfobj.SectionIndex(i)
		s := m.asm.Section(idx)
		if s.Flags&shfAlloc == 0 {
			continue
		}
		cat := catROData
		switch {
		case s.Type == shtNobits:
			cat = catBSS
		case s.Flags&shfExecinstr != 0:
			cat = catExec
		case s.Flags&shfWrite != 0:
			cat = catRWData
		}
		size := len(s.Data)
		if s.Type == shtNobits {
			size = int(s.Size)
		}
		align := int(s.Align)
		if align < 1 {
			align = 1
		}
		placed = append(placed, placedSection{idx: idx, cat: cat, size: size, align: align, data: s.Data})
	}

	needsThunk := make(map[string]bool) // external symbol name -> needs a stub slot
	for _, r := range m.asm.Relocations() {
		sym := m.asm.SymbolByHandle(r.Symbol)
		if sym.Section >= 0 {
			continue // internal symbol, resolved directly to its section address
		}
		needsThunk[sym.Name] = true
	}

	names := make([]string, 0, len(needsThunk))
	for name := range needsThunk {
		names = append(names, name)
	}
	sortStrings(names)

	m.thunkName = names
	stubBytes := make([]byte, len(names)*stubSize)
	for i := range names {
		off := i * stubSize
		m.thunkOffset = append(m.thunkOffset, off)
		writeStubPreamble(m.asm.Machine, stubBytes[off:off+stubSize])
	}
	return placed, stubBytes, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
