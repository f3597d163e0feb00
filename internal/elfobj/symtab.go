package elfobj

// Symbol is one ELF symbol-table entry under construction. Value is an
// offset within Section (resolved to a file-relative value only when
// mapped for JIT execution, or left as a section-relative addend for the
// relocatable object — spec.md §4.2/§4.3 split this: the object keeps
// section-relative symbols, the mapper in internal/elfmap resolves them
// to absolute runtime addresses).
type Symbol struct {
	Name    string
	Section SectionIndex // -1 for SHN_UNDEF (external/unresolved)
	Value   uint64
	Size    uint64
	Global  bool
	Func    bool // STT_FUNC vs STT_OBJECT/NOTYPE
}

const shnUndef = 0

// SymbolTable collects symbols and assigns them their final serialized
// order: all STB_LOCAL entries first, then STB_GLOBAL (spec.md §4.2
// "locals-before-globals ordering"), with sh_info on the symtab section
// header set to one-past-the-last-local index.
type SymbolTable struct {
	symbols []Symbol
}

// AddSymbol appends a symbol and returns a stable handle (index into the
// pre-sort insertion order) that Relocation.Symbol refers to.
func (t *SymbolTable) AddSymbol(s Symbol) int {
	t.symbols = append(t.symbols, s)
	return len(t.symbols) - 1
}

// finalOrder returns the symbols and handle->final-elf-index map, locals
// first then globals, each group in insertion order (a stable partition).
func (t *SymbolTable) finalOrder() ([]Symbol, []int) {
	n := len(t.symbols)
	finalIdx := make([]int, n)
	ordered := make([]Symbol, 0, n+1)
	ordered = append(ordered, Symbol{}) // index 0 is always the null symbol

	for i, s := range t.symbols {
		if !s.Global {
			finalIdx[i] = len(ordered)
			ordered = append(ordered, s)
		}
	}
	localCount := len(ordered)
	for i, s := range t.symbols {
		if s.Global {
			finalIdx[i] = len(ordered)
			ordered = append(ordered, s)
		}
	}
	_ = localCount
	return ordered, finalIdx
}

func symInfo(s Symbol) byte {
	bind := byte(stbLocal)
	if s.Global {
		bind = stbGlobal
	}
	typ := byte(sttNotype)
	if s.Func {
		typ = sttFunc
	} else if s.Section >= 0 {
		typ = sttObject
	}
	return bind<<4 | typ
}
