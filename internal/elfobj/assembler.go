package elfobj

import "fmt"

// Assembler accumulates sections, symbols and relocations for one
// relocatable ELF64 object and serializes them with Finalize. Grounded on
// the teacher's elf.go top-level Writer/Assembler struct, narrowed from
// "build an executable/shared object" down to "build one .o" per
// spec.md §4.2, since linking/loading is internal/elfmap's job instead.
type Assembler struct {
	Machine Machine

	sections      []*Section
	sectionByName map[string]SectionIndex
	symtab        SymbolTable
	relocs        []Relocation

	strtab    []byte
	strOffset map[string]uint32

	eh       EhFrameWriter
	ehSec    SectionIndex
	hasEh    bool
	ehFDEFix []ehFix
}

type ehFix struct {
	fieldOffset int    // offset within .eh_frame of the pc_begin field
	symbol      int    // symtab handle of the function symbol
	addend      int64
}

// NewAssembler creates an empty object builder for the given machine. The
// standard section set (.text, .data, .rodata, .data.rel.ro, .bss,
// .init_array, .fini_array, .note.GNU-stack) is pre-created since every
// compiled function needs at least .text.
func NewAssembler(m Machine) *Assembler {
	a := &Assembler{
		Machine:       m,
		sectionByName: make(map[string]SectionIndex),
		strOffset:     make(map[string]uint32),
	}
	a.strtab = append(a.strtab, 0)
	a.NewSection("", shtNull, 0, 0) // index 0 reserved, mirrors SHN_UNDEF
	a.NewSection(".text", shtProgbits, shfAlloc|shfExecinstr, 16)
	a.NewSection(".data", shtProgbits, shfAlloc|shfWrite, 8)
	a.NewSection(".rodata", shtProgbits, shfAlloc, 16)
	a.NewSection(".data.rel.ro", shtProgbits, shfAlloc|shfWrite, 8)
	a.NewSection(".bss", shtNobits, shfAlloc|shfWrite, 8)
	a.NewSection(".init_array", shtProgbits, shfAlloc|shfWrite, 8)
	a.NewSection(".fini_array", shtProgbits, shfAlloc|shfWrite, 8)
	a.NewSection(".note.GNU-stack", shtProgbits, 0, 1)
	return a
}

// TextIndex, DataIndex, etc. are the pre-created well-known sections.
func (a *Assembler) TextIndex() SectionIndex        { return mustSection(a, ".text") }
func (a *Assembler) DataIndex() SectionIndex        { return mustSection(a, ".data") }
func (a *Assembler) RodataIndex() SectionIndex      { return mustSection(a, ".rodata") }
func (a *Assembler) DataRelRoIndex() SectionIndex   { return mustSection(a, ".data.rel.ro") }
func (a *Assembler) BssIndex() SectionIndex         { return mustSection(a, ".bss") }
func (a *Assembler) InitArrayIndex() SectionIndex   { return mustSection(a, ".init_array") }
func (a *Assembler) FiniArrayIndex() SectionIndex   { return mustSection(a, ".fini_array") }

// NumSections returns the total section count, including the reserved
// index-0 null section.
func (a *Assembler) NumSections() int { return len(a.sections) }

// Relocations returns every relocation recorded so far.
func (a *Assembler) Relocations() []Relocation { return a.relocs }

// SymbolByHandle returns the symbol registered under handle h (as
// returned by AddSymbol). Relocation.Symbol refers to this same handle
// space, not the post-sort serialized index.
func (a *Assembler) SymbolByHandle(h int) Symbol { return a.symtab.symbols[h] }

// NumSymbolHandles returns the number of symbols registered via AddSymbol.
func (a *Assembler) NumSymbolHandles() int { return len(a.symtab.symbols) }

func mustSection(a *Assembler, name string) SectionIndex {
	idx, ok := a.sectionByName[name]
	if !ok {
		panic("elfobj: missing well-known section " + name)
	}
	return idx
}

// AddSymbol registers a symbol and returns its stable handle.
func (a *Assembler) AddSymbol(s Symbol) int { return a.symtab.AddSymbol(s) }

// AddRelocation records a relocation to be applied during linking/mapping.
func (a *Assembler) AddRelocation(r Relocation) { a.relocs = append(a.relocs, r) }

// ensureEhFrame lazily creates .eh_frame and writes its CIE once, shared
// by every function's FDE (spec.md §4.2 ".eh_frame").
func (a *Assembler) ensureEhFrame(cie CIE) SectionIndex {
	if a.hasEh {
		return a.ehSec
	}
	a.ehSec = a.NewSection(".eh_frame", shtProgbits, shfAlloc, 8)
	a.eh.WriteCIE(cie)
	a.hasEh = true
	return a.ehSec
}

// AddFunctionFrame emits funcLen bytes worth of FDE for symbol funcSym
// (already registered via AddSymbol), driven by the CFI opcodes already
// recorded into fde by the backend's prologue emitter, and records the
// relocation needed to patch the FDE's pc_begin field to point at the
// function once the object is linked or mapped.
func (a *Assembler) AddFunctionFrame(cie CIE, fde *FDE, funcSym int, funcLen uint32) {
	a.ensureEhFrame(cie)
	fieldOff := a.eh.WriteFDE(fde, funcLen)
	a.ehFDEFix = append(a.ehFDEFix, ehFix{fieldOffset: fieldOff, symbol: funcSym})
}

// Finalize flushes the accumulated .eh_frame bytes into its section and
// emits the pending pc-begin relocations, then serializes the full ELF64
// object. Must be called exactly once, after every function has been
// assembled.
func (a *Assembler) Finalize() ([]byte, error) {
	if a.hasEh {
		sec := a.sections[a.ehSec]
		sec.Data = a.eh.Bytes()
		for _, fix := range a.ehFDEFix {
			a.AddRelocation(Relocation{
				Section: a.ehSec,
				Offset:  uint64(fix.fieldOffset),
				Symbol:  fix.symbol,
				Type:    a.pcrelRelType(),
				Addend:  fix.addend,
			})
		}
	}
	return serialize(a)
}

func (a *Assembler) pcrelRelType() RelType {
	if a.Machine == MachineAArch64 {
		return RAARCH64PREL32
	}
	return RX8664PC32
}

func (a *Assembler) internStr(s string) uint32 {
	if off, ok := a.strOffset[s]; ok {
		return off
	}
	off := uint32(len(a.strtab))
	a.strtab = append(a.strtab, s...)
	a.strtab = append(a.strtab, 0)
	a.strOffset[s] = off
	return off
}

// Validate checks invariants Finalize relies on: every relocation refers
// to a live symbol handle and a live section index.
func (a *Assembler) Validate() error {
	for i, r := range a.relocs {
		if r.Symbol < 0 || r.Symbol >= len(a.symtab.symbols) {
			return fmt.Errorf("elfobj: relocation %d refers to unknown symbol %d", i, r.Symbol)
		}
		if int(r.Section) < 0 || int(r.Section) >= len(a.sections) {
			return fmt.Errorf("elfobj: relocation %d refers to unknown section %d", i, r.Section)
		}
	}
	return nil
}
