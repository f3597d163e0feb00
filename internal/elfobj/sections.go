package elfobj

// SectionIndex is a handle into the assembler's section list, stable for
// the lifetime of one Assembler (spec.md §3 "Section").
type SectionIndex int

// Section is one ELF section under construction. Nobits sections (.bss)
// carry no Data but do carry a Size.
type Section struct {
	Name      string
	Type      uint32
	Flags     uint64
	Align     uint64
	Data      []byte
	Size      uint64 // used directly for SHT_NOBITS; otherwise len(Data)
	nameOff   uint32
}

func (s *Section) effectiveSize() uint64 {
	if s.Type == shtNobits {
		return s.Size
	}
	return uint64(len(s.Data))
}

// NewSection appends a new, empty section and returns its handle.
// Grounded on the teacher's elf_sections.go section bookkeeping,
// generalized from a fixed hard-coded set to an open section list so the
// object emitter can add .eh_frame on demand
// (spec.md §4.2 "section builder").
func (a *Assembler) NewSection(name string, typ uint32, flags uint64, align uint64) SectionIndex {
	idx := SectionIndex(len(a.sections))
	a.sections = append(a.sections, &Section{Name: name, Type: typ, Flags: flags, Align: align})
	a.sectionByName[name] = idx
	return idx
}

// Section returns the section at idx for direct data appends.
func (a *Assembler) Section(idx SectionIndex) *Section { return a.sections[idx] }

// SectionByName looks up a previously created section, reporting false if
// absent.
func (a *Assembler) SectionByName(name string) (SectionIndex, bool) {
	idx, ok := a.sectionByName[name]
	return idx, ok
}

// Append writes data into the section at idx and returns the offset it
// was written at, for use as a relocation anchor.
func (a *Assembler) Append(idx SectionIndex, data []byte) uint64 {
	s := a.sections[idx]
	off := uint64(len(s.Data))
	s.Data = append(s.Data, data...)
	return off
}

// Pos returns the current write offset of section idx.
func (a *Assembler) Pos(idx SectionIndex) uint64 { return uint64(len(a.sections[idx].Data)) }
