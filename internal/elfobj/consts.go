// Package elfobj assembles a relocatable ELF64 object file: sections, a
// symbol table, relocations, and a .eh_frame CIE/FDE stream, grounded on
// the teacher's elf.go/elf_sections.go and, for the frame-unwind format,
// original_source/tpde/include/tpde/AssemblerElf.hpp (spec.md §4.2).
package elfobj

// ELF64 file header fields (e_ident, e_type, e_machine, ...).
const (
	etRel = 1

	emX86_64  = 62
	emAArch64 = 183

	evCurrent = 1
	elfClass  = 2 // ELFCLASS64
	elfData2  = 1 // ELFDATA2LSB

	ehSize     = 64
	shEntSize  = 64
	symEntSize = 24
)

// Section header types and flags.
const (
	shtNull     = 0
	shtProgbits = 1
	shtSymtab   = 2
	shtStrtab   = 3
	shtRela     = 4
	shtNobits   = 8

	shfWrite     = 0x1
	shfAlloc     = 0x2
	shfExecinstr = 0x4
)

// Symbol binding/type, packed into st_info via (bind<<4)|typ.
const (
	stbLocal  = 0
	stbGlobal = 1

	sttNotype = 0
	sttFunc   = 2
	sttObject = 1
	sttSect   = 3
)

// RelType is an architecture-specific relocation type code. Symbolic
// constants are defined per architecture in reloc.go so callers never
// have to guess which numeric space applies.
type RelType uint32

// Machine selects the target architecture for ELF header fields and for
// interpreting which RelType space is valid.
type Machine uint16

const (
	MachineX86_64  Machine = emX86_64
	MachineAArch64 Machine = emAArch64
)
