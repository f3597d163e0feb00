package elfobj

// x86-64 relocation types (spec.md §4.2 "relocation types"), numeric
// values per the System V x86-64 psABI.
const (
	RX8664_64         RelType = 1
	RX8664PC32        RelType = 2
	RX8664PLT32       RelType = 4
	RX8664GOTPCREL    RelType = 9
	RX8664GOTPCRELX   RelType = 41
	RX8664REXGOTPCREL RelType = 42
)

// AArch64 relocation types, numeric values per the ELF for the Arm 64-bit
// Architecture (AAELF64) spec.
const (
	RAARCH64ABS64              RelType = 257
	RAARCH64PREL32             RelType = 261
	RAARCH64CALL26             RelType = 283
	RAARCH64JUMP26             RelType = 282
	RAARCH64ADRPrelPGHi21      RelType = 275
	RAARCH64ADDABSLO12NC       RelType = 277
	RAARCH64LDSTABSLO12NC      RelType = 286
	RAARCH64ADRGOTPage         RelType = 311
	RAARCH64LD64GOTLO12NC      RelType = 312
	RAARCH64TLSDESCADRPage21   RelType = 562
	RAARCH64TLSDESCLD64LO12NC  RelType = 563
	RAARCH64TLSDESCADDLO12NC   RelType = 564
	RAARCH64TLSDESCCALL        RelType = 569
)

// Relocation is one relocatable-object relocation record (spec.md §4.2):
// at byte Offset within Section, referring to Symbol (an index into the
// assembler's symbol list, resolved to its final ELF symtab index at
// serialization), of Type, with explicit Addend (ELF64 is always RELA).
type Relocation struct {
	Section SectionIndex
	Offset  uint64
	Symbol  int // handle returned by Assembler.AddSymbol
	Type    RelType
	Addend  int64
}
