package elfobj

import (
	"fmt"
	"os"
)

// VerboseMode mirrors the teacher's package-level logging toggle
// (elf.go's VerboseMode checks around WriteELFHeader): when set, Finalize
// narrates section layout to stderr as it assembles the object.
var VerboseMode bool

type obuf struct{ b []byte }

func (o *obuf) u8(v byte)    { o.b = append(o.b, v) }
func (o *obuf) u16(v uint16) { o.b = append(o.b, byte(v), byte(v>>8)) }
func (o *obuf) u32(v uint32) {
	o.b = append(o.b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
func (o *obuf) u64(v uint64) {
	o.b = append(o.b,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}
func (o *obuf) pad(to int) {
	for len(o.b)%to != 0 {
		o.b = append(o.b, 0)
	}
}

// serialize lays out a full ET_REL (relocatable) ELF64 object: file
// header, every section's raw bytes back-to-back (each padded to its own
// section alignment), the
// symbol table and its string table, one .rela section per section that
// carries relocations, the section-name string table, and finally the
// section header table (spec.md §4.2, §6).
func serialize(a *Assembler) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	ordered, finalIdx := a.symtab.finalOrder()
	localCount := 0
	for _, s := range ordered[1:] {
		if !s.Global {
			localCount++
		} else {
			break
		}
	}
	localCount++ // account for the null symbol at index 0

	// Build .strtab (symbol names) fresh, independent of any section-data
	// string interning, and .symtab bytes referring into it.
	strtab := obuf{}
	strtab.u8(0)
	symtab := obuf{}
	symtab.b = append(symtab.b, make([]byte, symEntSize)...) // null symbol entry

	nameOff := make(map[string]uint32)
	internSym := func(name string) uint32 {
		if name == "" {
			return 0
		}
		if off, ok := nameOff[name]; ok {
			return off
		}
		off := uint32(len(strtab.b))
		strtab.b = append(strtab.b, name...)
		strtab.b = append(strtab.b, 0)
		nameOff[name] = off
		return off
	}

	relocsBySection := make(map[SectionIndex][]Relocation)
	for _, r := range a.relocs {
		relocsBySection[r.Section] = append(relocsBySection[r.Section], r)
	}

	for _, s := range ordered[1:] {
		symtab.u32(internSym(s.Name))
		symtab.u8(symInfo(s))
		symtab.u8(0)
		if s.Section < 0 {
			symtab.u16(shnUndef)
		} else {
			symtab.u16(uint16(s.Section))
		}
		symtab.u64(s.Value)
		symtab.u64(s.Size)
	}

	// shstrtab: section names, built in the order sections are emitted.
	shstr := obuf{}
	shstr.u8(0)
	shstrOff := make(map[string]uint32)
	internShstr := func(name string) uint32 {
		if off, ok := shstrOff[name]; ok {
			return off
		}
		off := uint32(len(shstr.b))
		shstr.b = append(shstr.b, name...)
		shstr.b = append(shstr.b, 0)
		shstrOff[name] = off
		return off
	}

	type outSec struct {
		name       string
		typ        uint32
		flags      uint64
		align      uint64
		data       []byte
		size       uint64
		link, info uint32
		entsize    uint64
	}

	var out []outSec
	out = append(out, outSec{name: ""}) // SHN_UNDEF

	relaName := func(target string) string { return ".rela" + target }

	// well-known + any extra sections (.eh_frame), in creation order.
	for i := 1; i < len(a.sections); i++ {
		s := a.sections[i]
		out = append(out, outSec{
			name: s.Name, typ: s.Type, flags: s.Flags, align: maxu64(s.Align, 1),
			data: s.Data, size: s.effectiveSize(),
		})
	}

	symtabSecIdx := len(out)
	out = append(out, outSec{
		name: ".symtab", typ: shtSymtab, align: 8,
		data: symtab.b, size: uint64(len(symtab.b)),
		info: uint32(localCount), entsize: symEntSize,
	})
	strtabSecIdx := len(out)
	out = append(out, outSec{
		name: ".strtab", typ: shtStrtab, align: 1,
		data: strtab.b, size: uint64(len(strtab.b)),
	})
	out[symtabSecIdx].link = uint32(strtabSecIdx)

	for secIdx, relocs := range relocsBySection {
		rb := obuf{}
		for _, r := range relocs {
			rb.u64(r.Offset)
			info := uint64(finalIdx[r.Symbol])<<32 | uint64(uint32(r.Type))
			rb.u64(info)
			rb.u64(uint64(r.Addend))
		}
		out = append(out, outSec{
			name: relaName(a.sections[secIdx].Name), typ: shtRela, flags: 0, align: 8,
			data: rb.b, size: uint64(len(rb.b)),
			link: uint32(symtabSecIdx), info: uint32(secIdx), entsize: 24,
		})
	}

	shstrtabSecIdx := len(out)
	out = append(out, outSec{name: ".shstrtab"}) // filled after we know its own name is interned

	for _, s := range out {
		if s.name != "" {
			internShstr(s.name)
		}
	}
	out[shstrtabSecIdx].typ = shtStrtab
	out[shstrtabSecIdx].align = 1
	out[shstrtabSecIdx].data = shstr.b
	out[shstrtabSecIdx].size = uint64(len(shstr.b))

	if VerboseMode {
		fmt.Fprintf(os.Stderr, "elfobj: serializing %d sections, %d symbols, %d relocations\n",
			len(out), len(ordered), len(a.relocs))
	}

	// Lay out section contents sequentially after the ELF header.
	file := obuf{}
	file.b = append(file.b, make([]byte, ehSize)...)

	offsets := make([]uint64, len(out))
	for i, s := range out {
		if s.typ == shtNull || s.typ == shtNobits || len(s.data) == 0 {
			continue
		}
		file.pad(int(s.align))
		offsets[i] = uint64(len(file.b))
		file.b = append(file.b, s.data...)
	}
	file.pad(8)
	shoff := uint64(len(file.b))

	for i, s := range out {
		file.u32(shstrOffOrZero(shstrOff, s.name))
		file.u32(s.typ)
		file.u64(s.flags)
		file.u64(0) // sh_addr: unset for a relocatable object
		file.u64(offsets[i])
		file.u64(s.size)
		file.u32(s.link)
		file.u32(s.info)
		file.u64(s.align)
		file.u64(s.entsize)
	}

	writeHeader(&file, a.Machine, shoff, uint16(len(out)), uint16(shstrtabSecIdx))
	return file.b, nil
}

func shstrOffOrZero(m map[string]uint32, name string) uint32 {
	if name == "" {
		return 0
	}
	return m[name]
}

func maxu64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func writeHeader(file *obuf, mach Machine, shoff uint64, shnum, shstrndx uint16) {
	h := file.b[:ehSize]
	h[0], h[1], h[2], h[3] = 0x7f, 'E', 'L', 'F'
	h[4] = elfClass
	h[5] = elfData2
	h[6] = evCurrent
	h[7] = 0 // ELFOSABI_SYSV
	// h[8] ABI version, h[9:16] padding left zero
	putU16(h, 16, etRel)
	putU16(h, 18, uint16(mach))
	putU32(h, 20, evCurrent)
	putU64(h, 24, 0) // e_entry: none for ET_REL
	putU64(h, 32, 0) // e_phoff
	putU64(h, 40, shoff)
	putU32(h, 48, 0) // e_flags
	putU16(h, 52, ehSize)
	putU16(h, 54, 0) // e_phentsize
	putU16(h, 56, 0) // e_phnum
	putU16(h, 58, shEntSize)
	putU16(h, 60, shnum)
	putU16(h, 62, shstrndx)
}

func putU16(b []byte, off int, v uint16) { b[off], b[off+1] = byte(v), byte(v>>8) }
func putU32(b []byte, off int, v uint32) {
	b[off], b[off+1], b[off+2], b[off+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}
func putU64(b []byte, off int, v uint64) {
	for i := 0; i < 8; i++ {
		b[off+i] = byte(v >> (8 * i))
	}
}
