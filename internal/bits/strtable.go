package bits

// StringTable is an append-only, deduplicated byte blob used to back ELF
// .strtab/.shstrtab sections and to intern symbol names. Grounded on the
// teacher's dynstrMap pattern in elf_sections.go, generalized into its own
// reusable type per original_source/tpde/include/tpde/StringTable.hpp.
type StringTable struct {
	data   []byte
	offset map[string]uint32
}

// NewStringTable creates a table whose first byte is the mandatory NUL
// entry (offset 0 means "no name" for ELF symbol/section names).
func NewStringTable() *StringTable {
	t := &StringTable{offset: make(map[string]uint32)}
	t.data = append(t.data, 0)
	t.offset[""] = 0
	return t
}

// Intern returns the byte offset of s within the table, appending it
// (NUL-terminated) if not already present.
func (t *StringTable) Intern(s string) uint32 {
	if off, ok := t.offset[s]; ok {
		return off
	}
	off := uint32(len(t.data))
	t.data = append(t.data, s...)
	t.data = append(t.data, 0)
	t.offset[s] = off
	return off
}

// Bytes returns the table's raw byte content, suitable for writing directly
// into a .strtab/.shstrtab section.
func (t *StringTable) Bytes() []byte { return t.data }

// Len reports the current size of the table in bytes.
func (t *StringTable) Len() int { return len(t.data) }
