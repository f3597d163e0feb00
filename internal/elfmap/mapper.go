// Package elfmap JIT-maps an in-progress internal/elfobj.Assembler image
// directly into process memory instead of writing it to disk and relying
// on the system loader, grounded on
// original_source/tpde/include/tpde/ElfMapper.hpp (the teacher repo has
// no analogous in-memory loader — its elf_dynamic.go/plt_got.go only
// target the on-disk dynamic-linking format, which this package adapts
// for a single anonymous mmap region resolved eagerly at map time).
package elfmap

import (
	"fmt"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/xyproto/tpde/internal/elfobj"
)

const pageSize = 4096

// SymbolResolver answers external symbol lookups (library imports,
// host-provided intrinsics) the mapper cannot resolve from its own
// section set. It returns ok=false for a name it cannot place, which
// aborts the map.
type SymbolResolver func(name string) (addr uintptr, ok bool)

// FrameRegistrar is an optional hook for registering the mapped
// .eh_frame with an unwinder. Go's runtime has no built-in
// __register_frame equivalent and wiring libgcc/libunwind requires cgo,
// which is out of scope here (spec.md §9 Open Questions); embedders that
// need unwind support across this boundary supply their own cgo-backed
// registrar.
type FrameRegistrar func(ehFrameAddr uintptr, length int)

// Mapper owns the lifecycle of one mapped image: at most one successful
// Map call, followed by exactly one Close.
type Mapper struct {
	asm      *elfobj.Assembler
	resolve  SymbolResolver
	register FrameRegistrar

	mapped   []byte
	mappedAt uintptr
	didMap   bool
	closed   bool

	sectionAddr map[elfobj.SectionIndex]uintptr
	thunkName   []string
	thunkOffset []int
}

// NewMapper builds a mapper for asm's current section/symbol/relocation
// state. asm must not be mutated after this call.
func NewMapper(asm *elfobj.Assembler, resolve SymbolResolver, register FrameRegistrar) *Mapper {
	return &Mapper{asm: asm, resolve: resolve, register: register}
}

type secCategory int

const (
	catExec secCategory = iota
	catROData
	catRWData
	catBSS
	catCount
)

type placedSection struct {
	idx      elfobj.SectionIndex
	cat      secCategory
	size     int
	align    int
	data     []byte
	isStub   bool
}

// Image is a successfully mapped, executable object. Close unmaps it.
type Image struct {
	base  uintptr
	size  int
	funcs map[string]uintptr
}

// FuncAddr returns the mapped address of a defined global symbol, or
// false if name was never defined in the image.
func (im *Image) FuncAddr(name string) (uintptr, bool) {
	a, ok := im.funcs[name]
	return a, ok
}

// Base returns the image's mapping base address.
func (im *Image) Base() uintptr { return im.base }

func (im *Image) Close() error {
	return unix.Munmap(unsafeSlice(im.base, im.size))
}

// Map performs the single mmap + relocate + mprotect sequence. Calling it
// twice on the same Mapper returns an error; a failure midway (unresolved
// symbol, out-of-range relocation with no stub slot) unmaps whatever was
// reserved so far before returning, leaving the process with no dangling
// mapping (spec.md §4.3 "at-most-once ... unwinds on failure").
func (m *Mapper) Map() (*Image, error) {
	if m.didMap {
		return nil, fmt.Errorf("elfmap: Map called more than once on this Mapper")
	}
	m.didMap = true

	placed, stubBytes, err := m.planLayout()
	if err != nil {
		return nil, err
	}

	total := 0
	starts := make([]int, len(placed))
	catEnd := make([]int, catCount)
	groups := groupByCategory(placed)
	cursor := 0
	for cat := secCategory(0); cat < catCount; cat++ {
		if len(groups[cat]) > 0 {
			cursor = alignUp(cursor, pageSize)
			for _, pi := range groups[cat] {
				cursor = alignUp(cursor, placed[pi].align)
				starts[pi] = cursor
				cursor += placed[pi].size
			}
			cursor = alignUp(cursor, pageSize)
		}
		catEnd[cat] = cursor
	}
	total = cursor
	stubsOff := total
	total += len(stubBytes)
	total = alignUp(total, pageSize)

	mem, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("elfmap: mmap: %w", err)
	}
	m.mapped = mem
	base := sliceAddr(mem)
	m.mappedAt = base

	m.sectionAddr = make(map[elfobj.SectionIndex]uintptr, len(placed))
	for i, p := range placed {
		if p.isStub {
			continue
		}
		addr := base + uintptr(starts[i])
		m.sectionAddr[p.idx] = addr
		copy(mem[starts[i]:], p.data)
	}
	copy(mem[stubsOff:], stubBytes)

	if err := m.resolveSymbols(base, placed, starts, stubsOff); err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	if err := m.applyRelocations(mem, base, stubsOff); err != nil {
		unix.Munmap(mem)
		return nil, err
	}

	for cat := secCategory(0); cat < catCount; cat++ {
		if len(groups[cat]) == 0 {
			continue
		}
		start := 0
		if cat > 0 {
			start = catEnd[cat-1]
		}
		start = alignUp(start, pageSize)
		end := alignUp(catEnd[cat], pageSize)
		if end <= start {
			continue
		}
		if err := unix.Mprotect(mem[start:end], protFor(cat)); err != nil {
			unix.Munmap(mem)
			return nil, fmt.Errorf("elfmap: mprotect %v: %w", cat, err)
		}
	}
	// Stub region is always executable+readable.
	stubStart := alignUp(stubsOff, pageSize)
	if len(stubBytes) > 0 {
		if err := unix.Mprotect(mem[stubStart:total], unix.PROT_READ|unix.PROT_EXEC); err != nil {
			unix.Munmap(mem)
			return nil, fmt.Errorf("elfmap: mprotect stubs: %w", err)
		}
	}

	if eh, ok := m.asm.SectionByName(".eh_frame"); ok {
		if addr, ok := m.sectionAddr[eh]; ok && m.register != nil {
			m.register(addr, len(m.asm.Section(eh).Data))
		}
	}

	im := &Image{base: base, size: total, funcs: m.publicFuncs()}
	return im, nil
}

func protFor(cat secCategory) int {
	switch cat {
	case catExec:
		return unix.PROT_READ | unix.PROT_EXEC
	case catROData:
		return unix.PROT_READ
	default:
		return unix.PROT_READ | unix.PROT_WRITE
	}
}

func alignUp(v, align int) int {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

func groupByCategory(placed []placedSection) [catCount][]int {
	var out [catCount][]int
	idxs := make([]int, len(placed))
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(i, j int) bool { return placed[idxs[i]].cat < placed[idxs[j]].cat })
	for _, i := range idxs {
		out[placed[i].cat] = append(out[placed[i].cat], i)
	}
	return out
}
