package regfile

import "github.com/xyproto/tpde/internal/bits"

// Bank is one register file's bitset group: allocatable registers, which
// are currently used, which are permanently fixed (never considered by
// the free-register search), and which were clobbered by a call and must
// be restored in the epilogue if callee-saved (spec.md §4.4 "register
// file"). Grounded on the teacher's register_tracker.go in/reserved
// bitmaps, generalized from a fixed x86-64 string-keyed map to a
// bank-generic bitset-keyed file built on internal/bits.BitSet.
type Bank struct {
	numRegs     int
	allocatable *bits.BitSet
	used        *bits.BitSet
	fixed       *bits.BitSet
	clobbered   *bits.BitSet
	owner       []AssignmentID // owner[reg] = assignment currently holding it, or invalid
	partIdx     []int          // owner[reg]'s part index
}

// NewBank creates a bank with numRegs dense register ids, with
// allocatableIDs marked as available for allocation (registers outside
// that set — stack/frame pointer, permanent scratch — are implicitly
// fixed and never returned by Alloc).
func NewBank(numRegs int, allocatableIDs []uint8) *Bank {
	b := &Bank{
		numRegs:     numRegs,
		allocatable: bits.NewBitSet(numRegs),
		used:        bits.NewBitSet(numRegs),
		fixed:       bits.NewBitSet(numRegs),
		clobbered:   bits.NewBitSet(numRegs),
		owner:       make([]AssignmentID, numRegs),
		partIdx:     make([]int, numRegs),
	}
	for i := range b.owner {
		b.owner[i] = invalidAssignment
	}
	for _, id := range allocatableIDs {
		b.allocatable.Set(int(id))
	}
	return b
}

// Reset clears used/clobbered/owner state for the next function, keeping
// the allocatable set (a property of the architecture, not the function).
func (b *Bank) Reset() {
	b.used.ClearAll()
	b.fixed.ClearAll()
	b.clobbered.ClearAll()
	for i := range b.owner {
		b.owner[i] = invalidAssignment
	}
}

// AllocAny picks any free allocatable register, preferring the lowest id
// (a simple, deterministic policy; spec.md §4.4 leaves the search order
// unspecified beyond "prefer a register not holding a live value").
func (b *Bank) AllocAny() (reg uint8, ok bool) {
	free := bits.NewBitSet(b.numRegs)
	free.Or(b.allocatable)
	free.AndNot(b.used)
	free.AndNot(b.fixed)
	r := free.NextSet(0)
	if r < 0 {
		return 0, false
	}
	b.used.Set(r)
	return uint8(r), true
}

// AllocFixed reserves a specific register for a fixed assignment (e.g. a
// call argument that must land in a particular ABI register), failing if
// it's already in use by something else.
func (b *Bank) AllocFixed(reg uint8) bool {
	if b.used.Test(int(reg)) {
		return false
	}
	b.used.Set(int(reg))
	b.fixed.Set(int(reg))
	return true
}

// ReserveFixed unconditionally marks reg as both used and fixed,
// regardless of its prior state — used once the caller has already
// picked a specific register (via IsFree, AllocAny, or eviction) and just
// needs the bookkeeping updated.
func (b *Bank) ReserveFixed(reg uint8) {
	b.used.Set(int(reg))
	b.fixed.Set(int(reg))
}

// Free releases reg back to the pool.
func (b *Bank) Free(reg uint8) {
	b.used.Clear(int(reg))
	b.fixed.Clear(int(reg))
	b.owner[reg] = invalidAssignment
}

// SetOwner records that reg now holds part partIdx of assignment id, for
// eviction lookups when a caller needs that specific register.
func (b *Bank) SetOwner(reg uint8, id AssignmentID, partIdx int) {
	b.owner[reg] = id
	b.partIdx[reg] = partIdx
}

// Owner returns the assignment currently holding reg, if any.
func (b *Bank) Owner(reg uint8) (AssignmentID, int, bool) {
	id := b.owner[reg]
	if id == invalidAssignment {
		return 0, 0, false
	}
	return id, b.partIdx[reg], true
}

// MarkClobbered flags reg as clobbered by a call, so the prologue/epilogue
// synthesizer knows to save/restore it if it's callee-saved
// (arch.PrologueInfo.ClobberedCallee).
func (b *Bank) MarkClobbered(reg uint8) { b.clobbered.Set(int(reg)) }

// Clobbered returns every register marked clobbered this function.
func (b *Bank) Clobbered() []uint8 {
	var out []uint8
	for r := b.clobbered.NextSet(0); r >= 0; r = b.clobbered.NextSet(r + 1) {
		out = append(out, uint8(r))
	}
	return out
}

// IsFree reports whether reg currently holds no value and isn't fixed.
func (b *Bank) IsFree(reg uint8) bool {
	return !b.used.Test(int(reg)) && !b.fixed.Test(int(reg))
}

// IsFixed reports whether reg is pinned by a fixed assignment (AllocFixed
// or ReserveFixed) and so must never be picked as an eviction candidate.
func (b *Bank) IsFixed(reg uint8) bool {
	return b.fixed.Test(int(reg))
}

// File is the complete per-function register state: one Bank per
// register bank (GP, FP), keyed by adaptor.RegBank.
type File struct {
	Banks map[uint8]*Bank
}

// NewFile builds a file from bank specs, keyed by the RegBank values the
// caller passes in (GP, FP).
func NewFile() *File { return &File{Banks: make(map[uint8]*Bank)} }

// AddBank registers a new bank under key (typically adaptor.BankGP or
// adaptor.BankFP).
func (f *File) AddBank(key uint8, b *Bank) { f.Banks[key] = b }

// Bank returns the bank registered under key.
func (f *File) Bank(key uint8) *Bank { return f.Banks[key] }

// Reset clears every bank's per-function state.
func (f *File) Reset() {
	for _, b := range f.Banks {
		b.Reset()
	}
}
