package aarch64

import "github.com/xyproto/tpde/arch"

// DirectBranchRangeBytes/CondBranchRangeBytes are the largest displacement
// a B/BL or B.cond/CBZ/CBNZ immediate can reach (26 or 19 bits,
// word-scaled). PatchBranch checks a resolved displacement against these
// before committing to a direct patch, routing through EmitVeneer instead
// when a B.cond's target doesn't fit (spec.md §4.4 "out-of-range
// branch"). Grounded on
// original_source/tpde/include/tpde/arm64/CompilerA64.hpp, since the
// teacher's own ARM64 back-end has no veneer logic of its own — it simply
// never handles an out-of-range branch.
const (
	DirectBranchRangeBytes = 1 << 27 // B/BL: imm26 << 2, signed
	CondBranchRangeBytes   = 1 << 20 // B.cond/CBZ/CBNZ: imm19 << 2, signed
)

// EmitVeneer turns the NOP slot EmitCondBranch reserved at at into a
// direct, unconditional long branch to targetPos. Every offset here is
// relative to the text buffer, not a runtime address: this code never
// knows the final load address (ELF relocation or JIT mapping resolves
// that later), so unlike a linker's MOVZ/MOVK+BR veneer, which commits to
// an absolute target, this one is just a wide-range B — the same
// patchable-word shape PatchBranch already uses for every other branch.
func (b *Backend) EmitVeneer(w arch.CodeWriter, at, targetPos int) error {
	bp, ok := w.(bytePatcher)
	if !ok {
		return errNoPatcher
	}
	delta := int32(targetPos - at)
	if delta%4 != 0 {
		return errMisaligned
	}
	if delta < -DirectBranchRangeBytes || delta >= DirectBranchRangeBytes {
		return errBranchOutOfRange
	}
	imm26 := uint32(delta>>2) & 0x3ffffff
	patchWord(bp, at, 0x14000000|imm26)
	return nil
}
