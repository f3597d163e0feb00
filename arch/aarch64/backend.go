package aarch64

import (
	"github.com/xyproto/tpde/adaptor"
	"github.com/xyproto/tpde/arch"
)

// Backend is the arch.Backend implementation for AArch64/AAPCS64.
// Instructions are fixed-width 32-bit words emitted little-endian,
// exactly as the teacher's arm64_instructions.go ARM64Out.encodeInstr
// does.
type Backend struct{}

func NewBackend() *Backend { return &Backend{} }

func (b *Backend) Name() string { return "aarch64" }

const emMachineAArch64 = 183 // EM_AARCH64

func (b *Backend) ELFMachine() uint16 { return emMachineAArch64 }
func (b *Backend) PointerSize() int   { return 8 }

// AllocatableGP excludes sp (encoding slot, never a value register), x29
// (frame pointer), x30 (link register), x18 (platform register, reserved
// per AAPCS64) and the x16/x17 scratch pair (x16 is this backend's
// FixedScratch), but otherwise spans the full bank.
func (b *Backend) AllocatableGP() []arch.Reg {
	var regs []arch.Reg
	for id := uint8(0); id <= 28; id++ {
		if id == X18 || id == X16 || id == X17 {
			continue
		}
		regs = append(regs, arch.Reg{Bank: bankGP, ID: id})
	}
	return regs
}

func (b *Backend) AllocatableFP() []arch.Reg {
	regs := make([]arch.Reg, 32)
	for i := range regs {
		regs[i] = arch.Reg{Bank: bankFP, ID: uint8(i)}
	}
	return regs
}

// FixedScratch is x16 (IP0), the intra-procedure-call scratch register
// AAPCS64 sets aside for linker veneers and large-immediate materialization
// — the same role spec.md's interface doc assigns it ("x16 on AArch64").
func (b *Backend) FixedScratch() arch.Reg  { return arch.Reg{Bank: bankGP, ID: X16} }
func (b *Backend) FramePointer() arch.Reg  { return arch.Reg{Bank: bankGP, ID: X29} }
func (b *Backend) StackPointer() arch.Reg  { return arch.Reg{Bank: bankGP, ID: SP} }
func (b *Backend) ReturnAddressReg() uint8 { return 30 } // DWARF reg 30 = x30/lr

func (b *Backend) NewCC(isVarArg bool) arch.CCAssigner { return NewAAPCS64(isVarArg) }

func emit(w arch.CodeWriter, instr uint32) {
	w.EnsureSpace(4)
	w.U32(instr)
}

// EmitMovRegReg emits MOV Xd,Xn (alias for ORR Xd,XZR,Xn: 0xAA0003E0 |
// rm<<16 | rd) for GP, or FMOV Dd,Dn (0x1E604000 | rn<<5 | rd) for FP.
// Grounded on arm64_instructions.go's MovReg64.
func (b *Backend) EmitMovRegReg(w arch.CodeWriter, dst, src arch.Reg, sizeBytes int) {
	if dst.Bank == bankFP {
		emit(w, 0x1E604000|uint32(src.ID)<<5|uint32(dst.ID))
		return
	}
	emit(w, 0xAA0003E0|uint32(src.ID)<<16|uint32(dst.ID))
}

// EmitMovImmReg emits MOVZ followed by MOVK for each non-zero 16-bit
// chunk, exactly as arm64_instructions.go's MovImm64 does.
func (b *Backend) EmitMovImmReg(w arch.CodeWriter, dst arch.Reg, imm uint64, sizeBytes int) {
	emit(w, 0xD2800000|uint32(imm&0xffff)<<5|uint32(dst.ID))
	if v := (imm >> 16) & 0xffff; v != 0 {
		emit(w, 0xF2A00000|uint32(v)<<5|uint32(dst.ID))
	}
	if sizeBytes <= 4 {
		return
	}
	if v := (imm >> 32) & 0xffff; v != 0 {
		emit(w, 0xF2C00000|uint32(v)<<5|uint32(dst.ID))
	}
	if v := (imm >> 48) & 0xffff; v != 0 {
		emit(w, 0xF2E00000|uint32(v)<<5|uint32(dst.ID))
	}
}

// EmitLoad emits LDR Xt,[Xn,#off] (scaled unsigned, 0xF9400000) when the
// offset is a non-negative multiple of 8 within range, LDUR (unscaled,
// 0xF8400000) for a small negative or unaligned offset, or LDR
// (FP/SIMD, 0xFD400000) when the destination is in the FP bank. Grounded
// on arm64_instructions.go's LdrImm64/LdrImm64Double.
func (b *Backend) EmitLoad(w arch.CodeWriter, dst, base arch.Reg, offset int32, sizeBytes int) {
	fp := dst.Bank == bankFP
	emitLoadStore(w, dst.ID, base.ID, offset, fp, true)
}

// EmitStore is EmitLoad's mirror (STR/STUR, 0xF9000000/0xF8000000, or the
// FP forms 0xFD000000/0xFC000000).
func (b *Backend) EmitStore(w arch.CodeWriter, src, base arch.Reg, offset int32, sizeBytes int) {
	fp := src.Bank == bankFP
	emitLoadStore(w, src.ID, base.ID, offset, fp, false)
}

func emitLoadStore(w arch.CodeWriter, rt, rn uint8, offset int32, fp, isLoad bool) {
	if offset < 0 || offset%8 != 0 || offset >= (1<<12)*8 {
		// STUR/LDUR: unscaled signed 9-bit immediate.
		var base uint32
		switch {
		case isLoad && !fp:
			base = 0xF8400000
		case isLoad && fp:
			base = 0xFC400000
		case !isLoad && !fp:
			base = 0xF8000000
		default:
			base = 0xFC000000
		}
		imm9 := uint32(offset) & 0x1ff
		emit(w, base|imm9<<12|uint32(rn)<<5|uint32(rt))
		return
	}
	var base uint32
	switch {
	case isLoad && !fp:
		base = 0xF9400000
	case isLoad && fp:
		base = 0xFD400000
	case !isLoad && !fp:
		base = 0xF9000000
	default:
		base = 0xFD000000
	}
	imm12 := uint32(offset / 8)
	emit(w, base|imm12<<10|uint32(rn)<<5|uint32(rt))
}

// EmitLoadFrameAddr emits ADD Xd,X29,#off (0x91000000), the register-
// offset-from-fp address computation add.go's ARM64 counterpart,
// AddImm64, performs directly.
func (b *Backend) EmitLoadFrameAddr(w arch.CodeWriter, dst arch.Reg, offset int32) {
	if offset < 0 {
		emit(w, 0xD1000000|uint32(-offset)<<10|uint32(X29)<<5|uint32(dst.ID))
		return
	}
	emit(w, 0x91000000|uint32(offset)<<10|uint32(X29)<<5|uint32(dst.ID))
}

// EmitAddImm/EmitSubImm emit ADD/SUB Xd,Xd,#imm (0x91000000/0xD1000000),
// grounded on arm64_instructions.go's AddImm64/SubImm64. A 12-bit unsigned
// immediate covers every frame-size adjustment and small constant bump
// this backend needs to emit on its own; a negative operand is folded
// into the opposite instruction.
func (b *Backend) EmitAddImm(w arch.CodeWriter, dst arch.Reg, imm int64, sizeBytes int) {
	if imm < 0 {
		emit(w, 0xD1000000|uint32(-imm)<<10|uint32(dst.ID)<<5|uint32(dst.ID))
		return
	}
	emit(w, 0x91000000|uint32(imm)<<10|uint32(dst.ID)<<5|uint32(dst.ID))
}

func (b *Backend) EmitSubImm(w arch.CodeWriter, dst arch.Reg, imm int64, sizeBytes int) {
	if imm < 0 {
		emit(w, 0x91000000|uint32(-imm)<<10|uint32(dst.ID)<<5|uint32(dst.ID))
		return
	}
	emit(w, 0xD1000000|uint32(imm)<<10|uint32(dst.ID)<<5|uint32(dst.ID))
}

// condCodeMap translates an arch.CondCode into AArch64's 4-bit condition
// field, grounded on arm64_instructions.go's BranchCond condMap.
var condCodeMap = [...]uint32{
	arch.CondEQ:  0x0,
	arch.CondNE:  0x1,
	arch.CondLT:  0xb,
	arch.CondLE:  0xd,
	arch.CondGT:  0xc,
	arch.CondGE:  0xa,
	arch.CondULT: 0x3,
	arch.CondULE: 0x9,
	arch.CondUGT: 0x8,
	arch.CondUGE: 0x2,
}

// EmitJump emits B label (0x14000000) and returns the instruction's own
// offset, since the 26-bit immediate occupies the whole word rather than
// a separate trailing field — PatchBranch rewrites that same word.
func (b *Backend) EmitJump(w arch.CodeWriter) int {
	at := w.Pos()
	emit(w, 0x14000000)
	return at
}

// EmitCondBranch emits B.cond label (0x54000000 | cond) followed by a
// reserved NOP word: the veneer slot PatchBranch turns into a direct B
// when the resolved displacement doesn't fit the B.cond's 19-bit range
// (spec.md §4.4 "out-of-range branch"). Returns the B.cond's own offset,
// same as before — the slot is implicit at patchAt+4 and untouched by
// any caller that never goes out of range.
func (b *Backend) EmitCondBranch(w arch.CodeWriter, cc arch.CondCode) int {
	at := w.Pos()
	emit(w, 0x54000000|condCodeMap[cc])
	emit(w, nopInstr)
	return at
}

type bytePatcher interface {
	PatchBytes(offset int, data []byte)
	Bytes() []byte
}

// patchWord overwrites the 4 bytes at offset with word, little-endian.
func patchWord(bp bytePatcher, offset int, word uint32) {
	var out [4]byte
	out[0] = byte(word)
	out[1] = byte(word >> 8)
	out[2] = byte(word >> 16)
	out[3] = byte(word >> 24)
	bp.PatchBytes(offset, out[:])
}

// PatchBranch rewrites the displacement field of the B or B.cond
// instruction word already written at patchAt, preserving every other
// bit (the opcode, and for B.cond the condition field) — unlike x64's
// separate rel32 field, AArch64 branches encode their displacement
// inline in the one instruction word EmitJump/EmitCondBranch wrote, so
// the existing word has to be read back and the opcode bits (top 8 for
// B, top 8 for B.cond too, distinguished by bit 30) inspected to know
// which immediate width applies.
//
// A B.cond's target can end up further away than its 19-bit immediate
// reaches once the whole function is laid out (spec.md §4.4 "out-of-range
// branch"). When that happens this flips the condition (cond^1 is always
// its logical inverse for every code this backend emits) and retargets
// the B.cond to skip over the veneer slot EmitCondBranch reserved at
// patchAt+4, then turns that slot into a direct, unconditional long
// branch via EmitVeneer: not-taken becomes "skip the veneer, fall
// through as if the branch were never taken"; taken becomes "fall into
// the veneer, which jumps the full distance".
func (b *Backend) PatchBranch(w arch.CodeWriter, patchAt, targetPos int) error {
	bp, ok := w.(bytePatcher)
	if !ok {
		return errNoPatcher
	}
	buf := bp.Bytes()
	if patchAt+4 > len(buf) {
		return errMisaligned
	}
	word := uint32(buf[patchAt]) | uint32(buf[patchAt+1])<<8 | uint32(buf[patchAt+2])<<16 | uint32(buf[patchAt+3])<<24

	delta := int32(targetPos - patchAt)
	if delta%4 != 0 {
		return errMisaligned
	}

	isCondBranch := word&0xFF000000 == 0x54000000
	if isCondBranch {
		if delta >= -CondBranchRangeBytes && delta < CondBranchRangeBytes {
			imm19 := uint32(delta>>2) & 0x7ffff
			word = word&^(0x7ffff<<5) | imm19<<5
			patchWord(bp, patchAt, word)
			return nil
		}
		skipTo := patchAt + 8
		invCond := (word & 0xf) ^ 1
		imm19 := uint32(int32(skipTo-patchAt)>>2) & 0x7ffff
		word = word&^0xf | invCond
		word = word&^(0x7ffff<<5) | imm19<<5
		patchWord(bp, patchAt, word)
		return b.EmitVeneer(w, patchAt+4, targetPos)
	}

	if delta < -DirectBranchRangeBytes || delta >= DirectBranchRangeBytes {
		return errBranchOutOfRange
	}
	imm26 := uint32(delta>>2) & 0x3ffffff
	word = 0x14000000 | imm26
	patchWord(bp, patchAt, word)
	return nil
}

type aarch64Err string

func (e aarch64Err) Error() string { return string(e) }

const errNoPatcher = aarch64Err("aarch64: PatchBranch needs a writer exposing PatchBytes")
const errMisaligned = aarch64Err("aarch64: branch target not word-aligned")
const errBranchOutOfRange = aarch64Err("aarch64: branch target exceeds B/BL's 26-bit range")

// EmitCall emits BLR Xn (0xD63F0000 | rn<<5), the indirect-call
// counterpart to the teacher's Return (RET Xn, 0xD65F0000 | rn<<5) —
// the teacher's own per-mnemonic files never emit BLR, so this one
// instruction is derived directly from the AArch64 encoding rather than
// copied from a teacher source.
func (b *Backend) EmitCall(w arch.CodeWriter, target arch.Reg) {
	emit(w, 0xD63F0000|uint32(target.ID)<<5)
}

// EmitConstant materializes a GP constant via EmitMovImmReg's MOVZ/MOVK
// sequence, or an FP constant by first materializing its bit pattern into
// the fixed scratch register (x16) and then FMOV-ing it into the
// destination d-register (0x9E670000 | rn<<5 | rd) — AArch64 has no
// load-immediate-into-vector-register form, so GP-to-FP transfer is the
// only route, exactly as arm64_instructions.go's FmovGPToDouble performs
// it.
func (b *Backend) EmitConstant(w arch.CodeWriter, dst arch.Reg, bits uint64, bank adaptor.RegBank, sizeBytes int) {
	if bank != bankFP {
		b.EmitMovImmReg(w, dst, bits, sizeBytes)
		return
	}
	scratch := b.FixedScratch()
	b.EmitMovImmReg(w, scratch, bits, 8)
	emit(w, 0x9E670000|uint32(scratch.ID)<<5|uint32(dst.ID))
}
