package x64

import (
	"github.com/xyproto/tpde/adaptor"
	"github.com/xyproto/tpde/arch"
)

// Backend is the arch.Backend implementation for x86-64. Instruction
// encoding is grounded on the teacher's per-mnemonic files; the choice
// between SysV and Win64 calling conventions is made by the caller via
// NewSysVBackend/NewWin64Backend, matching the teacher's calling_convention.go
// split between SystemVAMD64 and MicrosoftX64.
type Backend struct {
	win64 bool
}

// NewSysVBackend returns the System V AMD64 back-end (Linux/BSD/macOS ABI).
func NewSysVBackend() *Backend { return &Backend{win64: false} }

// NewWin64Backend returns the Microsoft x64 back-end.
func NewWin64Backend() *Backend { return &Backend{win64: true} }

func (b *Backend) Name() string {
	if b.win64 {
		return "x86_64-win64"
	}
	return "x86_64-sysv"
}

const emMachineX8664 = 62 // EM_X86_64

func (b *Backend) ELFMachine() uint16 { return emMachineX8664 }
func (b *Backend) PointerSize() int   { return 8 }

// AllocatableGP excludes rsp (stack pointer) and rbp (frame pointer); every
// other GP register, including r8-r15, is available to the allocator.
func (b *Backend) AllocatableGP() []arch.Reg {
	ids := []uint8{RAX, RCX, RDX, RBX, RSI, RDI, R8, R9, R10, R11, R12, R13, R14, R15}
	regs := make([]arch.Reg, len(ids))
	for i, id := range ids {
		regs[i] = arch.Reg{Bank: bankGP, ID: id}
	}
	return regs
}

func (b *Backend) AllocatableFP() []arch.Reg {
	regs := make([]arch.Reg, 16)
	for i := range regs {
		regs[i] = arch.Reg{Bank: bankFP, ID: uint8(i)}
	}
	return regs
}

// FixedScratch is invalid: x64 reserves no permanent scratch register the
// way AArch64 reserves x16, so the compiler core must fall back to
// spill-and-reuse when it needs a throwaway register here.
func (b *Backend) FixedScratch() arch.Reg  { return arch.InvalidReg }
func (b *Backend) FramePointer() arch.Reg  { return arch.Reg{Bank: bankGP, ID: RBP} }
func (b *Backend) StackPointer() arch.Reg  { return arch.Reg{Bank: bankGP, ID: RSP} }
func (b *Backend) ReturnAddressReg() uint8 { return 16 } // DWARF x86-64 RA column

func (b *Backend) NewCC(isVarArg bool) arch.CCAssigner {
	if b.win64 {
		return NewWin64(isVarArg)
	}
	return NewSysV(isVarArg)
}

// EmitMovRegReg emits MOV r/m64,r64 (opcode 0x89) for GP registers, or
// MOVSD xmm,xmm (F2 0F 10 /r) when either side is in the FP bank.
// Grounded on the teacher's mov.go.
func (b *Backend) EmitMovRegReg(w arch.CodeWriter, dst, src arch.Reg, sizeBytes int) {
	if dst.Bank == bankFP || src.Bank == bankFP {
		w.EnsureSpace(5)
		w.Byte(0xF2)
		if needsRex(dst.ID, src.ID) {
			w.Byte(rex(false, dst.ID >= 8, false, src.ID >= 8))
		}
		w.Byte(0x0F)
		w.Byte(0x10)
		w.Byte(modrmReg(dst.ID, src.ID))
		return
	}
	w.EnsureSpace(4)
	w.Byte(rex(sizeBytes == 8, src.ID >= 8, false, dst.ID >= 8))
	w.Byte(0x89)
	w.Byte(modrmReg(src.ID, dst.ID))
}

// EmitMovImmReg emits MOVABS r64,imm64 (REX.W+0xB8+reg) for GP registers
// needing the full 64-bit immediate, or MOV r32,imm32 (0xB8+reg, no REX.W)
// for 32-bit-or-narrower constants since that form also zero-extends the
// upper 32 bits. FP immediates go through EmitConstant instead, since a
// literal bit pattern can't be MOV'd directly into an xmm register.
// Grounded on mov.go's immediate-load forms.
func (b *Backend) EmitMovImmReg(w arch.CodeWriter, dst arch.Reg, imm uint64, sizeBytes int) {
	w.EnsureSpace(10)
	if sizeBytes == 8 && imm > 0xFFFFFFFF {
		w.Byte(rex(true, false, false, dst.ID >= 8))
		w.Byte(0xB8 + dst.ID&7)
		w.U64(imm)
		return
	}
	if dst.ID >= 8 {
		w.Byte(rex(false, false, false, true))
	}
	w.Byte(0xB8 + dst.ID&7)
	w.U32(uint32(imm))
}

// EmitLoad emits MOV r64,r/m64 (0x8B) for GP, or MOVSD xmm,m64 (F2 0F 10
// /r) for FP. Grounded on mem_ops.go.
func (b *Backend) EmitLoad(w arch.CodeWriter, dst, base arch.Reg, offset int32, sizeBytes int) {
	w.EnsureSpace(9)
	if dst.Bank == bankFP {
		w.Byte(0xF2)
		if needsRex(dst.ID, base.ID) {
			w.Byte(rex(false, dst.ID >= 8, false, base.ID >= 8))
		}
		w.Byte(0x0F)
		w.Byte(0x10)
		emitMem(w, dst.ID, base.ID, offset)
		return
	}
	w.Byte(rex(sizeBytes == 8, dst.ID >= 8, false, base.ID >= 8))
	w.Byte(0x8B)
	emitMem(w, dst.ID, base.ID, offset)
}

// EmitStore emits MOV r/m64,r64 (0x89) for GP, or MOVSD m64,xmm (F2 0F 11
// /r) for FP. Grounded on mem_ops.go.
func (b *Backend) EmitStore(w arch.CodeWriter, src, base arch.Reg, offset int32, sizeBytes int) {
	w.EnsureSpace(9)
	if src.Bank == bankFP {
		w.Byte(0xF2)
		if needsRex(src.ID, base.ID) {
			w.Byte(rex(false, src.ID >= 8, false, base.ID >= 8))
		}
		w.Byte(0x0F)
		w.Byte(0x11)
		emitMem(w, src.ID, base.ID, offset)
		return
	}
	w.Byte(rex(sizeBytes == 8, src.ID >= 8, false, base.ID >= 8))
	w.Byte(0x89)
	emitMem(w, src.ID, base.ID, offset)
}

// EmitLoadFrameAddr emits LEA r64,[rbp+offset] (0x8D /r). Grounded on
// lea.go.
func (b *Backend) EmitLoadFrameAddr(w arch.CodeWriter, dst arch.Reg, offset int32) {
	w.EnsureSpace(8)
	w.Byte(rex(true, dst.ID >= 8, false, false))
	w.Byte(0x8D)
	emitMem(w, dst.ID, RBP, offset)
}

// EmitAddImm emits ADD r/m64,imm32 (REX.W+0x81 /0), or the imm8 form
// (0x83 /0) when the immediate fits a signed byte. Grounded on add.go.
func (b *Backend) EmitAddImm(w arch.CodeWriter, dst arch.Reg, imm int64, sizeBytes int) {
	emitGroup1(w, 0 /* /0 = ADD */, dst, imm, sizeBytes)
}

// EmitSubImm emits SUB r/m64,imm32/imm8 (/5), the same group-1 opcode
// family as ADD with a different ModR/M reg-field extension. Grounded on
// sub.go.
func (b *Backend) EmitSubImm(w arch.CodeWriter, dst arch.Reg, imm int64, sizeBytes int) {
	emitGroup1(w, 5 /* /5 = SUB */, dst, imm, sizeBytes)
}

func emitGroup1(w arch.CodeWriter, ext uint8, dst arch.Reg, imm int64, sizeBytes int) {
	w.EnsureSpace(7)
	w.Byte(rex(sizeBytes == 8, false, false, dst.ID >= 8))
	if imm >= -128 && imm <= 127 {
		w.Byte(0x83)
		w.Byte(modrmReg(ext, dst.ID))
		w.Byte(byte(int8(imm)))
		return
	}
	w.Byte(0x81)
	w.Byte(modrmReg(ext, dst.ID))
	w.U32(uint32(int32(imm)))
}

// jccOpcode is the second opcode byte of the two-byte Jcc rel32 form
// (0F 8x), indexed by arch.CondCode. Grounded on jmp.go's condition table.
var jccOpcode = [...]byte{
	arch.CondEQ:  0x84,
	arch.CondNE:  0x85,
	arch.CondLT:  0x8C,
	arch.CondLE:  0x8E,
	arch.CondGT:  0x8F,
	arch.CondGE:  0x8D,
	arch.CondULT: 0x82,
	arch.CondULE: 0x86,
	arch.CondUGT: 0x87,
	arch.CondUGE: 0x83,
}

// EmitJump emits JMP rel32 (0xE9) and returns the displacement field's
// offset so the caller can patch it once the target is known.
func (b *Backend) EmitJump(w arch.CodeWriter) int {
	w.EnsureSpace(5)
	w.Byte(0xE9)
	at := w.Pos()
	w.U32(0)
	return at
}

// EmitCondBranch emits Jcc rel32 (0F 8x). Grounded on jmp.go.
func (b *Backend) EmitCondBranch(w arch.CodeWriter, cc arch.CondCode) int {
	w.EnsureSpace(6)
	w.Byte(0x0F)
	w.Byte(jccOpcode[cc])
	at := w.Pos()
	w.U32(0)
	return at
}

// PatchBranch overwrites a previously emitted rel32 displacement field
// with the distance from just after the field to the resolved target.
func (b *Backend) PatchBranch(w arch.CodeWriter, patchAt, targetPos int) error {
	tw, ok := w.(interface{ PatchU32(int, uint32) })
	if !ok {
		return errNoPatcher
	}
	tw.PatchU32(patchAt, uint32(int32(targetPos-patchAt-4)))
	return nil
}

// EmitCall emits CALL r/m64 indirect through a register (REX.W + 0xFF /2).
// Direct rel32 calls to a not-yet-placed symbol would need a relocation
// the arch.CodeWriter interface has no room for, so every call in this
// backend goes through a register the caller has already loaded the
// target into. Grounded on call.go.
func (b *Backend) EmitCall(w arch.CodeWriter, target arch.Reg) {
	w.EnsureSpace(3)
	if target.ID >= 8 {
		w.Byte(rex(true, false, false, true))
	} else {
		w.Byte(rex(true, false, false, false))
	}
	w.Byte(0xFF)
	w.Byte(modrmReg(2, target.ID))
}

var errNoPatcher = patchErr("x64: PatchBranch needs a writer exposing PatchU32")

type patchErr string

func (e patchErr) Error() string { return string(e) }

// EmitConstant materializes a GP constant via EmitMovImmReg. For an FP
// constant there is no direct "load immediate into xmm" instruction and
// arch.CodeWriter exposes no .rodata/symbol surface to load from, so the
// bit pattern is staged through the 128-byte SysV red zone below rsp (safe
// scratch space a leaf sequence can use without clobbering anything, since
// nothing async can legitimately write below rsp) and then loaded with
// MOVSD: two 32-bit immediate stores build the pattern in memory, then a
// single MOVSD xmm,m64 pulls it into place.
func (b *Backend) EmitConstant(w arch.CodeWriter, dst arch.Reg, bits uint64, bank adaptor.RegBank, sizeBytes int) {
	if bank != bankFP {
		w.EnsureSpace(10)
		w.Byte(rex(sizeBytes == 8, false, false, dst.ID >= 8))
		w.Byte(0xB8 + dst.ID&7)
		if sizeBytes == 8 {
			w.U64(bits)
		} else {
			w.U32(uint32(bits))
		}
		return
	}
	const redZoneOff = -16 // stays within the 128-byte red zone, 8-byte aligned
	emitStoreImm32ToRSPOffset(w, redZoneOff, uint32(bits))
	emitStoreImm32ToRSPOffset(w, redZoneOff+4, uint32(bits>>32))
	w.EnsureSpace(9)
	w.Byte(0xF2)
	if dst.ID >= 8 {
		w.Byte(rex(false, dst.ID >= 8, false, false))
	}
	w.Byte(0x0F)
	w.Byte(0x10)
	emitMem(w, dst.ID, RSP, redZoneOff)
}

// emitStoreImm32ToRSPOffset emits MOV dword [rsp+off],imm32 (0xC7 /0),
// used only to stage a floating-point bit pattern in the red zone.
func emitStoreImm32ToRSPOffset(w arch.CodeWriter, off int32, imm uint32) {
	w.EnsureSpace(9)
	w.Byte(0xC7)
	emitMem(w, 0, RSP, off)
	w.U32(imm)
}
