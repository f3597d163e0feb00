package compiler_test

import (
	"fmt"

	"github.com/xyproto/tpde/adaptor"
	"github.com/xyproto/tpde/arch"
	"github.com/xyproto/tpde/internal/elfobj"
)

// fakeBackend is a tiny, architecture-agnostic stand-in for arch/x64 or
// arch/aarch64 used only to exercise the compiler core in isolation: each
// "instruction" is a one-byte tag plus raw operand bytes, just enough to
// round-trip through a *elfobj.TextWriter and let PatchBranch rewrite a
// previously-emitted displacement field.
type fakeBackend struct{}

const (
	tagMov byte = iota
	tagMovImm
	tagLoad
	tagStore
	tagLoadFrameAddr
	tagAddImm
	tagSubImm
	tagJump
	tagCondBranch
	tagCall
	tagPrologue
	tagEpilogue
	tagConst
)

func (fakeBackend) Name() string       { return "fake64" }
func (fakeBackend) ELFMachine() uint16 { return 0xfeed }
func (fakeBackend) PointerSize() int   { return 8 }

func (fakeBackend) AllocatableGP() []arch.Reg {
	regs := make([]arch.Reg, 6)
	for i := range regs {
		regs[i] = arch.Reg{Bank: adaptor.BankGP, ID: uint8(i)}
	}
	return regs
}

func (fakeBackend) AllocatableFP() []arch.Reg {
	regs := make([]arch.Reg, 4)
	for i := range regs {
		regs[i] = arch.Reg{Bank: adaptor.BankFP, ID: uint8(i)}
	}
	return regs
}

func (fakeBackend) FixedScratch() arch.Reg      { return arch.Reg{Bank: adaptor.BankGP, ID: 9} }
func (fakeBackend) FramePointer() arch.Reg      { return arch.Reg{Bank: adaptor.BankGP, ID: 8} }
func (fakeBackend) StackPointer() arch.Reg      { return arch.Reg{Bank: adaptor.BankGP, ID: 7} }
func (fakeBackend) ReturnAddressReg() uint8     { return 16 }

func (fakeBackend) NewCC(isVarArg bool) arch.CCAssigner { return &fakeCC{} }

func (fakeBackend) EmitMovRegReg(w arch.CodeWriter, dst, src arch.Reg, sizeBytes int) {
	w.EnsureSpace(4)
	w.Byte(tagMov)
	w.Byte(dst.ID)
	w.Byte(src.ID)
	w.Byte(byte(sizeBytes))
}

func (fakeBackend) EmitMovImmReg(w arch.CodeWriter, dst arch.Reg, imm uint64, sizeBytes int) {
	w.EnsureSpace(10)
	w.Byte(tagMovImm)
	w.Byte(dst.ID)
	w.U64(imm)
}

func (fakeBackend) EmitLoad(w arch.CodeWriter, dst, base arch.Reg, offset int32, sizeBytes int) {
	w.EnsureSpace(7)
	w.Byte(tagLoad)
	w.Byte(dst.ID)
	w.Byte(base.ID)
	w.U32(uint32(offset))
}

func (fakeBackend) EmitStore(w arch.CodeWriter, src, base arch.Reg, offset int32, sizeBytes int) {
	w.EnsureSpace(7)
	w.Byte(tagStore)
	w.Byte(src.ID)
	w.Byte(base.ID)
	w.U32(uint32(offset))
}

func (fakeBackend) EmitLoadFrameAddr(w arch.CodeWriter, dst arch.Reg, offset int32) {
	w.EnsureSpace(6)
	w.Byte(tagLoadFrameAddr)
	w.Byte(dst.ID)
	w.U32(uint32(offset))
}

func (fakeBackend) EmitAddImm(w arch.CodeWriter, dst arch.Reg, imm int64, sizeBytes int) {
	w.EnsureSpace(10)
	w.Byte(tagAddImm)
	w.Byte(dst.ID)
	w.U64(uint64(imm))
}

func (fakeBackend) EmitSubImm(w arch.CodeWriter, dst arch.Reg, imm int64, sizeBytes int) {
	w.EnsureSpace(10)
	w.Byte(tagSubImm)
	w.Byte(dst.ID)
	w.U64(uint64(imm))
}

func (fakeBackend) EmitJump(w arch.CodeWriter) int {
	w.EnsureSpace(5)
	w.Byte(tagJump)
	at := w.Pos()
	w.U32(0)
	return at
}

func (fakeBackend) EmitCondBranch(w arch.CodeWriter, cc arch.CondCode) int {
	w.EnsureSpace(5)
	w.Byte(tagCondBranch)
	at := w.Pos()
	w.U32(0)
	return at
}

func (fakeBackend) PatchBranch(w arch.CodeWriter, patchAt, targetPos int) error {
	tw, ok := w.(*elfobj.TextWriter)
	if !ok {
		return fmt.Errorf("fakeBackend: PatchBranch needs a *elfobj.TextWriter")
	}
	tw.PatchU32(patchAt, uint32(targetPos-patchAt-4))
	return nil
}

func (fakeBackend) EmitCall(w arch.CodeWriter, target arch.Reg) {
	w.EnsureSpace(2)
	w.Byte(tagCall)
	w.Byte(target.ID)
}

func (fakeBackend) EmitProloguePlaceholder(w arch.CodeWriter) int {
	pos := w.Pos()
	w.EnsureSpace(8)
	for i := 0; i < 8; i++ {
		w.Byte(tagPrologue)
	}
	return pos
}

func (fakeBackend) FinalizePrologue(w arch.CodeWriter, entryLabelPos int, info arch.PrologueInfo, cfi arch.CFIWriter) {
	tw, ok := w.(*elfobj.TextWriter)
	if !ok {
		return
	}
	tw.PatchU32(entryLabelPos, uint32(info.FrameSize))
}

func (fakeBackend) EmitEpilogue(w arch.CodeWriter, info arch.PrologueInfo) {
	w.EnsureSpace(1)
	w.Byte(tagEpilogue)
}

func (fakeBackend) EmitConstant(w arch.CodeWriter, dst arch.Reg, bits uint64, bank adaptor.RegBank, sizeBytes int) {
	w.EnsureSpace(10)
	w.Byte(tagConst)
	w.Byte(dst.ID)
	w.U64(bits)
}

// fakeCC is a minimal CCAssigner: the first 4 GP/FP values go in registers
// 0..3 of their bank, everything after spills to the stack.
type fakeCC struct {
	gpUsed, fpUsed int
	stackBytes     int
}

func (cc *fakeCC) NextArg(bank adaptor.RegBank, size int) arch.ArgLoc {
	if bank == adaptor.BankGP && cc.gpUsed < 4 {
		r := arch.Reg{Bank: bank, ID: uint8(cc.gpUsed)}
		cc.gpUsed++
		return arch.ArgLoc{InReg: true, Reg: r}
	}
	if bank == adaptor.BankFP && cc.fpUsed < 4 {
		r := arch.Reg{Bank: bank, ID: uint8(cc.fpUsed)}
		cc.fpUsed++
		return arch.ArgLoc{InReg: true, Reg: r}
	}
	off := cc.stackBytes
	cc.stackBytes += size
	return arch.ArgLoc{InReg: false, StackBytes: size, Offset: off}
}

func (cc *fakeCC) Return(bank adaptor.RegBank, size int) arch.ArgLoc {
	return arch.ArgLoc{InReg: true, Reg: arch.Reg{Bank: bank, ID: 0}}
}

func (cc *fakeCC) CallerSaved() []arch.Reg {
	return []arch.Reg{{Bank: adaptor.BankGP, ID: 0}, {Bank: adaptor.BankGP, ID: 1}, {Bank: adaptor.BankGP, ID: 2}}
}

func (cc *fakeCC) CalleeSaved() []arch.Reg {
	return []arch.Reg{{Bank: adaptor.BankGP, ID: 4}, {Bank: adaptor.BankGP, ID: 5}}
}

func (cc *fakeCC) StackAlignment() int { return 16 }
func (cc *fakeCC) ShadowSpace() int    { return 0 }
