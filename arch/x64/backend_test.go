package x64_test

import (
	"testing"

	"github.com/xyproto/tpde/adaptor"
	"github.com/xyproto/tpde/arch"
	"github.com/xyproto/tpde/arch/x64"
	"github.com/xyproto/tpde/internal/elfobj"
)

func reg(id uint8) arch.Reg { return arch.Reg{Bank: adaptor.BankGP, ID: id} }

func TestEmitMovRegRegEncoding(t *testing.T) {
	b := x64.NewSysVBackend()
	w := elfobj.NewTextWriter(16)
	b.EmitMovRegReg(w, reg(x64.RDI), reg(x64.RAX), 8)
	got := w.Bytes()
	// REX.W (0x48), MOV r/m64,r64 (0x89), ModR/M mod=11 reg=rax(000) rm=rdi(111)
	want := []byte{0x48, 0x89, 0xC7}
	if len(got) != len(want) {
		t.Fatalf("got %x want %x", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %x want %x", got, want)
		}
	}
}

func TestEmitMovRegRegHighRegsSetsRexRB(t *testing.T) {
	b := x64.NewSysVBackend()
	w := elfobj.NewTextWriter(16)
	b.EmitMovRegReg(w, reg(x64.R8), reg(x64.R9), 8)
	got := w.Bytes()
	// REX.W|R|B = 0x4D since both src (reg field, extended by R) and dst
	// (rm field, extended by B) are r8-r15.
	if got[0] != 0x4D {
		t.Fatalf("rex byte = %x, want 0x4d", got[0])
	}
}

func TestEmitJumpAndPatchBranch(t *testing.T) {
	b := x64.NewSysVBackend()
	w := elfobj.NewTextWriter(16)
	patchAt := b.EmitJump(w)
	target := w.Pos() + 10
	if err := b.PatchBranch(w, patchAt, target); err != nil {
		t.Fatalf("PatchBranch: %v", err)
	}
	got := w.Bytes()
	disp := int32(uint32(got[patchAt]) | uint32(got[patchAt+1])<<8 | uint32(got[patchAt+2])<<16 | uint32(got[patchAt+3])<<24)
	if int(disp) != target-patchAt-4 {
		t.Fatalf("disp = %d, want %d", disp, target-patchAt-4)
	}
}

func TestEmitLoadRbpZeroOffsetForcesDisp8(t *testing.T) {
	b := x64.NewSysVBackend()
	w := elfobj.NewTextWriter(16)
	b.EmitLoad(w, reg(x64.RAX), reg(x64.RBP), 0, 8)
	got := w.Bytes()
	// REX.W, 0x8B, ModR/M mod=01 reg=000 rm=101(rbp), disp8=0x00 — mod=00
	// would collide with RIP-relative addressing for rbp/r13.
	if len(got) != 4 {
		t.Fatalf("got %d bytes, want 4: %x", len(got), got)
	}
	if got[2]&0xC0 != 0x40 {
		t.Fatalf("mod field = %#x, want disp8 (0x40)", got[2]&0xC0)
	}
}

func TestEmitLoadRspBaseEmitsSIB(t *testing.T) {
	b := x64.NewSysVBackend()
	w := elfobj.NewTextWriter(16)
	b.EmitLoad(w, reg(x64.RAX), reg(x64.RSP), 8, 8)
	got := w.Bytes()
	if len(got) != 5 {
		t.Fatalf("got %d bytes, want 5 (rex,opcode,modrm,sib,disp8): %x", len(got), got)
	}
	if got[3] != 0x24 {
		t.Fatalf("sib byte = %#x, want 0x24", got[3])
	}
}

func TestEmitAddImmChoosesShortFormForSmallImmediate(t *testing.T) {
	b := x64.NewSysVBackend()
	w := elfobj.NewTextWriter(16)
	b.EmitAddImm(w, reg(x64.RAX), 5, 8)
	got := w.Bytes()
	if len(got) != 4 {
		t.Fatalf("got %d bytes, want 4 (rex,0x83,modrm,imm8): %x", len(got), got)
	}
	if got[1] != 0x83 {
		t.Fatalf("opcode = %#x, want 0x83", got[1])
	}
}

func TestEmitAddImmUsesLongFormForLargeImmediate(t *testing.T) {
	b := x64.NewSysVBackend()
	w := elfobj.NewTextWriter(16)
	b.EmitAddImm(w, reg(x64.RAX), 1000, 8)
	got := w.Bytes()
	if got[1] != 0x81 {
		t.Fatalf("opcode = %#x, want 0x81", got[1])
	}
	if len(got) != 7 {
		t.Fatalf("got %d bytes, want 7 (rex,0x81,modrm,imm32): %x", len(got), got)
	}
}

func TestSysVNextArgRegisterThenStack(t *testing.T) {
	cc := x64.NewSysV(false)
	for _, want := range []uint8{x64.RDI, x64.RSI, x64.RDX, x64.RCX, x64.R8, x64.R9} {
		loc := cc.NextArg(adaptor.BankGP, 8)
		if !loc.InReg || loc.Reg.ID != want {
			t.Fatalf("got %+v, want register %d", loc, want)
		}
	}
	loc := cc.NextArg(adaptor.BankGP, 8)
	if loc.InReg {
		t.Fatalf("7th integer arg should spill to the stack, got %+v", loc)
	}
}

func TestWin64NextArgSharesPositionalSlot(t *testing.T) {
	cc := x64.NewWin64(false)
	a := cc.NextArg(adaptor.BankGP, 8)
	fp := cc.NextArg(adaptor.BankFP, 8)
	if a.Reg.ID != x64.RCX {
		t.Fatalf("first int arg = %+v, want rcx", a)
	}
	if fp.Reg.ID != 1 {
		t.Fatalf("second arg (float) should use xmm1 by position, got %+v", fp)
	}
}

func TestWin64ShadowSpace(t *testing.T) {
	cc := x64.NewWin64(false)
	if cc.ShadowSpace() != 32 {
		t.Fatalf("ShadowSpace() = %d, want 32", cc.ShadowSpace())
	}
}

func TestFinalizePrologueProducesFixedWidthPatch(t *testing.T) {
	b := x64.NewSysVBackend()
	w := elfobj.NewTextWriter(64)
	entry := b.EmitProloguePlaceholder(w)
	before := append([]byte(nil), w.Bytes()...)
	info := arch.PrologueInfo{
		FrameSize:       32,
		ClobberedCallee: []arch.Reg{reg(x64.RBX), reg(x64.R12)},
	}
	b.FinalizePrologue(w, entry, info, nil)
	after := w.Bytes()
	if len(after) != len(before) {
		t.Fatalf("FinalizePrologue changed the buffer length: %d -> %d", len(before), len(after))
	}
	if after[0] != 0x50+x64.RBP {
		t.Fatalf("first byte = %#x, want push rbp (0x55)", after[0])
	}
}

func TestEpilogueRestoresInReverseOrderAndReturns(t *testing.T) {
	b := x64.NewSysVBackend()
	w := elfobj.NewTextWriter(32)
	info := arch.PrologueInfo{
		FrameSize:       16,
		ClobberedCallee: []arch.Reg{reg(x64.RBX), reg(x64.R12)},
	}
	b.EmitEpilogue(w, info)
	got := w.Bytes()
	if got[len(got)-1] != 0xC3 {
		t.Fatalf("last byte = %#x, want ret (0xc3)", got[len(got)-1])
	}
	if got[len(got)-2] != 0x58+x64.RBP {
		t.Fatalf("second-to-last byte = %#x, want pop rbp", got[len(got)-2])
	}
}
