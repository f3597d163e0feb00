package aarch64_test

import (
	"testing"

	"github.com/xyproto/tpde/adaptor"
	"github.com/xyproto/tpde/arch"
	"github.com/xyproto/tpde/arch/aarch64"
	"github.com/xyproto/tpde/internal/elfobj"
)

func reg(id uint8) arch.Reg { return arch.Reg{Bank: adaptor.BankGP, ID: id} }

func readWord(buf []byte, at int) uint32 {
	return uint32(buf[at]) | uint32(buf[at+1])<<8 | uint32(buf[at+2])<<16 | uint32(buf[at+3])<<24
}

func TestEmitMovRegRegEncodesAsOrr(t *testing.T) {
	b := aarch64.NewBackend()
	w := elfobj.NewTextWriter(16)
	b.EmitMovRegReg(w, reg(aarch64.X1), reg(aarch64.X2), 8)
	got := readWord(w.Bytes(), 0)
	want := uint32(0xAA0003E0) | uint32(aarch64.X2)<<16 | uint32(aarch64.X1)
	if got != want {
		t.Fatalf("instr = %#08x, want %#08x", got, want)
	}
}

func TestEmitMovImmRegSmallUsesOneMOVZ(t *testing.T) {
	b := aarch64.NewBackend()
	w := elfobj.NewTextWriter(16)
	b.EmitMovImmReg(w, reg(aarch64.X0), 42, 8)
	if w.Pos() != 4 {
		t.Fatalf("expected exactly one instruction for a 16-bit immediate, got %d bytes", w.Pos())
	}
	got := readWord(w.Bytes(), 0)
	want := uint32(0xD2800000) | 42<<5
	if got != want {
		t.Fatalf("instr = %#08x, want %#08x", got, want)
	}
}

func TestEmitMovImmRegLargeEmitsMovkChunks(t *testing.T) {
	b := aarch64.NewBackend()
	w := elfobj.NewTextWriter(32)
	b.EmitMovImmReg(w, reg(aarch64.X0), 0x1_0002_0000_0003, 8)
	if w.Pos() <= 4 {
		t.Fatalf("expected MOVZ+MOVK sequence, got only %d bytes", w.Pos())
	}
}

func TestEmitJumpAndPatchBranchRoundTrips(t *testing.T) {
	b := aarch64.NewBackend()
	w := elfobj.NewTextWriter(32)
	patchAt := b.EmitJump(w)
	target := w.Pos() + 16
	if err := b.PatchBranch(w, patchAt, target); err != nil {
		t.Fatalf("PatchBranch: %v", err)
	}
	word := readWord(w.Bytes(), patchAt)
	if word&0xFC000000 != 0x14000000 {
		t.Fatalf("opcode bits corrupted: %#08x", word)
	}
	imm26 := int32(word&0x3ffffff) << 6 >> 6 // sign-extend 26 bits
	if int(imm26)*4 != target-patchAt {
		t.Fatalf("decoded displacement = %d, want %d", int(imm26)*4, target-patchAt)
	}
}

func TestPatchBranchPreservesConditionField(t *testing.T) {
	b := aarch64.NewBackend()
	w := elfobj.NewTextWriter(32)
	patchAt := b.EmitCondBranch(w, arch.CondGT)
	target := w.Pos() + 20
	if err := b.PatchBranch(w, patchAt, target); err != nil {
		t.Fatalf("PatchBranch: %v", err)
	}
	word := readWord(w.Bytes(), patchAt)
	if word&0xFF000010 != 0x54000000 {
		t.Fatalf("opcode bits corrupted: %#08x", word)
	}
	if word&0xf != 0xc { // CondGT = 0xc
		t.Fatalf("condition field = %#x, want 0xc (gt)", word&0xf)
	}
}

func TestPatchBranchRoutesThroughVeneerWhenOutOfCondRange(t *testing.T) {
	b := aarch64.NewBackend()
	w := elfobj.NewTextWriter(32)
	patchAt := b.EmitCondBranch(w, arch.CondGT)
	// Past CondBranchRangeBytes (1<<20) but well inside DirectBranchRangeBytes.
	target := patchAt + (1 << 20) + 64
	if err := b.PatchBranch(w, patchAt, target); err != nil {
		t.Fatalf("PatchBranch: %v", err)
	}

	buf := w.Bytes()
	condWord := readWord(buf, patchAt)
	if condWord&0xFF000000 != 0x54000000 {
		t.Fatalf("opcode bits corrupted: %#08x", condWord)
	}
	if condWord&0xf != 0xd { // CondGT (0xc) inverted is CondLE (0xd)
		t.Fatalf("condition field = %#x, want 0xd (le, the inverse of gt)", condWord&0xf)
	}
	skipImm19 := int32(condWord&(0x7ffff<<5)) >> 5 << 13 >> 13 // sign-extend 19 bits
	if int(skipImm19)*4 != 8 {
		t.Fatalf("B.cond should skip the 8-byte veneer slot, decoded %d", int(skipImm19)*4)
	}

	veneerWord := readWord(buf, patchAt+4)
	if veneerWord&0xFC000000 != 0x14000000 {
		t.Fatalf("veneer slot opcode bits corrupted: %#08x", veneerWord)
	}
	imm26 := int32(veneerWord&0x3ffffff) << 6 >> 6
	if int(imm26)*4 != target-(patchAt+4) {
		t.Fatalf("veneer displacement = %d, want %d", int(imm26)*4, target-(patchAt+4))
	}
}

func TestPatchBranchRejectsDisplacementBeyondDirectRange(t *testing.T) {
	b := aarch64.NewBackend()
	w := elfobj.NewTextWriter(32)
	patchAt := b.EmitJump(w)
	target := patchAt + aarch64.DirectBranchRangeBytes + 4
	if err := b.PatchBranch(w, patchAt, target); err == nil {
		t.Fatal("expected an error for a displacement beyond B's 26-bit range")
	}
}

func TestAAPCS64NextArgRegisterThenStack(t *testing.T) {
	cc := aarch64.NewAAPCS64(false)
	for i := 0; i < 8; i++ {
		loc := cc.NextArg(adaptor.BankGP, 8)
		if !loc.InReg || loc.Reg.ID != uint8(i) {
			t.Fatalf("arg %d: got %+v, want x%d", i, loc, i)
		}
	}
	loc := cc.NextArg(adaptor.BankGP, 8)
	if loc.InReg {
		t.Fatalf("9th integer arg should spill to the stack, got %+v", loc)
	}
}

func TestFinalizePrologueKeepsFixedWidth(t *testing.T) {
	b := aarch64.NewBackend()
	w := elfobj.NewTextWriter(64)
	entry := b.EmitProloguePlaceholder(w)
	before := len(w.Bytes())
	info := arch.PrologueInfo{
		FrameSize:       32,
		ClobberedCallee: []arch.Reg{reg(aarch64.X19), reg(aarch64.X20), reg(aarch64.X21)},
	}
	b.FinalizePrologue(w, entry, info, nil)
	if len(w.Bytes()) != before {
		t.Fatalf("FinalizePrologue changed buffer length: %d -> %d", before, len(w.Bytes()))
	}
	first := readWord(w.Bytes(), entry)
	if first != 0xA9BF7BFD {
		t.Fatalf("first instruction = %#08x, want stp x29,x30,[sp,#-16]! (0xA9BF7BFD)", first)
	}
}

func TestEpilogueEndsWithRet(t *testing.T) {
	b := aarch64.NewBackend()
	w := elfobj.NewTextWriter(32)
	info := arch.PrologueInfo{FrameSize: 16}
	b.EmitEpilogue(w, info)
	buf := w.Bytes()
	last := readWord(buf, len(buf)-4)
	if last != 0xD65F03C0 {
		t.Fatalf("last instruction = %#08x, want ret x30 (0xD65F03C0)", last)
	}
}
