package compiler_test

import (
	"testing"

	"github.com/xyproto/tpde/adaptor"
	"github.com/xyproto/tpde/arch"
	"github.com/xyproto/tpde/compiler"
	"github.com/xyproto/tpde/internal/elfobj"
	"github.com/xyproto/tpde/internal/testir"
	"github.com/xyproto/tpde/regfile"
)

// toyEmitter is a minimal InstructionEmitter: any instruction with a
// result and at least one operand moves its first operand into a fresh
// register and bumps it by one, exercising PartReg/DefineReg/Use without
// claiming to model real arithmetic.
type toyEmitter struct{}

func (toyEmitter) EmitInst(c *compiler.Compiler[*testir.Func], block adaptor.BlockRef, inst adaptor.InstRef) error {
	a := c.Adaptor()
	result, hasResult := a.ResultValue(inst)
	ops := a.Operands(inst)
	if !hasResult {
		for _, v := range ops {
			c.Use(v)
		}
		return nil
	}
	if len(ops) == 0 {
		dst := c.DefineReg(result, 0, adaptor.BankGP, 8)
		c.Backend.EmitConstant(c.Text, dst, 1, adaptor.BankGP, 8)
		return nil
	}
	src := c.PartReg(ops[0], 0)
	dst := c.DefineReg(result, 0, adaptor.BankGP, 8)
	if dst != src {
		c.Backend.EmitMovRegReg(c.Text, dst, src, 8)
	}
	c.Backend.EmitAddImm(c.Text, dst, 1, 8)
	for _, v := range ops {
		c.Use(v)
	}
	return nil
}

// BranchCond always reports CondNE: the tests here never care which
// condition is encoded, only that the two-successor shape produces a
// real conditional branch plus PHI resolution on each edge.
func (toyEmitter) BranchCond(c *compiler.Compiler[*testir.Func], block adaptor.BlockRef, inst adaptor.InstRef) arch.CondCode {
	return arch.CondNE
}

func newTestCompiler() *compiler.Compiler[*testir.Func] {
	c := compiler.New[*testir.Func](fakeBackend{})
	gp := regfile.NewBank(6, []uint8{0, 1, 2, 3, 4, 5})
	fp := regfile.NewBank(4, []uint8{0, 1, 2, 3})
	c.UseBanks(gp, fp)
	return c
}

func TestCompileFunctionStraightLineAdd(t *testing.T) {
	f := testir.New("straight_line_add")
	a := f.AddArg(adaptor.BankGP, 8)
	b := f.AddArg(adaptor.BankGP, 8)
	entry := f.EntryBlock()

	addInst, sum := f.AddInst(entry, []adaptor.ValueRef{a, b}, true, adaptor.BankGP, 8, false)
	f.MarkLastUse(addInst, a)
	f.MarkLastUse(addInst, b)
	retInst, _ := f.AddInst(entry, []adaptor.ValueRef{sum}, false, 0, 0, true)
	f.MarkLastUse(retInst, sum)

	c := newTestCompiler()
	text := elfobj.NewTextWriter(64)

	info, err := c.CompileFunction(f, text, toyEmitter{})
	if err != nil {
		t.Fatalf("CompileFunction: %v", err)
	}
	if text.Pos() == 0 {
		t.Fatal("expected emitted code, got none")
	}
	if info.HasCalls {
		t.Fatal("straight-line function should not be marked HasCalls")
	}
}

func TestCompileFunctionLoopBackEdge(t *testing.T) {
	f := testir.New("self_loop")
	entry := f.EntryBlock()
	loop := f.AddBlock()
	f.AddEdge(entry, loop)
	f.AddEdge(loop, loop)

	entryJump, _ := f.AddInst(entry, nil, false, 0, 0, true)
	_ = entryJump
	loopJump, _ := f.AddInst(loop, nil, false, 0, 0, true)
	_ = loopJump

	c := newTestCompiler()
	text := elfobj.NewTextWriter(64)

	if _, err := c.CompileFunction(f, text, toyEmitter{}); err != nil {
		t.Fatalf("CompileFunction: %v", err)
	}
	if text.Pos() == 0 {
		t.Fatal("expected emitted code for the loop body")
	}
}

func TestCompileFunctionPHIResolution(t *testing.T) {
	f := testir.New("diamond_phi")
	entry := f.EntryBlock()
	left := f.AddBlock()
	right := f.AddBlock()
	join := f.AddBlock()

	f.AddEdge(entry, left)
	f.AddEdge(entry, right)
	f.AddEdge(left, join)
	f.AddEdge(right, join)

	leftVal := f.AddArg(adaptor.BankGP, 8)
	rightVal := f.AddArg(adaptor.BankGP, 8)

	phi := f.AddPHI(join, adaptor.BankGP, 8)
	f.SetIncoming(phi, left, leftVal)
	f.SetIncoming(phi, right, rightVal)

	// entry needs two successors to reach both branches.
	f.AddInst(entry, nil, false, 0, 0, true)
	f.AddInst(left, nil, false, 0, 0, true)
	f.AddInst(right, nil, false, 0, 0, true)
	retInst, _ := f.AddInst(join, []adaptor.ValueRef{phi}, false, 0, 0, true)
	f.MarkLastUse(retInst, phi)

	c := newTestCompiler()
	text := elfobj.NewTextWriter(64)

	if _, err := c.CompileFunction(f, text, toyEmitter{}); err != nil {
		t.Fatalf("CompileFunction: %v", err)
	}
	if text.Pos() == 0 {
		t.Fatal("expected emitted code for the PHI-bearing diamond")
	}
}

// TestCompileFunctionCriticalEdgeSplit builds a CFG where entry branches
// straight to join as one of its two targets, while join is also reached
// from mid — so join has two predecessors (entry, mid) and the entry->join
// edge is the explicit target of a conditional branch: exactly the
// critical-edge shape spec.md §4.4 calls out. The mid->join edge is a
// single-successor (unconditional) transition into the same join, so it
// takes the cheap inline path rather than a split, even though join is
// still the same MultiPred block — only the conditional edge should pay
// for a landing pad.
func TestCompileFunctionCriticalEdgeSplit(t *testing.T) {
	f := testir.New("critical_edge")
	entry := f.EntryBlock()
	mid := f.AddBlock()
	join := f.AddBlock()

	f.AddEdge(entry, join)
	f.AddEdge(entry, mid)
	f.AddEdge(mid, join)

	entryVal := f.AddArg(adaptor.BankGP, 8)
	midVal := f.AddArg(adaptor.BankGP, 8)

	phi := f.AddPHI(join, adaptor.BankGP, 8)
	f.SetIncoming(phi, entry, entryVal)
	f.SetIncoming(phi, mid, midVal)

	// entry needs two successors (mid, join) to reach both branches.
	f.AddInst(entry, nil, false, 0, 0, true)
	f.AddInst(mid, nil, false, 0, 0, true)
	retInst, _ := f.AddInst(join, []adaptor.ValueRef{phi}, false, 0, 0, true)
	f.MarkLastUse(retInst, phi)

	c := newTestCompiler()
	text := elfobj.NewTextWriter(64)

	if _, err := c.CompileFunction(f, text, toyEmitter{}); err != nil {
		t.Fatalf("CompileFunction: %v", err)
	}
	if text.Pos() == 0 {
		t.Fatal("expected emitted code for the critical-edge diamond")
	}
}

func TestCompileFunctionFatalErrorRecovered(t *testing.T) {
	f := testir.New("bad_bank")
	entry := f.EntryBlock()
	// A bank that was never registered via UseBanks: PartReg's bankOf call
	// should Fatalf, and CompileFunction must recover it into a plain error
	// rather than letting the panic escape (spec.md §7).
	arg := f.AddArg(adaptor.RegBank(99), 8)
	inst, _ := f.AddInst(entry, []adaptor.ValueRef{arg}, true, adaptor.BankGP, 8, false)
	f.MarkLastUse(inst, arg)
	ret, _ := f.AddInst(entry, nil, false, 0, 0, true)
	_ = ret

	c := newTestCompiler()
	text := elfobj.NewTextWriter(64)

	_, err := c.CompileFunction(f, text, toyEmitter{})
	if err == nil {
		t.Fatal("expected an error from referencing an unregistered bank")
	}
}
