package compiler_test

import (
	"fmt"
	"testing"

	"github.com/xyproto/tpde/adaptor"
	"github.com/xyproto/tpde/arch"
	"github.com/xyproto/tpde/compiler"
	"github.com/xyproto/tpde/internal/elfobj"
	"github.com/xyproto/tpde/internal/testir"
)

// TestEvictOneSkipsFixedRegister exhausts a 6-register GP bank with one
// FixedReg-pinned value and five ordinary defined values, then forces a
// seventh allocation through evictOne. The pinned value's register must
// survive untouched: evicting it would silently break the fixed-assignment
// guarantee FixedReg callers rely on.
func TestEvictOneSkipsFixedRegister(t *testing.T) {
	f := testir.New("evict_skips_fixed")
	entry := f.EntryBlock()
	f.AddInst(entry, nil, false, 0, 0, false)
	f.AddInst(entry, nil, false, 0, 0, true)

	c := newTestCompiler()
	text := elfobj.NewTextWriter(64)

	pinned := f.AddArg(adaptor.BankGP, 8)
	others := make([]adaptor.ValueRef, 5)
	for i := range others {
		others[i] = f.AddArg(adaptor.BankGP, 8)
	}
	extra := f.AddArg(adaptor.BankGP, 8)

	if _, err := c.CompileFunction(f, text, fixedPinEmitter{
		pinned: pinned,
		others: others,
		extra:  extra,
	}); err != nil {
		t.Fatalf("CompileFunction: %v", err)
	}
}

type fixedPinEmitter struct {
	pinned adaptor.ValueRef
	others []adaptor.ValueRef
	extra  adaptor.ValueRef
}

func (e fixedPinEmitter) EmitInst(c *compiler.Compiler[*testir.Func], block adaptor.BlockRef, inst adaptor.InstRef) error {
	pinnedReg := c.FixedReg(e.pinned, 0, []uint8{0})

	for _, v := range e.others {
		c.DefineReg(v, 0, adaptor.BankGP, 8)
	}

	// Every register is now owned (one fixed, five ordinary); this must
	// evict one of the five ordinary ones, never the fixed register.
	gotReg := c.DefineReg(e.extra, 0, adaptor.BankGP, 8)
	if gotReg == pinnedReg {
		return fmt.Errorf("evictOne picked the fixed register %v instead of an ordinary resident", pinnedReg)
	}

	// The pinned value must still resolve to its original register.
	if stillPinned := c.PartReg(e.pinned, 0); stillPinned != pinnedReg {
		return fmt.Errorf("fixed value's register changed after eviction: was %v, now %v", pinnedReg, stillPinned)
	}
	return nil
}

func (fixedPinEmitter) BranchCond(c *compiler.Compiler[*testir.Func], block adaptor.BlockRef, inst adaptor.InstRef) arch.CondCode {
	return arch.CondNE
}

// TestEmitCallReservesStackForStackArgs drives a call with more GP
// arguments than fakeCC's 4 register slots, forcing one onto the stack,
// and checks that EmitCall brackets the call with a stack-pointer
// reservation and restore instead of silently discarding the computed
// adjustment.
func TestEmitCallReservesStackForStackArgs(t *testing.T) {
	f := testir.New("call_with_stack_arg")
	entry := f.EntryBlock()
	f.AddInst(entry, nil, false, 0, 0, false)
	f.AddInst(entry, nil, false, 0, 0, true)

	c := newTestCompiler()
	text := elfobj.NewTextWriter(64)

	if _, err := c.CompileFunction(f, text, callWithStackArgEmitter{}); err != nil {
		t.Fatalf("CompileFunction: %v", err)
	}

	buf := text.Bytes()
	var sawSub, sawAdd, sawCall bool
	var subAt, callAt, addAt int
	for i := 0; i < len(buf); {
		switch buf[i] {
		case tagSubImm:
			sawSub, subAt = true, i
			i += 10
		case tagAddImm:
			sawAdd, addAt = true, i
			i += 10
		case tagCall:
			sawCall, callAt = true, i
			i += 2
		case tagPrologue, tagEpilogue:
			i++
		case tagConst:
			i += 10
		default:
			i++
		}
	}
	if !sawSub || !sawAdd || !sawCall {
		t.Fatalf("expected sub/call/add sequence in %v, got sub=%v call=%v add=%v", buf, sawSub, sawCall, sawAdd)
	}
	if !(subAt < callAt && callAt < addAt) {
		t.Fatalf("expected stack sub before call before stack restore: sub=%d call=%d add=%d", subAt, callAt, addAt)
	}
}

type callWithStackArgEmitter struct{}

func (callWithStackArgEmitter) EmitInst(c *compiler.Compiler[*testir.Func], block adaptor.BlockRef, inst adaptor.InstRef) error {
	cs := c.NewCallSite(false)
	for i := 0; i < 5; i++ {
		cs.AssignArg(adaptor.BankGP, 8)
	}
	c.SpillCallerSaved(cs, nil)
	c.EmitCall(cs, arch.Reg{Bank: adaptor.BankGP, ID: 3})
	return nil
}

func (callWithStackArgEmitter) BranchCond(c *compiler.Compiler[*testir.Func], block adaptor.BlockRef, inst adaptor.InstRef) arch.CondCode {
	return arch.CondNE
}
