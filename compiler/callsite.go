package compiler

import (
	"github.com/xyproto/tpde/adaptor"
	"github.com/xyproto/tpde/arch"
)

// CallSite accumulates one call's argument placement and caller-saved
// spill/reload bookkeeping. Grounded on the teacher's
// calling_convention.go CallSiteManager, generalized from a single
// hard-coded convention to any arch.CCAssigner.
type CallSite struct {
	cc       arch.CCAssigner
	args     []arch.ArgLoc
	stackAdj int
}

// NewCallSite begins a call, marking the function as call-bearing so
// later FixedReg calls prefer callee-saved registers
// (spec.md §4.4 "Fixed assignment ... if the function may emit calls").
func (c *Compiler[A]) NewCallSite(isVarArg bool) *CallSite {
	c.hasCalls = true
	return &CallSite{cc: c.Backend.NewCC(isVarArg)}
}

// AssignArg places the next argument per the call site's convention and
// returns its location.
func (cs *CallSite) AssignArg(bank adaptor.RegBank, size int) arch.ArgLoc {
	loc := cs.cc.NextArg(bank, size)
	cs.args = append(cs.args, loc)
	if !loc.InReg {
		cs.stackAdj += alignUp(loc.StackBytes, 8)
	}
	return loc
}

// ReturnLoc reports where the call's return value will land.
func (cs *CallSite) ReturnLoc(bank adaptor.RegBank, size int) arch.ArgLoc {
	return cs.cc.Return(bank, size)
}

// SpillCallerSaved spills and frees every register in the call's
// caller-saved set that currently holds a live value, so the callee is
// free to clobber them (spec.md §4.4 "call/branch plumbing"). Registers
// about to receive argument values are left alone — the caller places
// arguments into them immediately after this call.
func (c *Compiler[A]) SpillCallerSaved(cs *CallSite, excludeArgRegs []arch.Reg) {
	excluded := make(map[arch.Reg]bool, len(excludeArgRegs))
	for _, r := range excludeArgRegs {
		excluded[r] = true
	}
	for _, r := range cs.cc.CallerSaved() {
		if excluded[r] {
			continue
		}
		bank := c.regs.Bank(uint8(r.Bank))
		if bank == nil {
			continue
		}
		if id, part, ok := bank.Owner(r.ID); ok {
			c.spillPart(id, part, r.ID, r.Bank)
			bank.Free(r.ID)
		}
		bank.MarkClobbered(r.ID)
	}
}

// EmitCall reserves stack space for any stack-passed arguments (rounded
// to the convention's required alignment), emits the call instruction,
// and restores the stack pointer once the callee returns.
func (c *Compiler[A]) EmitCall(cs *CallSite, target arch.Reg) {
	adj := alignUp(cs.stackAdj, cs.cc.StackAlignment())
	sp := c.Backend.StackPointer()
	if adj > 0 {
		c.Backend.EmitSubImm(c.Text, sp, int64(adj), 8)
	}
	c.Backend.EmitCall(c.Text, target)
	if adj > 0 {
		c.Backend.EmitAddImm(c.Text, sp, int64(adj), 8)
	}
}

func alignUp(v, align int) int {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
