package compiler

import (
	"github.com/xyproto/tpde/adaptor"
	"github.com/xyproto/tpde/arch"
)

// pendingBranch is a queued patch site: the branch instruction at patchAt
// targets successor, to be resolved once successor's code offset is known
// (spec.md §4.4 "if the label is pending, queue a patch site").
type pendingBranch struct {
	patchAt   int
	successor adaptor.BlockRef
}

// resolveTerminator implements spec.md §4.4's "PHI / branch resolution".
// A single-successor terminator's copies always run inline, right before
// its own jump: that code is private to this block and reached only by
// this edge, so it is always safe regardless of how many other blocks
// also target the same successor. A two-successor (conditional)
// terminator can't do that for the taken side — straight-line code
// placed before the branch runs on both paths — so each of its edges
// goes through resolveCondEdge instead, which picks between a critical
// split and a deferred copy (see its doc comment).
func (c *Compiler[A]) resolveTerminator(block adaptor.BlockRef, inst adaptor.InstRef, emitter InstructionEmitter[A]) {
	succs := c.a.Successors(block)
	switch len(succs) {
	case 0:
		// return or other no-successor terminator; nothing to branch to.
	case 1:
		succ := succs[0]
		c.resolvePHIs(block, succ)
		c.linkBranch(c.Backend.EmitJump(c.Text), succ)
	default:
		// Conditional shape: succs[0] is the explicit branch target,
		// succs[1] the fallthrough side. The condition itself is
		// IR-specific, so the compiler base asks the embedder for it
		// (spec.md §4.4 step 3 "choose B/B.cond/CBZ/TBZ variants").
		cc := emitter.BranchCond(c, block, inst)
		truePatch := c.Backend.EmitCondBranch(c.Text, cc)
		falsePatch := c.Backend.EmitJump(c.Text)
		c.resolveCondEdge(block, succs[1], falsePatch)
		c.resolveCondEdge(block, succs[0], truePatch)
	}
}

// resolveCondEdge finishes one outgoing edge of a conditional terminator
// whose branch/jump instruction was already emitted at patchAt. succ is
// critical here exactly when it also has some other predecessor
// (c.Assign.MultiPred, recorded by the RPO pass): its PHI locations are
// shared with whatever else reaches it, so this edge's copies can't be
// written as if they belonged to every arrival and instead land in a
// private landing pad, reached only via this edge, that then jumps on
// into succ. A non-critical successor has exactly one predecessor
// overall (this edge), so its copies are deferred to run once, as the
// first thing emitted when succ itself starts compiling — equivalent to
// running them on the edge, without the landing pad's extra jump.
func (c *Compiler[A]) resolveCondEdge(pred, succ adaptor.BlockRef, patchAt int) {
	if !c.Assign.MultiPred[succ] {
		c.deferEntryPHIs(pred, succ)
		c.linkBranch(patchAt, succ)
		return
	}
	landing := c.Text.Pos()
	c.resolvePHIs(pred, succ)
	c.linkBranch(c.Backend.EmitJump(c.Text), succ)
	if err := c.Backend.PatchBranch(c.Text, patchAt, landing); err != nil {
		Fatalf("compiler: patching critical-edge split %v -> %v: %v", pred, succ, err)
	}
}

// deferEntryPHIs records succ's PHI copies (sourced from pred) to run
// exactly once, right before the first instruction emitted for succ.
// Safe only because a non-critical succ has a single predecessor overall,
// so no other call ever overwrites this closure.
func (c *Compiler[A]) deferEntryPHIs(pred, succ adaptor.BlockRef) {
	c.pendingEntryPHIs[succ] = func() { c.resolvePHIs(pred, succ) }
}

// linkBranch patches patchAt to succ's position now if it has already been
// laid out (a loop back-edge), or queues it as a pending forward patch
// site (spec.md §4.4 "if the label is pending, queue a patch site").
func (c *Compiler[A]) linkBranch(patchAt int, succ adaptor.BlockRef) {
	if pos, ok := c.blockStart[succ]; ok && pos >= 0 {
		if err := c.Backend.PatchBranch(c.Text, patchAt, pos); err != nil {
			Fatalf("compiler: patching backward branch: %v", err)
		}
		return
	}
	c.pendingJumps = append(c.pendingJumps, pendingBranch{patchAt: patchAt, successor: succ})
}

// patchPendingBranches resolves every forward branch queued during the
// block walk, once every block's start offset is known.
func (c *Compiler[A]) patchPendingBranches() {
	for _, p := range c.pendingJumps {
		target, ok := c.blockStart[p.successor]
		if !ok || target < 0 {
			Fatalf("compiler: branch target block %v was never laid out", p.successor)
		}
		if err := c.Backend.PatchBranch(c.Text, p.patchAt, target); err != nil {
			Fatalf("compiler: patching branch: %v", err)
		}
	}
	c.pendingJumps = c.pendingJumps[:0]
}

// move is one step of a parallel-copy schedule: src -> dst, both
// identified by (value, part) so the scheduler can detect cycles through
// shared registers.
type move struct {
	dstValue adaptor.ValueRef
	srcValue adaptor.ValueRef
	part     int
	bank     adaptor.RegBank
	size     int
}

// resolvePHIs copies every PHI's incoming value (from predecessor block
// pred) into the PHI's current location, using the "parallel-copy"
// scheme spec.md §4.4 describes: build the move graph, emit moves whose
// destination isn't also a source first, then rotate any remaining
// cycles through a scratch register.
func (c *Compiler[A]) resolvePHIs(pred adaptor.BlockRef, succ adaptor.BlockRef) {
	phis := c.a.PHIs(succ)
	if len(phis) == 0 {
		return
	}

	var moves []move
	for _, phi := range phis {
		incoming, undef := c.a.PHIIncoming(phi, pred)
		if undef {
			continue
		}
		for part := 0; part < c.a.ValuePartCount(phi); part++ {
			moves = append(moves, move{
				dstValue: phi, srcValue: incoming, part: part,
				bank: c.a.ValuePartBank(phi, part), size: c.a.ValuePartSize(phi, part),
			})
		}
	}
	c.scheduleMoves(moves)
}

// scheduleMoves performs the move-graph ordering: repeatedly emit any move
// whose destination register is not the source of some other still-
// pending move (so it is safe to overwrite), then break remaining cycles
// by rotating through one scratch register per bank.
func (c *Compiler[A]) scheduleMoves(moves []move) {
	pending := make([]move, len(moves))
	copy(pending, moves)

	isSource := func(v adaptor.ValueRef, part int, except int) bool {
		for i, m := range pending {
			if i == except {
				continue
			}
			if m.srcValue == v && m.part == part {
				return true
			}
		}
		return false
	}

	for len(pending) > 0 {
		progressed := false
		for i := 0; i < len(pending); i++ {
			m := pending[i]
			if isSource(m.dstValue, m.part, i) {
				continue
			}
			c.emitOneMove(m)
			pending = append(pending[:i], pending[i+1:]...)
			progressed = true
			break
		}
		if progressed {
			continue
		}
		// Every remaining move is part of a cycle: break the first one
		// through a scratch register and retry.
		m := pending[0]
		scratch := c.ScratchReg(m.bank)
		srcReg := c.PartReg(m.srcValue, m.part)
		c.Backend.EmitMovRegReg(c.Text, scratch, srcReg, m.size)
		c.emitMoveFromReg(m.dstValue, m.part, scratch, m.size)
		c.ReleaseScratch(scratch)
		pending = pending[1:]
	}
}

func (c *Compiler[A]) emitOneMove(m move) {
	src := c.PartReg(m.srcValue, m.part)
	c.emitMoveFromReg(m.dstValue, m.part, src, m.size)
}

// emitMoveFromReg binds dst's part to a register through DefineReg and
// copies src into it when the two differ.
func (c *Compiler[A]) emitMoveFromReg(dst adaptor.ValueRef, part int, src arch.Reg, size int) {
	dstReg := c.DefineReg(dst, part, src.Bank, size)
	if dstReg != src {
		c.Backend.EmitMovRegReg(c.Text, dstReg, src, size)
	}
}
