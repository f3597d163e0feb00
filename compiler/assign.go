package compiler

import (
	"github.com/xyproto/tpde/adaptor"
	"github.com/xyproto/tpde/arch"
	"github.com/xyproto/tpde/regfile"
)

// valueAssignment returns v's assignment, creating one on first reference
// (lazily, mirroring the teacher's register_allocator.go "first def
// creates the interval" behavior).
func (c *Compiler[A]) valueAssignment(v adaptor.ValueRef) regfile.AssignmentID {
	if id, ok := c.store.Lookup(v); ok {
		return id
	}
	n := c.a.ValuePartCount(v)
	parts := make([]regfile.PartState, n)
	for i := 0; i < n; i++ {
		parts[i] = regfile.PartState{
			Bank:        c.a.ValuePartBank(v, i),
			Size:        c.a.ValuePartSize(v, i),
			VariableRef: c.a.IsVariableRef(v),
		}
	}
	return c.store.Create(v, parts)
}

func (c *Compiler[A]) bankOf(b adaptor.RegBank) *regfile.Bank {
	bank := c.regs.Bank(uint8(b))
	if bank == nil {
		Fatalf("compiler: no register bank registered for %s", b)
	}
	return bank
}

// PartReg returns the register currently holding value v's part `part`,
// reloading it from its stack slot (or materializing a variable-ref's
// address via frame-pointer + offset) if it is not already resident
// (spec.md §4.4 "Value reload").
func (c *Compiler[A]) PartReg(v adaptor.ValueRef, part int) arch.Reg {
	id := c.valueAssignment(v)
	asn := c.store.Get(id)
	ps := &asn.Parts[part]

	if ps.HasReg {
		return arch.Reg{Bank: ps.Bank, ID: ps.Reg}
	}

	bank := c.bankOf(ps.Bank)
	reg, ok := bank.AllocAny()
	if !ok {
		reg = c.evictOne(bank, ps.Bank)
	}
	bank.SetOwner(reg, id, part)
	ps.HasReg = true
	ps.Reg = reg

	if ps.VariableRef {
		c.Backend.EmitLoadFrameAddr(c.Text, arch.Reg{Bank: ps.Bank, ID: reg}, ps.StackOffset)
		ps.StackValid = true
	} else if ps.StackValid {
		c.Backend.EmitLoad(c.Text, arch.Reg{Bank: ps.Bank, ID: reg}, c.Backend.FramePointer(), ps.StackOffset, ps.Size)
	}
	// else: value is about to be defined by the instruction that asked
	// for this register; nothing to load yet.
	return arch.Reg{Bank: ps.Bank, ID: reg}
}

// DefineReg assigns a fresh register to value v's part (the instruction
// defining v), without attempting a reload since there is nothing to load
// yet.
func (c *Compiler[A]) DefineReg(v adaptor.ValueRef, part int, bank adaptor.RegBank, size int) arch.Reg {
	id := c.valueAssignment(v)
	asn := c.store.Get(id)
	ps := &asn.Parts[part]
	ps.Bank, ps.Size = bank, size

	rb := c.bankOf(bank)
	reg, ok := rb.AllocAny()
	if !ok {
		reg = c.evictOne(rb, bank)
	}
	rb.SetOwner(reg, id, part)
	ps.HasReg = true
	ps.Reg = reg
	ps.Modified = true
	return arch.Reg{Bank: bank, ID: reg}
}

// FixedReg performs the fixed-assignment primitive for a long-lived value
// (spec.md §4.4 "Fixed assignment"): when the function may emit calls it
// takes the first free register in calleeSaved; otherwise, or when none of
// those is free, it takes the lowest-id free register from AllocAny, which
// does not skip callee-saved ids; when the bank has no free register it
// evicts through evictOne (the first owned, non-fixed register, whether
// modified or not). calleeSaved lists the bank's callee-saved register
// ids, in preference order.
func (c *Compiler[A]) FixedReg(v adaptor.ValueRef, part int, calleeSaved []uint8) arch.Reg {
	id := c.valueAssignment(v)
	asn := c.store.Get(id)
	ps := &asn.Parts[part]
	bank := c.bankOf(ps.Bank)

	var reg uint8
	found := false
	if c.hasCalls {
		for _, r := range calleeSaved {
			if bank.IsFree(r) {
				reg, found = r, true
				break
			}
		}
	}
	if !found {
		if r, ok := bank.AllocAny(); ok {
			reg, found = r, true
		}
	}
	if !found {
		for _, r := range calleeSaved {
			if bank.IsFree(r) {
				reg, found = r, true
				break
			}
		}
	}
	if !found {
		reg = c.evictOne(bank, ps.Bank)
		found = true
	}
	bank.ReserveFixed(reg)
	bank.SetOwner(reg, id, part)
	ps.HasReg = true
	ps.Reg = reg
	ps.Fixed = true
	return arch.Reg{Bank: ps.Bank, ID: reg}
}

// ScratchReg allocates a short-lived register in bank for the duration of
// one code site (spec.md §4.4 "Scratch register"): lowest-numbered free
// non-fixed register, spilling a resident if none is free.
func (c *Compiler[A]) ScratchReg(b adaptor.RegBank) arch.Reg {
	bank := c.bankOf(b)
	reg, ok := bank.AllocAny()
	if !ok {
		reg = c.evictOne(bank, b)
	}
	return arch.Reg{Bank: b, ID: reg}
}

// ReleaseScratch returns a scratch register obtained from ScratchReg to
// the free pool once the code site is done with it.
func (c *Compiler[A]) ReleaseScratch(r arch.Reg) {
	c.bankOf(r.Bank).Free(r.ID)
}

// evictOne spills the resident of some non-fixed register in bank and
// frees it, returning its id for reuse. Used when AllocAny reports no
// free register. Picks the first owned, non-fixed register it finds — a
// simplified stand-in for the teacher's linear-scan "least useful
// resident" heuristic (register_allocator.go), adequate for a framework
// whose spill policy embedders are expected to refine per architecture.
// Fixed registers (FixedReg's pinned assignments) are never candidates:
// evicting one would silently break the fixed-assignment invariant the
// rest of the allocator relies on (spec.md §4.4 "Fixed assignment").
func (c *Compiler[A]) evictOne(bank *regfile.Bank, b adaptor.RegBank) uint8 {
	for reg := uint8(0); ; reg++ {
		if !bank.IsFixed(reg) {
			if id, part, ok := bank.Owner(reg); ok {
				c.spillPart(id, part, reg, b)
				bank.Free(reg)
				return reg
			}
		}
		if int(reg) >= 63 {
			Fatalf("compiler: no register available to evict in bank %s", b)
		}
	}
}

// spillPart writes a part's register contents to its stack slot if it was
// modified since the last spill (spec.md §4.4 "Value store (spill):
// emitted lazily").
func (c *Compiler[A]) spillPart(id regfile.AssignmentID, part int, reg uint8, b adaptor.RegBank) {
	asn := c.store.Get(id)
	ps := &asn.Parts[part]
	if !ps.Modified || ps.VariableRef {
		ps.HasReg = false
		return
	}
	if !ps.StackValid {
		ps.StackOffset = c.AllocStackSlot(int32(ps.Size), int32(ps.Size))
	}
	c.Backend.EmitStore(c.Text, arch.Reg{Bank: b, ID: reg}, c.Backend.FramePointer(), ps.StackOffset, ps.Size)
	ps.StackValid = true
	ps.Modified = false
	ps.HasReg = false
}

// Salvage implements spec.md §4.4 "Salvage": if v's part `part` is the
// last remaining reference (refCount has been decremented to zero by the
// caller's bookkeeping) and the register is not fixed, the op may write
// in place — the register becomes the result's register and no copy is
// needed. It returns the register to reuse and whether salvage applied.
func (c *Compiler[A]) Salvage(v adaptor.ValueRef, part int) (arch.Reg, bool) {
	id, ok := c.store.Lookup(v)
	if !ok {
		return arch.Reg{}, false
	}
	asn := c.store.Get(id)
	ps := &asn.Parts[part]
	if !ps.HasReg || ps.Fixed || asn.RefCount > 0 {
		return arch.Reg{}, false
	}
	reg := arch.Reg{Bank: ps.Bank, ID: ps.Reg}
	c.bankOf(ps.Bank).Free(ps.Reg)
	c.store.Forget(v)
	return reg, true
}

// Use records one consumption of v, decrementing its outstanding
// reference count; callers drive this from the adaptor's per-instruction
// operand list so Salvage can tell when a register's last reader has run.
func (c *Compiler[A]) Use(v adaptor.ValueRef) {
	id, ok := c.store.Lookup(v)
	if !ok {
		return
	}
	asn := c.store.Get(id)
	if asn.RefCount > 0 {
		asn.RefCount--
	}
}

// SeedRefCount initializes v's outstanding reference count from the
// analyzer's liveness pass, so Salvage has an accurate "last use" signal.
func (c *Compiler[A]) SeedRefCount(v adaptor.ValueRef) {
	id := c.valueAssignment(v)
	asn := c.store.Get(id)
	if lv, ok := c.Assign.Liveness[v]; ok {
		asn.RefCount = lv.RefCount
	}
}
