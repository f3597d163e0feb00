package aarch64

import (
	"github.com/xyproto/tpde/adaptor"
	"github.com/xyproto/tpde/arch"
)

// AAPCS64 is the standard AArch64 procedure call standard: the first 8
// integer/pointer parts go in x0-x7, the first 8 floating parts in
// d0-d7, everything after spills to the stack at 8-byte-aligned slots.
// Each CCAssigner part is a single bank-sized value (spec.md's operand
// decomposition into register-sized parts happens above this trait, in
// the compiler core); byval aggregates wider than one register are an
// Open Question this trait does not resolve, matching arch.CCAssigner's
// Return doc comment on memory-class aggregates.
//
// Grounded on the teacher's calling_convention.go CallingConvention
// interface and arm64_backend.go's register partition. x8, AAPCS64's
// indirect-result register, is not assigned by this type.
type AAPCS64 struct {
	intUsed, fpUsed int
	stackBytes      int
	isVarArg        bool
}

func NewAAPCS64(isVarArg bool) *AAPCS64 { return &AAPCS64{isVarArg: isVarArg} }

func (cc *AAPCS64) NextArg(bank adaptor.RegBank, size int) arch.ArgLoc {
	if bank == bankGP && cc.intUsed < 8 {
		id := uint8(cc.intUsed)
		cc.intUsed++
		return arch.ArgLoc{InReg: true, Reg: arch.Reg{Bank: bankGP, ID: id}}
	}
	if bank == bankFP && cc.fpUsed < 8 {
		id := uint8(cc.fpUsed)
		cc.fpUsed++
		return arch.ArgLoc{InReg: true, Reg: arch.Reg{Bank: bankFP, ID: id}}
	}
	off := alignUp(cc.stackBytes, 8)
	cc.stackBytes = off + alignUp(size, 8)
	return arch.ArgLoc{InReg: false, StackBytes: size, Offset: off}
}

// Return assigns x0 for a GP value and d0 for an FP value, whatever the
// size. Returning through a caller-supplied pointer in x8 is not handled:
// NextArg hands out x0-x7 only, and Return never answers x8.
func (cc *AAPCS64) Return(bank adaptor.RegBank, size int) arch.ArgLoc {
	if bank == bankFP {
		return arch.ArgLoc{InReg: true, Reg: arch.Reg{Bank: bankFP, ID: 0}}
	}
	return arch.ArgLoc{InReg: true, Reg: arch.Reg{Bank: bankGP, ID: X0}}
}

// CallerSaved is x0-x18 (including the IP0/IP1 scratch pair x16/x17 a
// linker veneer may clobber) plus d0-d7 and d16-d31. d8-d15 are returned
// by CalleeSaved instead; AAPCS64 preserves only their low 64 bits, and
// this backend treats the whole register as callee-saved, matching the
// teacher's own register_allocator.go which doesn't model partial-width
// save sets.
func (cc *AAPCS64) CallerSaved() []arch.Reg {
	regs := make([]arch.Reg, 0, 19+24)
	for id := uint8(0); id <= 18; id++ {
		regs = append(regs, arch.Reg{Bank: bankGP, ID: id})
	}
	for _, id := range []uint8{0, 1, 2, 3, 4, 5, 6, 7} {
		regs = append(regs, arch.Reg{Bank: bankFP, ID: id})
	}
	for id := uint8(16); id <= 31; id++ {
		regs = append(regs, arch.Reg{Bank: bankFP, ID: id})
	}
	return regs
}

func (cc *AAPCS64) CalleeSaved() []arch.Reg {
	regs := make([]arch.Reg, 0, 10+8)
	for id := X19; id <= X28; id++ {
		regs = append(regs, arch.Reg{Bank: bankGP, ID: id})
	}
	for id := uint8(8); id <= 15; id++ {
		regs = append(regs, arch.Reg{Bank: bankFP, ID: id})
	}
	return regs
}

func (cc *AAPCS64) StackAlignment() int { return 16 }
func (cc *AAPCS64) ShadowSpace() int    { return 0 }

func alignUp(v, align int) int {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
