package x64

import (
	"github.com/xyproto/tpde/adaptor"
	"github.com/xyproto/tpde/arch"
)

// SysV is the System V AMD64 calling convention: integer/pointer args in
// rdi, rsi, rdx, rcx, r8, r9; floating args in xmm0..xmm7; no shadow space.
// Grounded on the teacher's calling_convention.go SystemVAMD64.
type SysV struct {
	intUsed, fpUsed int
	stackBytes      int
	isVarArg        bool
}

func NewSysV(isVarArg bool) *SysV { return &SysV{isVarArg: isVarArg} }

var sysvIntArgRegs = []uint8{RDI, RSI, RDX, RCX, R8, R9}

func (cc *SysV) NextArg(bank adaptor.RegBank, size int) arch.ArgLoc {
	if bank == bankGP && cc.intUsed < len(sysvIntArgRegs) {
		id := sysvIntArgRegs[cc.intUsed]
		cc.intUsed++
		return arch.ArgLoc{InReg: true, Reg: arch.Reg{Bank: bankGP, ID: id}}
	}
	if bank == bankFP && cc.fpUsed < 8 {
		id := uint8(cc.fpUsed)
		cc.fpUsed++
		return arch.ArgLoc{InReg: true, Reg: arch.Reg{Bank: bankFP, ID: id}}
	}
	off := cc.stackBytes
	slot := alignUp(size, 8)
	cc.stackBytes += slot
	return arch.ArgLoc{InReg: false, StackBytes: size, Offset: off}
}

func (cc *SysV) Return(bank adaptor.RegBank, size int) arch.ArgLoc {
	if bank == bankFP {
		return arch.ArgLoc{InReg: true, Reg: arch.Reg{Bank: bankFP, ID: 0}}
	}
	return arch.ArgLoc{InReg: true, Reg: arch.Reg{Bank: bankGP, ID: RAX}}
}

func (cc *SysV) CallerSaved() []arch.Reg {
	ids := []uint8{RAX, RCX, RDX, RSI, RDI, R8, R9, R10, R11}
	regs := make([]arch.Reg, 0, len(ids)+16)
	for _, id := range ids {
		regs = append(regs, arch.Reg{Bank: bankGP, ID: id})
	}
	for i := 0; i < 16; i++ {
		regs = append(regs, arch.Reg{Bank: bankFP, ID: uint8(i)})
	}
	return regs
}

func (cc *SysV) CalleeSaved() []arch.Reg {
	ids := []uint8{RBX, RBP, R12, R13, R14, R15}
	regs := make([]arch.Reg, len(ids))
	for i, id := range ids {
		regs[i] = arch.Reg{Bank: bankGP, ID: id}
	}
	return regs
}

func (cc *SysV) StackAlignment() int { return 16 }
func (cc *SysV) ShadowSpace() int    { return 0 }

// Win64 is the Microsoft x64 calling convention: the first four integer or
// float args share rcx/rdx/r8/r9 (integer) and xmm0-3 (float) by position —
// an argument's index, not its type, selects the slot — plus a fixed
// 32-byte shadow space the callee may spill into. Grounded on the
// teacher's calling_convention.go MicrosoftX64.
type Win64 struct {
	argIndex   int
	stackBytes int
	isVarArg   bool
}

func NewWin64(isVarArg bool) *Win64 { return &Win64{isVarArg: isVarArg} }

var win64IntArgRegs = []uint8{RCX, RDX, R8, R9}

func (cc *Win64) NextArg(bank adaptor.RegBank, size int) arch.ArgLoc {
	if cc.argIndex < 4 {
		idx := cc.argIndex
		cc.argIndex++
		if bank == bankFP {
			return arch.ArgLoc{InReg: true, Reg: arch.Reg{Bank: bankFP, ID: uint8(idx)}}
		}
		return arch.ArgLoc{InReg: true, Reg: arch.Reg{Bank: bankGP, ID: win64IntArgRegs[idx]}}
	}
	cc.argIndex++
	off := cc.ShadowSpace() + cc.stackBytes
	cc.stackBytes += 8
	return arch.ArgLoc{InReg: false, StackBytes: size, Offset: off}
}

func (cc *Win64) Return(bank adaptor.RegBank, size int) arch.ArgLoc {
	if bank == bankFP {
		return arch.ArgLoc{InReg: true, Reg: arch.Reg{Bank: bankFP, ID: 0}}
	}
	return arch.ArgLoc{InReg: true, Reg: arch.Reg{Bank: bankGP, ID: RAX}}
}

func (cc *Win64) CallerSaved() []arch.Reg {
	ids := []uint8{RAX, RCX, RDX, R8, R9, R10, R11}
	regs := make([]arch.Reg, 0, len(ids)+6)
	for _, id := range ids {
		regs = append(regs, arch.Reg{Bank: bankGP, ID: id})
	}
	for i := 0; i < 6; i++ {
		regs = append(regs, arch.Reg{Bank: bankFP, ID: uint8(i)})
	}
	return regs
}

func (cc *Win64) CalleeSaved() []arch.Reg {
	ids := []uint8{RBX, RBP, RSI, RDI, R12, R13, R14, R15}
	regs := make([]arch.Reg, len(ids), len(ids)+10)
	for i, id := range ids {
		regs[i] = arch.Reg{Bank: bankGP, ID: id}
	}
	for i := 6; i < 16; i++ {
		regs = append(regs, arch.Reg{Bank: bankFP, ID: uint8(i)})
	}
	return regs
}

func (cc *Win64) StackAlignment() int { return 16 }
func (cc *Win64) ShadowSpace() int    { return 32 }

func alignUp(v, align int) int {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
