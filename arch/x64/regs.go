// Package x64 is the System V AMD64 / Microsoft x64 arch.Backend.
// Instruction encoding is grounded on the teacher's per-mnemonic files
// (mov.go, add.go, sub.go, jmp.go, call.go, push.go, ret.go, mem_ops.go,
// lea.go) and reg.go's dense register-encoding table; calling conventions
// on calling_convention.go's SystemVAMD64/MicrosoftX64.
package x64

import "github.com/xyproto/tpde/adaptor"

// Register ids are the teacher's reg.go x86-64 Encoding values directly:
// rax=0, rcx=1, rdx=2, rbx=3, rsp=4, rbp=5, rsi=6, rdi=7, r8..r15=8..15.
// The FP bank uses the same dense ids for xmm0..xmm15.
const (
	RAX uint8 = 0
	RCX uint8 = 1
	RDX uint8 = 2
	RBX uint8 = 3
	RSP uint8 = 4
	RBP uint8 = 5
	RSI uint8 = 6
	RDI uint8 = 7
	R8  uint8 = 8
	R9  uint8 = 9
	R10 uint8 = 10
	R11 uint8 = 11
	R12 uint8 = 12
	R13 uint8 = 13
	R14 uint8 = 14
	R15 uint8 = 15
)

// dwarfReg maps the dense encoding above to the DWARF register numbering
// CFI opcodes use, which does not follow the ModR/M encoding order
// (grounded on the teacher's AssemblerElf.hpp CFI register-number
// constants referenced from original_source).
var dwarfReg = [16]uint8{
	RAX: 0, RDX: 1, RCX: 2, RBX: 3,
	RSI: 4, RDI: 5, RBP: 6, RSP: 7,
	R8: 8, R9: 9, R10: 10, R11: 11,
	R12: 12, R13: 13, R14: 14, R15: 15,
}

func dwarf(id uint8) uint8 { return dwarfReg[id] }

var gpRegNames = [16]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func gpName(id uint8) string {
	if int(id) < len(gpRegNames) {
		return gpRegNames[id]
	}
	return "?"
}

// bankGP/bankFP are shorthand for the two register banks this backend uses.
const (
	bankGP = adaptor.BankGP
	bankFP = adaptor.BankFP
)
