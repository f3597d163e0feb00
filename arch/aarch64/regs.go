// Package aarch64 is the AAPCS64 arch.Backend: AArch64's fixed 32-bit
// instruction encoding and the standard procedure-call convention.
// Grounded on the teacher's arm64_instructions.go/arm64_codegen.go/
// arm64_backend.go, generalized from string register names ("x0", "d3")
// to a typed arch.Reg, and on original_source/tpde/include/tpde/arm64/
// CompilerA64.hpp for veneer synthesis the teacher's own back-end lacks.
package aarch64

import "github.com/xyproto/tpde/adaptor"

// GP register ids 0-30 are x0-x30; 31 is reserved as the sp/xzr encoding
// slot (context-dependent, handled by emitters rather than given its own
// id). FP register ids 0-31 are d0-d31. Grounded on arm64_instructions.go's
// arm64GPRegs/arm64FPRegs maps.
const (
	X0  uint8 = 0
	X1  uint8 = 1
	X2  uint8 = 2
	X3  uint8 = 3
	X4  uint8 = 4
	X5  uint8 = 5
	X6  uint8 = 6
	X7  uint8 = 7
	X8  uint8 = 8 // indirect-result (sret) register per AAPCS64
	X16 uint8 = 16
	X17 uint8 = 17
	X18 uint8 = 18 // platform register, not used by this backend
	X19 uint8 = 19
	X20 uint8 = 20
	X21 uint8 = 21
	X22 uint8 = 22
	X23 uint8 = 23
	X24 uint8 = 24
	X25 uint8 = 25
	X26 uint8 = 26
	X27 uint8 = 27
	X28 uint8 = 28
	X29 uint8 = 29 // fp
	X30 uint8 = 30 // lr
	SP  uint8 = 31 // encoding slot; never allocated as a GP value register
)

const (
	bankGP = adaptor.BankGP
	bankFP = adaptor.BankFP
)

var gpRegNames = [32]string{
	"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7",
	"x8", "x9", "x10", "x11", "x12", "x13", "x14", "x15",
	"x16", "x17", "x18", "x19", "x20", "x21", "x22", "x23",
	"x24", "x25", "x26", "x27", "x28", "fp", "lr", "sp",
}

func gpName(id uint8) string {
	if int(id) < len(gpRegNames) {
		return gpRegNames[id]
	}
	return "?"
}
