package x64

import "github.com/xyproto/tpde/arch"

// rex builds a REX prefix byte. w sets 64-bit operand size (REX.W); r
// extends the ModR/M reg field; x extends the SIB index field (unused by
// this backend, which never emits a scaled index); b extends the ModR/M
// r/m field or a +reg opcode's low 3 bits. Grounded on the teacher's
// reg.go/mov.go REX-prefix construction.
func rex(w, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func needsRex(regs ...uint8) bool {
	for _, r := range regs {
		if r >= 8 {
			return true
		}
	}
	return false
}

// modrmReg encodes a register-direct (mod=11) ModR/M byte.
func modrmReg(regField, rm uint8) byte {
	return 0xC0 | (regField&7)<<3 | (rm & 7)
}

// emitMem writes the ModR/M (and, when needed, SIB) bytes for a
// base-register-plus-displacement memory operand, followed by the
// displacement itself. rsp/r12 as a base always needs a trailing SIB byte
// 0x24 (mod alone can't distinguish a plain base register from the
// r/m=100 SIB-escape); rbp/r13 as a base with a true zero displacement
// must be forced into the mod=01,disp8=0 form since mod=00,r/m=101 is
// reserved for RIP-relative addressing (both grounded on mem_ops.go's
// base-register special cases).
func emitMem(w arch.CodeWriter, regField, base uint8, offset int32) {
	baseEnc := base & 7
	needsSIB := baseEnc == 4          // rsp or r12
	forceDisp8 := baseEnc == 5 && offset == 0 // rbp or r13 with disp 0

	var mod byte
	switch {
	case offset == 0 && !forceDisp8:
		mod = 0x00
	case offset >= -128 && offset <= 127:
		mod = 0x40
	default:
		mod = 0x80
	}
	if forceDisp8 {
		mod = 0x40
	}

	rm := baseEnc
	if needsSIB {
		rm = 4
	}
	w.Byte(mod | (regField&7)<<3 | rm)
	if needsSIB {
		w.Byte(0x24) // scale=00, index=100 (none), base=100 (rsp/r12 itself)
	}
	switch mod {
	case 0x00:
	case 0x40:
		w.Byte(byte(int8(offset)))
	default:
		w.U32(uint32(offset))
	}
}
