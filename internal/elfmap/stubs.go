package elfmap

import "github.com/xyproto/tpde/internal/elfobj"

// stubSize is the thunk layout for an out-of-range or external reference:
// an 8-byte load-and-branch preamble followed by an 8-byte absolute
// address literal. A direct branch targets the thunk's start; a
// GOT-style data reference targets literalOffset (start+8) instead.
// Grounded in spirit on the teacher's plt_got.go PLT[n]/GOT[n] pairing,
// adapted from a dynamic-linker-resolved pair to an eagerly-resolved one
// since the JIT mapper has the real address at map time.
const stubSize = 16
const literalOffset = 8

func writeStubPreamble(mach elfobj.Machine, buf []byte) {
	switch mach {
	case elfobj.MachineAArch64:
		// ldr x16, #8 ; br x16
		putLE32(buf[0:4], 0x58000050)
		putLE32(buf[4:8], 0xd61f0200)
	default:
		// jmp *[rip+2]; 2 bytes nop padding to keep the literal 8-aligned
		buf[0], buf[1] = 0xff, 0x25
		putLE32(buf[2:6], 2)
		buf[6], buf[7] = 0x90, 0x90
	}
}

func putLE32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
