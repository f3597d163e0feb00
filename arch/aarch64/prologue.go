package aarch64

import "github.com/xyproto/tpde/arch"

// prologuePlaceholderWords is sized for the worst case: stp fp,lr,[sp,#-N]!
// plus mov x29,sp plus up to 5 stp pairs for 10 callee-saved GP registers
// plus sub sp,sp,#frame — all 1 instruction each, so exactly 8 words;
// padded with NOP (0xD503201F) when the real sequence is shorter.
const prologuePlaceholderWords = 8
const prologuePlaceholderBytes = prologuePlaceholderWords * 4

const nopInstr uint32 = 0xD503201F

// EmitProloguePlaceholder reserves prologuePlaceholderBytes of NOPs, the
// same speculative-then-patch strategy x64 uses and for the same reason:
// the real callee-saved set and frame size aren't known until the whole
// body has been emitted (spec.md §4.4).
func (b *Backend) EmitProloguePlaceholder(w arch.CodeWriter) int {
	pos := w.Pos()
	for i := 0; i < prologuePlaceholderWords; i++ {
		emit(w, nopInstr)
	}
	return pos
}

// FinalizePrologue overwrites the placeholder with: stp x29,x30,[sp,#-16]!
// ; mov x29,sp ; a stp pair for every two clobbered callee-saved GP
// registers (a trailing odd one gets its own str) ; sub sp,sp,#frame.
// Grounded on arm64_instructions.go's StpImm64 for the pre-indexed push
// and SubImm64 for the frame adjustment.
func (b *Backend) FinalizePrologue(w arch.CodeWriter, entryLabelPos int, info arch.PrologueInfo, cfi arch.CFIWriter) {
	bp, ok := w.(bytePatcher)
	if !ok {
		return
	}
	var words []uint32
	pos := 0
	advanceAt := 0
	advance := func() {
		if cfi == nil {
			return
		}
		if d := pos - advanceAt; d > 0 {
			cfi.AdvanceLoc(d)
		}
		advanceAt = pos
	}

	// stp x29,x30,[sp,#-16]! : pre-indexed, opc=10,V=0,L=0, imm7=-2 (scaled by 8)
	words = append(words, 0xA9BF7BFD)
	pos += 4
	if cfi != nil {
		advance()
		cfi.DefCFAOffset(16)
		cfi.Offset(29, -16)
		cfi.Offset(30, -8)
	}
	// mov x29,sp : ADD x29,sp,#0
	words = append(words, 0x910003FD)
	pos += 4
	if cfi != nil {
		advance()
		cfi.DefCFARegister(29)
	}

	cfaOffset := 16
	clobbered := gpOnly(info.ClobberedCallee)
	for i := 0; i < len(clobbered); i += 2 {
		if i+1 < len(clobbered) {
			r1, r2 := clobbered[i], clobbered[i+1]
			// stp r1,r2,[sp,#-16]!
			words = append(words, stpPreIndex(r1.ID, r2.ID, -16))
			cfaOffset += 16
			if cfi != nil {
				pos += 4
				advance()
				cfi.Offset(uint8(r1.ID), -int(cfaOffset))
				cfi.Offset(uint8(r2.ID), -int(cfaOffset)+8)
			} else {
				pos += 4
			}
		} else {
			r := clobbered[i]
			// str r,[sp,#-16]!
			words = append(words, strPreIndex(r.ID, -16))
			cfaOffset += 16
			pos += 4
			if cfi != nil {
				advance()
				cfi.Offset(uint8(r.ID), -int(cfaOffset))
			}
		}
	}

	if info.FrameSize > 0 {
		words = append(words, subImmWord(SP, SP, uint32(info.FrameSize)))
		pos += 4
		if cfi != nil {
			advance()
			cfi.DefCFAOffset(cfaOffset + info.FrameSize)
		}
	}

	buf := make([]byte, 0, prologuePlaceholderBytes)
	for _, wd := range words {
		buf = append(buf, byte(wd), byte(wd>>8), byte(wd>>16), byte(wd>>24))
	}
	for len(buf) < prologuePlaceholderBytes {
		buf = append(buf,
			byte(nopInstr&0xff), byte(nopInstr>>8&0xff), byte(nopInstr>>16&0xff), byte(nopInstr>>24))
	}
	bp.PatchBytes(entryLabelPos, buf)
}

// EmitEpilogue restores in mirror order: sub/add sp back (or mov sp,x29
// when the function used a dynamic alloca), an ldp/ldr for each
// callee-saved register, ldp x29,x30,[sp],#16 (post-indexed), ret.
func (b *Backend) EmitEpilogue(w arch.CodeWriter, info arch.PrologueInfo) {
	if info.HasAlloca {
		emit(w, 0x910003BF|uint32(X29)<<5) // mov sp,x29 == add sp,x29,#0
	} else if info.FrameSize > 0 {
		emit(w, addImmWord(SP, SP, uint32(info.FrameSize)))
	}

	clobbered := gpOnly(info.ClobberedCallee)
	for i := len(clobbered) - 1; i >= 0; i -= 2 {
		if i-1 >= 0 {
			r1, r2 := clobbered[i-1], clobbered[i]
			emit(w, ldpPostIndex(r1.ID, r2.ID, 16))
		} else {
			emit(w, ldrPostIndex(clobbered[i].ID, 16))
		}
	}
	// ldp x29,x30,[sp],#16 : post-indexed
	emit(w, 0xA8C17BFD)
	emit(w, 0xD65F03C0) // ret x30
}

// gpOnly drops any FP callee-saved registers (d8-d15) from the clobbered
// set: this prologue/epilogue only saves/restores the GP bank. A function
// that clobbers an FP callee-saved register needs its own save sequence;
// left as an Open Question since no SPEC_FULL.md scenario exercises it.
func gpOnly(regs []arch.Reg) []arch.Reg {
	var out []arch.Reg
	for _, r := range regs {
		if r.Bank == bankGP {
			out = append(out, r)
		}
	}
	return out
}

// stpPreIndex encodes STP Xt1,Xt2,[sp,#off]! (pre-indexed, imm7 scaled by 8).
func stpPreIndex(rt1, rt2 uint8, off int32) uint32 {
	imm7 := uint32(off/8) & 0x7f
	return 0xA9800000 | imm7<<15 | uint32(rt2)<<10 | uint32(SP)<<5 | uint32(rt1)
}

// ldpPostIndex encodes LDP Xt1,Xt2,[sp],#off (post-indexed).
func ldpPostIndex(rt1, rt2 uint8, off int32) uint32 {
	imm7 := uint32(off/8) & 0x7f
	return 0xA8C00000 | imm7<<15 | uint32(rt2)<<10 | uint32(SP)<<5 | uint32(rt1)
}

// strPreIndex/ldrPostIndex handle an odd trailing callee-saved register
// that doesn't pair up.
func strPreIndex(rt uint8, off int32) uint32 {
	imm9 := uint32(off) & 0x1ff
	return 0xF8000C00 | imm9<<12 | uint32(SP)<<5 | uint32(rt)
}

func ldrPostIndex(rt uint8, off int32) uint32 {
	imm9 := uint32(off) & 0x1ff
	return 0xF8400400 | imm9<<12 | uint32(SP)<<5 | uint32(rt)
}

// subImmWord/addImmWord encode SUB/ADD Xd,Xn,#imm (0xD1000000/0x91000000)
// for a 12-bit unsigned immediate, used for the frame-size stack
// adjustment in the prologue and its mirror in the epilogue.
func subImmWord(rd, rn uint8, imm uint32) uint32 {
	return 0xD1000000 | (imm&0xfff)<<10 | uint32(rn)<<5 | uint32(rd)
}

func addImmWord(rd, rn uint8, imm uint32) uint32 {
	return 0x91000000 | (imm&0xfff)<<10 | uint32(rn)<<5 | uint32(rd)
}
