package x64

import "github.com/xyproto/tpde/arch"

// prologuePlaceholderBytes is sized for the worst case this backend ever
// emits: push rbp; mov rbp,rsp; push of up to 14 callee-saved GP registers
// (1-2 bytes each with REX.B); sub rsp,imm32 (7 bytes). Padded with NOPs
// (0x90) by FinalizePrologue if the real sequence is shorter.
const prologuePlaceholderBytes = 48

// EmitProloguePlaceholder reserves prologuePlaceholderBytes of NOPs at the
// function's entry point. The real callee-saved set and frame size aren't
// known until the whole body has been emitted (spec.md §4.4), so the
// compiler core emits the body first and calls FinalizePrologue once it
// has a complete arch.PrologueInfo.
func (b *Backend) EmitProloguePlaceholder(w arch.CodeWriter) int {
	pos := w.Pos()
	w.EnsureSpace(prologuePlaceholderBytes)
	for i := 0; i < prologuePlaceholderBytes; i++ {
		w.Byte(0x90)
	}
	return pos
}

type bytePatcher interface {
	PatchBytes(offset int, data []byte)
}

// FinalizePrologue overwrites the placeholder with: push rbp; mov rbp,rsp;
// a push for each clobbered callee-saved register; sub rsp,frameSize
// (omitted when zero); padded to the placeholder's width with NOPs. CFI
// opcodes are streamed to cfi as each instruction is synthesized, matching
// spec.md §4.4's "CFI instructions are streamed to the FDE as the
// prologue is emitted". Grounded on push.go for the PUSH encoding and
// AssemblerElf.hpp for the CFI opcode shapes.
func (b *Backend) FinalizePrologue(w arch.CodeWriter, entryLabelPos int, info arch.PrologueInfo, cfi arch.CFIWriter) {
	bw, ok := w.(bytePatcher)
	if !ok {
		return
	}
	buf := make([]byte, 0, prologuePlaceholderBytes)
	pos := 0
	lastCFIPos := 0
	advance := func() {
		if cfi == nil {
			return
		}
		if d := pos - lastCFIPos; d > 0 {
			cfi.AdvanceLoc(d)
		}
		lastCFIPos = pos
	}

	emit := func(bs ...byte) { buf = append(buf, bs...); pos += len(bs) }

	// push rbp
	emit(0x50 + RBP)
	if cfi != nil {
		advance()
		cfi.DefCFAOffset(16)
		cfi.Offset(dwarf(RBP), -16)
	}
	// mov rbp,rsp
	emit(rex(true, false, false, false), 0x89, modrmReg(RSP, RBP))
	if cfi != nil {
		advance()
		cfi.DefCFARegister(dwarf(RBP))
	}

	cfaOffset := 16
	for _, r := range info.ClobberedCallee {
		if r.Bank != bankGP {
			continue
		}
		if r.ID >= 8 {
			emit(rex(false, false, false, true), 0x50+r.ID&7)
		} else {
			emit(0x50 + r.ID)
		}
		cfaOffset += 8
		if cfi != nil {
			advance()
			cfi.Offset(dwarf(r.ID), -cfaOffset)
		}
	}

	if info.FrameSize > 0 {
		frame := info.FrameSize
		if frame >= -128 && frame <= 127 {
			emit(rex(true, false, false, false), 0x83, modrmReg(5, RSP), byte(int8(frame)))
		} else {
			emit(rex(true, false, false, false), 0x81, modrmReg(5, RSP))
			emit(byte(frame), byte(frame>>8), byte(frame>>16), byte(frame>>24))
		}
		if cfi != nil {
			advance()
			cfi.DefCFAOffset(cfaOffset + frame)
		}
	}

	for len(buf) < prologuePlaceholderBytes {
		buf = append(buf, 0x90)
	}
	bw.PatchBytes(entryLabelPos, buf)
}

// EmitEpilogue restores rsp (via rbp when the function used a dynamic
// alloca, via an immediate add otherwise), pops every clobbered
// callee-saved register (in reverse push order), pops rbp, and returns.
// Grounded on ret.go/push.go.
func (b *Backend) EmitEpilogue(w arch.CodeWriter, info arch.PrologueInfo) {
	w.EnsureSpace(8)
	if info.HasAlloca {
		// mov rsp,rbp
		w.Byte(rex(true, false, false, false))
		w.Byte(0x89)
		w.Byte(modrmReg(RBP, RSP))
	} else if info.FrameSize > 0 {
		emitGroup1(w, 0 /* /0 = ADD */, arch.Reg{Bank: bankGP, ID: RSP}, int64(info.FrameSize), 8)
	}
	for i := len(info.ClobberedCallee) - 1; i >= 0; i-- {
		r := info.ClobberedCallee[i]
		if r.Bank != bankGP {
			continue
		}
		w.EnsureSpace(2)
		if r.ID >= 8 {
			w.Byte(rex(false, false, false, true))
		}
		w.Byte(0x58 + r.ID&7)
	}
	w.EnsureSpace(2)
	w.Byte(0x58 + RBP) // pop rbp
	w.Byte(0xC3)       // ret
}
