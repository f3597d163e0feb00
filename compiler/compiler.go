// Package compiler is the architecture-agnostic single-pass engine
// spec.md §4.4 calls the "Compiler base": the value-assignment store, the
// per-bank register file, fixed/scratch register machinery, PHI
// resolution, and call-site plumbing. It never chooses opcodes itself —
// that's the embedder's InstructionEmitter, analogous to the teacher's
// CRTP-derived code generator calling back into a shared base. Grounded
// on the teacher's calling_convention.go CallSiteManager for call-site
// bookkeeping and errors.go for the fatal/panic-recover shape.
package compiler

import (
	"github.com/xyproto/tpde/adaptor"
	"github.com/xyproto/tpde/analyzer"
	"github.com/xyproto/tpde/arch"
	"github.com/xyproto/tpde/regfile"
)

// InstructionEmitter is implemented by the embedder (e.g. cmd/tpdec's toy
// lowering over internal/testir) to translate one IR instruction into
// machine code using the primitives Compiler exposes.
type InstructionEmitter[A adaptor.Adaptor] interface {
	EmitInst(c *Compiler[A], block adaptor.BlockRef, inst adaptor.InstRef) error

	// BranchCond returns the condition code distinguishing the two
	// successors of a two-successor (conditional) block's terminator:
	// true takes Successors(block)[0], false falls through to
	// Successors(block)[1]. Only called in that shape (spec.md §4.4 "PHI
	// / branch resolution" step 3) — the condition itself is IR-specific,
	// so the compiler base asks the embedder for it rather than guessing.
	BranchCond(c *Compiler[A], block adaptor.BlockRef, inst adaptor.InstRef) arch.CondCode
}

// Compiler drives one function's compilation: analysis, then a single
// walk over the laid-out blocks, then prologue/epilogue finalization.
// Parameterized over the adaptor type only — the architecture is an
// interface value (arch.Backend), not a second type parameter, since
// nothing here needs to be specialized per backend at compile time.
type Compiler[A adaptor.Adaptor] struct {
	Backend arch.Backend
	Text    arch.CodeWriter
	Assign  *analyzer.Analyzer

	a A

	store *regfile.Store
	regs  *regfile.File

	stackCursor int32
	hasCalls    bool
	hasAlloca   bool

	entryLabelPos    int
	pendingJumps     []pendingBranch
	blockStart       map[adaptor.BlockRef]int // resolved code offset, -1 if not yet emitted
	pendingEntryPHIs map[adaptor.BlockRef]func()

	cfi arch.CFIWriter
	log Logger
}

// New creates a Compiler bound to one backend. The Store/File it
// allocates are reused across functions via Reset — construct one
// Compiler per compilation unit, not per function.
func New[A adaptor.Adaptor](backend arch.Backend) *Compiler[A] {
	return &Compiler[A]{
		Backend: backend,
		store:   regfile.NewStore(),
		regs:    regfile.NewFile(),
		log:     nopLogger{},
	}
}

// UseBanks installs the register banks for this architecture. Called
// once after New, before the first CompileFunction.
func (c *Compiler[A]) UseBanks(gp, fp *regfile.Bank) {
	c.regs.AddBank(uint8(adaptor.BankGP), gp)
	c.regs.AddBank(uint8(adaptor.BankFP), fp)
}

// beginFunction resets per-function state, runs the analysis pass, and
// emits the speculative prologue.
func (c *Compiler[A]) beginFunction(a A, text arch.CodeWriter) {
	c.a = a
	c.Text = text
	c.store.Reset()
	c.regs.Reset()
	c.stackCursor = 0
	c.hasCalls = false
	c.hasAlloca = false
	c.pendingJumps = nil
	c.pendingEntryPHIs = make(map[adaptor.BlockRef]func())

	c.Assign = analyzer.Build(a)

	c.blockStart = make(map[adaptor.BlockRef]int, len(c.Assign.Layout))
	for _, b := range c.Assign.Layout {
		c.blockStart[b] = -1
	}

	c.entryLabelPos = c.Backend.EmitProloguePlaceholder(text)
}

// endFunction patches in the real prologue/epilogue now that clobbered
// callee-saved registers and the final frame size are known
// (spec.md §4.4 "written at function end").
func (c *Compiler[A]) endFunction(isVarArg bool) arch.PrologueInfo {
	info := arch.PrologueInfo{
		FrameSize:       int(c.stackCursor),
		ClobberedCallee: c.clobberedCalleeRegs(),
		HasCalls:        c.hasCalls,
		HasAlloca:       c.hasAlloca,
		IsVarArg:        isVarArg,
	}
	c.Backend.FinalizePrologue(c.Text, c.entryLabelPos, info, c.cfi)
	c.Backend.EmitEpilogue(c.Text, info)
	return info
}

func (c *Compiler[A]) clobberedCalleeRegs() []arch.Reg {
	var out []arch.Reg
	for _, bankKey := range []uint8{uint8(adaptor.BankGP), uint8(adaptor.BankFP)} {
		bank := c.regs.Bank(bankKey)
		if bank == nil {
			continue
		}
		for _, r := range bank.Clobbered() {
			out = append(out, arch.Reg{Bank: adaptor.RegBank(bankKey), ID: r})
		}
	}
	return out
}

// CompileFunction runs the full pipeline for one function: analysis,
// prologue, a single pass over the laid-out blocks dispatching each
// instruction to emitter, branch/PHI resolution at every terminator, and
// epilogue finalization. Any Fatalf call anywhere in that walk is
// recovered here and returned as a normal error (spec.md §7).
func (c *Compiler[A]) CompileFunction(a A, text arch.CodeWriter, emitter InstructionEmitter[A]) (info arch.PrologueInfo, err error) {
	defer recoverFatal(&err)

	c.beginFunction(a, text)
	root := c.Assign.Loops[0]
	c.log.Debugf("compiling %s: %d blocks, %d loops, %d value definitions",
		a.FuncName(), len(c.Assign.Layout), len(c.Assign.Loops)-1, root.Definitions+root.DefinitionsInChildren)

	for _, b := range c.Assign.Layout {
		c.blockStart[b] = text.Pos()
		if fn, ok := c.pendingEntryPHIs[b]; ok {
			fn()
			delete(c.pendingEntryPHIs, b)
		}
		for _, inst := range a.Instructions(b) {
			if a.IsTerminator(inst) {
				c.resolveTerminator(b, inst, emitter)
				continue
			}
			if ferr := emitter.EmitInst(c, b, inst); ferr != nil {
				return info, ferr
			}
		}
	}

	c.patchPendingBranches()
	info = c.endFunction(false)
	return info, nil
}

// AllocStackSlot reserves sizeBytes of frame space (aligned to align) and
// returns its offset from the frame base, growing the function's frame
// size as a side effect.
func (c *Compiler[A]) AllocStackSlot(sizeBytes, align int32) int32 {
	if align < 1 {
		align = 1
	}
	c.stackCursor = (c.stackCursor + align - 1) &^ (align - 1)
	off := c.stackCursor
	c.stackCursor += sizeBytes
	return off
}

// MarkAlloca records that this function performs dynamic stack
// allocation, switching the epilogue to the fp-relative restore variant
// (spec.md §4.4 "Dynamic stack allocation").
func (c *Compiler[A]) MarkAlloca() { c.hasAlloca = true }

// Store/regs accessors for the assignment and branch-resolution helpers
// in the other files of this package.
func (c *Compiler[A]) Store() *regfile.Store { return c.store }
func (c *Compiler[A]) Regs() *regfile.File   { return c.regs }
func (c *Compiler[A]) Adaptor() A            { return c.a }
