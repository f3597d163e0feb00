// Package testir is a minimal, programmatically-built stand-in for the
// out-of-scope "IR adaptor" — just enough blocks/values/PHIs/instructions
// to drive the engine's own tests end to end. It has no textual syntax or
// parser, unlike the excluded "self-contained test IR parser/driver"
// (spec.md §1); it is built in spirit on
// original_source/tpde/src/test/TestIR.hpp but intentionally tiny.
package testir

import "github.com/xyproto/tpde/adaptor"

type phiIncoming struct {
	val   adaptor.ValueRef
	undef bool
}

type valueInfo struct {
	bank  adaptor.RegBank
	size  int
	parts int
	isRef bool
}

// Func is a hand-built function: a block graph, a flat instruction list
// per block, and optional PHIs. It implements adaptor.Adaptor directly.
type Func struct {
	name  string
	entry adaptor.BlockRef

	blockOrder []adaptor.BlockRef
	succs      map[adaptor.BlockRef][]adaptor.BlockRef
	preds      map[adaptor.BlockRef][]adaptor.BlockRef
	instrs     map[adaptor.BlockRef][]adaptor.InstRef
	phis       map[adaptor.BlockRef][]adaptor.ValueRef
	blockInfo  map[adaptor.BlockRef]adaptor.BlockInfo

	instOperands   map[adaptor.InstRef][]adaptor.ValueRef
	instResult     map[adaptor.InstRef]adaptor.ValueRef
	instHasResult  map[adaptor.InstRef]bool
	instTerminator map[adaptor.InstRef]bool
	lastUseAt      map[adaptor.InstRef]map[adaptor.ValueRef]bool

	phiIncoming map[adaptor.ValueRef]map[adaptor.BlockRef]phiIncoming

	values map[adaptor.ValueRef]valueInfo
	args   []adaptor.ValueRef

	nextBlock uint32
	nextValue uint32
	nextInst  uint32
}

// New creates an empty function and its entry block.
func New(name string) *Func {
	f := &Func{
		name:           name,
		succs:          make(map[adaptor.BlockRef][]adaptor.BlockRef),
		preds:          make(map[adaptor.BlockRef][]adaptor.BlockRef),
		instrs:         make(map[adaptor.BlockRef][]adaptor.InstRef),
		phis:           make(map[adaptor.BlockRef][]adaptor.ValueRef),
		blockInfo:      make(map[adaptor.BlockRef]adaptor.BlockInfo),
		instOperands:   make(map[adaptor.InstRef][]adaptor.ValueRef),
		instResult:     make(map[adaptor.InstRef]adaptor.ValueRef),
		instHasResult:  make(map[adaptor.InstRef]bool),
		instTerminator: make(map[adaptor.InstRef]bool),
		lastUseAt:      make(map[adaptor.InstRef]map[adaptor.ValueRef]bool),
		phiIncoming:    make(map[adaptor.ValueRef]map[adaptor.BlockRef]phiIncoming),
		values:         make(map[adaptor.ValueRef]valueInfo),
	}
	f.entry = f.AddBlock()
	return f
}

// AddBlock creates a new, initially edge-less block.
func (f *Func) AddBlock() adaptor.BlockRef {
	b := adaptor.BlockRef(f.nextBlock)
	f.nextBlock++
	f.blockOrder = append(f.blockOrder, b)
	return b
}

// AddEdge records a control-flow edge from -> to (order matters: it is the
// sibling order RPO determinism relies on).
func (f *Func) AddEdge(from, to adaptor.BlockRef) {
	f.succs[from] = append(f.succs[from], to)
	f.preds[to] = append(f.preds[to], from)
}

// AddArg declares a function argument of the given bank/size and returns
// its value reference.
func (f *Func) AddArg(bank adaptor.RegBank, size int) adaptor.ValueRef {
	v := f.newValue(bank, size, 1, false)
	f.args = append(f.args, v)
	return v
}

// AddStackSlot declares a variable-ref value (the address of a stack slot).
func (f *Func) AddStackSlot(size int) adaptor.ValueRef {
	return f.newValue(adaptor.BankGP, size, 1, true)
}

func (f *Func) newValue(bank adaptor.RegBank, size, parts int, isRef bool) adaptor.ValueRef {
	v := adaptor.ValueRef(f.nextValue)
	f.nextValue++
	f.values[v] = valueInfo{bank: bank, size: size, parts: parts, isRef: isRef}
	return v
}

// AddInst appends an instruction to block with the given operands; if
// hasResult, a fresh value of bank/size is created and returned.
func (f *Func) AddInst(block adaptor.BlockRef, operands []adaptor.ValueRef, hasResult bool, bank adaptor.RegBank, size int, terminator bool) (adaptor.InstRef, adaptor.ValueRef) {
	i := adaptor.InstRef(f.nextInst)
	f.nextInst++
	f.instrs[block] = append(f.instrs[block], i)
	f.instOperands[i] = operands
	f.instTerminator[i] = terminator
	var result adaptor.ValueRef
	if hasResult {
		result = f.newValue(bank, size, 1, false)
		f.instResult[i] = result
		f.instHasResult[i] = true
	}
	return i, result
}

// AddPHI declares a PHI at the start of block.
func (f *Func) AddPHI(block adaptor.BlockRef, bank adaptor.RegBank, size int) adaptor.ValueRef {
	v := f.newValue(bank, size, 1, false)
	f.phis[block] = append(f.phis[block], v)
	f.phiIncoming[v] = make(map[adaptor.BlockRef]phiIncoming)
	return v
}

// SetIncoming records the value phi takes when control arrives from pred.
func (f *Func) SetIncoming(phi adaptor.ValueRef, pred adaptor.BlockRef, val adaptor.ValueRef) {
	f.phiIncoming[phi][pred] = phiIncoming{val: val}
}

// SetUndefIncoming marks phi's incoming value from pred as undef (e.g. an
// unreachable predecessor).
func (f *Func) SetUndefIncoming(phi adaptor.ValueRef, pred adaptor.BlockRef) {
	f.phiIncoming[phi][pred] = phiIncoming{undef: true}
}

// MarkLastUse marks that the use of v as an operand of i is its final use.
// The builder does not infer this automatically: callers construct small,
// explicit test functions and know their own last uses.
func (f *Func) MarkLastUse(i adaptor.InstRef, v adaptor.ValueRef) {
	if f.lastUseAt[i] == nil {
		f.lastUseAt[i] = make(map[adaptor.ValueRef]bool)
	}
	f.lastUseAt[i][v] = true
}

// --- adaptor.Adaptor ---

func (f *Func) FuncName() string            { return f.name }
func (f *Func) EntryBlock() adaptor.BlockRef { return f.entry }

func (f *Func) Blocks() []adaptor.BlockRef { return f.blockOrder }

func (f *Func) Successors(b adaptor.BlockRef) []adaptor.BlockRef { return f.succs[b] }

func (f *Func) Predecessors(b adaptor.BlockRef) []adaptor.BlockRef { return f.preds[b] }

func (f *Func) BlockInfo(b adaptor.BlockRef) adaptor.BlockInfo { return f.blockInfo[b] }

func (f *Func) SetBlockInfo(b adaptor.BlockRef, info adaptor.BlockInfo) { f.blockInfo[b] = info }

func (f *Func) Instructions(b adaptor.BlockRef) []adaptor.InstRef { return f.instrs[b] }

func (f *Func) Operands(i adaptor.InstRef) []adaptor.ValueRef { return f.instOperands[i] }

func (f *Func) ResultValue(i adaptor.InstRef) (adaptor.ValueRef, bool) {
	return f.instResult[i], f.instHasResult[i]
}

func (f *Func) IsTerminator(i adaptor.InstRef) bool { return f.instTerminator[i] }

func (f *Func) PHIs(b adaptor.BlockRef) []adaptor.ValueRef { return f.phis[b] }

func (f *Func) PHIIncoming(phi adaptor.ValueRef, pred adaptor.BlockRef) (adaptor.ValueRef, bool) {
	in := f.phiIncoming[phi][pred]
	return in.val, in.undef
}

func (f *Func) Arguments() []adaptor.ValueRef { return f.args }

func (f *Func) IgnoreInLiveness(v adaptor.ValueRef) bool { return false }

func (f *Func) ValuePartCount(v adaptor.ValueRef) int { return f.values[v].parts }

func (f *Func) ValuePartBank(v adaptor.ValueRef, part int) adaptor.RegBank {
	return f.values[v].bank
}

func (f *Func) ValuePartSize(v adaptor.ValueRef, part int) int { return f.values[v].size }

func (f *Func) IsVariableRef(v adaptor.ValueRef) bool { return f.values[v].isRef }

func (f *Func) LastUse(i adaptor.InstRef, v adaptor.ValueRef) bool { return f.lastUseAt[i][v] }
