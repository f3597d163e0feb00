// Package adaptor defines the trait a client implements to hand its own
// intermediate representation to the engine. It is intentionally the only
// contract between the IR-agnostic core (analyzer, compiler, register
// file) and a concrete IR — the core never imports a concrete IR package
// (spec.md §1 "Out of scope": the IR adaptor is an external collaborator,
// referenced only by interface).
package adaptor

// BlockRef identifies a basic block as the client's IR knows it. The
// engine never interprets this value; it only ever passes it back to the
// adaptor.
type BlockRef uint32

// ValueRef identifies an SSA-like value (or PHI, or argument) as the
// client's IR knows it.
type ValueRef uint32

// InstRef identifies an instruction within a block.
type InstRef uint32

// BlockInfo is the two 32-bit scratch words the analyzer uses during RPO
// construction and leaves holding the final layout index, per spec.md §3
// "Block layout index": "The adaptor stores two 32-bit info words per
// block, which the analyzer uses as scratch during RPO construction and
// then leaves containing the final layout index."
type BlockInfo struct {
	Scratch0 uint32
	LayoutIdx uint32
}

// Adaptor is implemented by the client to enumerate blocks, values,
// operands, PHIs, and arguments of one function at a time.
type Adaptor interface {
	// FuncName returns a human-readable name for diagnostics.
	FuncName() string

	// EntryBlock returns the function's entry block.
	EntryBlock() BlockRef

	// Blocks returns every block of the function in the IR's own
	// (arbitrary) order. The analyzer computes reverse post-order from
	// this plus Successors; blocks unreachable from EntryBlock are
	// discarded by the analyzer, never visited again.
	Blocks() []BlockRef

	// Successors returns a block's successors in the IR's original
	// sibling order — RPO determinism requires preserving this order
	// (spec.md §4.1 "RPO").
	Successors(b BlockRef) []BlockRef

	// Predecessors returns a block's predecessors; len > 1 marks a block
	// as needing a PHI edge-split candidate.
	Predecessors(b BlockRef) []BlockRef

	// BlockInfo/SetBlockInfo give the analyzer read/write access to the
	// adaptor-owned scratch words described above.
	BlockInfo(b BlockRef) BlockInfo
	SetBlockInfo(b BlockRef, info BlockInfo)

	// Instructions returns a block's instructions in program order.
	Instructions(b BlockRef) []InstRef

	// Operands returns the values read by an instruction (not including
	// PHI incoming values, which are enumerated via PHIs below).
	Operands(i InstRef) []ValueRef

	// ResultValue returns the value an instruction defines, and whether it
	// defines one at all (a void instruction has ok == false).
	ResultValue(i InstRef) (v ValueRef, ok bool)

	// IsTerminator reports whether the instruction ends its block.
	IsTerminator(i InstRef) bool

	// PHIs returns every PHI defined at the start of block b.
	PHIs(b BlockRef) []ValueRef

	// PHIIncoming returns the value phi takes when control arrives from
	// pred, and whether that incoming value is itself undef (an undef
	// incoming value from an unreachable predecessor is not a contract
	// violation; a defined value from an unreachable predecessor is,
	// spec.md §7 "Adaptor contract violations").
	PHIIncoming(phi ValueRef, pred BlockRef) (v ValueRef, undef bool)

	// Arguments returns the function's arguments, in calling-convention
	// order; each is also treated as live-in at the entry block for
	// liveness purposes.
	Arguments() []ValueRef

	// IgnoreInLiveness reports values the analyzer must skip entirely —
	// values with no result, or explicitly marked ignorable by the
	// adaptor (spec.md §4.1 "Liveness").
	IgnoreInLiveness(v ValueRef) bool

	// ValuePartCount and ValuePartBank/Size describe how many machine
	// register parts back one IR value (an i128 might be two 64-bit
	// parts) and what bank/size each part needs (spec.md §3
	// "Value assignment").
	ValuePartCount(v ValueRef) int
	ValuePartBank(v ValueRef, part int) RegBank
	ValuePartSize(v ValueRef, part int) int

	// IsVariableRef reports whether v's materialised form is the address
	// of a stack slot rather than its contents (spec.md GLOSSARY
	// "Variable-ref").
	IsVariableRef(v ValueRef) bool

	// LastUse reports whether this use of v at instruction i is the last
	// one (drives salvage-in-place, spec.md §4.4 "Salvage").
	LastUse(i InstRef, v ValueRef) bool
}

// RegBank is a disjoint register class (integer GP vs floating/vector),
// spec.md GLOSSARY "Bank". Defined here, not in arch, so the adaptor can
// describe value banks without importing a concrete architecture package.
type RegBank uint8

const (
	BankInvalid RegBank = iota
	BankGP
	BankFP
)

func (b RegBank) String() string {
	switch b {
	case BankGP:
		return "gp"
	case BankFP:
		return "fp"
	default:
		return "invalid"
	}
}
