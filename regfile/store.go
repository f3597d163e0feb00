// Package regfile is the value-assignment arena and per-bank register
// file the compiler core consults on every value reference (spec.md
// §3 "Assignment", §4.4 "register file"). Grounded on the teacher's
// register_allocator.go (LiveInterval bookkeeping, callee/caller-saved
// partition) and register_tracker.go (in-use/reserved bitmaps), replacing
// their string-keyed, single-architecture tables with an arena-indexed,
// bank-generic design per spec.md §9's "pointer-identified assignment ->
// arena index" design note.
package regfile

import (
	"github.com/xyproto/tpde/adaptor"
	"github.com/xyproto/tpde/internal/bits"
)

// AssignmentID is a stable arena index for one value's assignment,
// replacing the C++ original's pointer identity (spec.md §9).
type AssignmentID int

const invalidAssignment AssignmentID = -1

// PartState is the per-value-part bookkeeping spec.md §3 "Assignment"
// describes: which bank/size it is, its current register (if any), its
// stack slot (if it has one), and the modified/fixed/variable-ref flags
// that drive spill and salvage decisions.
type PartState struct {
	Bank adaptor.RegBank
	Size int

	HasReg      bool
	Reg         uint8 // dense id within its bank's register file
	StackOffset int32
	StackValid  bool
	Modified    bool

	Fixed       bool // pinned to Reg for the assignment's lifetime (e.g. call args)
	VariableRef bool // address-of-stack-slot value; never register-resident
}

// Assignment is one value's full state: one PartState per value part
// (spec.md §3: "a value may occupy more than one part — e.g. a 128-bit
// value split across two GP registers").
type Assignment struct {
	Value    adaptor.ValueRef
	RefCount int
	Parts    []PartState
}

// Store is the per-function assignment arena. It is reused across
// functions via Reset, matching spec.md §5's "per-function scratch is
// cleared and reused between functions" and built on
// internal/bits.SegmentedVector so an AssignmentID stays valid (the
// backing array never moves) even as more assignments are created later
// in the same function.
type Store struct {
	arena  *bits.SegmentedVector[Assignment]
	lookup map[adaptor.ValueRef]AssignmentID
}

// NewStore creates an empty arena.
func NewStore() *Store {
	return &Store{
		arena:  bits.NewSegmentedVector[Assignment](),
		lookup: make(map[adaptor.ValueRef]AssignmentID),
	}
}

// Reset empties the arena for the next function while keeping its
// allocated segments.
func (s *Store) Reset() {
	s.arena.Reset()
	for k := range s.lookup {
		delete(s.lookup, k)
	}
}

// Create allocates a fresh assignment for v with the given per-part
// bank/size, returning its stable id. Calling Create twice for the same
// value is a caller bug (use Lookup first).
func (s *Store) Create(v adaptor.ValueRef, parts []PartState) AssignmentID {
	id := AssignmentID(s.arena.Push(Assignment{Value: v, Parts: parts}))
	s.lookup[v] = id
	return id
}

// Lookup finds v's existing assignment, if any.
func (s *Store) Lookup(v adaptor.ValueRef) (AssignmentID, bool) {
	id, ok := s.lookup[v]
	return id, ok
}

// Get returns a stable pointer to the assignment at id, valid for the
// rest of the function's compilation (segments never move, per
// internal/bits.SegmentedVector).
func (s *Store) Get(id AssignmentID) *Assignment { return s.arena.At(int(id)) }

// Forget drops v's lookup entry (its last use has passed and its
// registers/stack slot have been freed), without compacting the arena.
func (s *Store) Forget(v adaptor.ValueRef) { delete(s.lookup, v) }
