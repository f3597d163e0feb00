package analyzer

import "github.com/xyproto/tpde/adaptor"

// Liveness is the per-value interval computed by the analyzer, spec.md §3
// "Liveness info": {first, last} layout indices, ref_count,
// lowest_common_loop, last_full.
type Liveness struct {
	First, Last int
	RefCount    int
	LCL         int // index into Analyzer.Loops
	LastFull    bool
}

// computeLiveness makes a single pass over the laid-out blocks, extending
// each referenced value's interval and lowest-common-loop as described in
// spec.md §4.1 "Liveness".
func (an *Analyzer) computeLiveness() {
	an.Liveness = make(map[adaptor.ValueRef]*Liveness)
	a := an.a

	visit := func(v adaptor.ValueRef, pos int) {
		if a.IgnoreInLiveness(v) {
			return
		}
		an.visitRef(v, pos)
	}

	for idx := range an.Loops {
		an.Loops[idx].Definitions = 0
		an.Loops[idx].DefinitionsInChildren = 0
	}

	define := func(v adaptor.ValueRef, loop int) {
		if !a.IgnoreInLiveness(v) {
			an.Loops[loop].Definitions++
		}
	}

	for pos, b := range an.Layout {
		loop := an.BlockLoop(b)
		if b == a.EntryBlock() {
			for _, arg := range a.Arguments() {
				define(arg, loop)
				visit(arg, pos)
			}
		}
		for _, phi := range a.PHIs(b) {
			define(phi, loop)
			visit(phi, pos)
		}
		for _, inst := range a.Instructions(b) {
			for _, op := range a.Operands(inst) {
				visit(op, pos)
			}
			if res, ok := a.ResultValue(inst); ok {
				define(res, loop)
			}
		}
		for _, succ := range a.Successors(b) {
			for _, phi := range a.PHIs(succ) {
				incoming, undef := a.PHIIncoming(phi, b)
				if !undef {
					visit(incoming, pos)
				}
			}
		}
	}

	an.rollupDefinitions()
}

// rollupDefinitions sums each loop's own Definitions (counted in
// computeLiveness, in the loop of each value's defining block) into every
// enclosing loop's DefinitionsInChildren, deepest loops first so a parent
// always sees its children's totals already folded in. Mirrors the
// original analyzer's definitions/definitions_in_childs bookkeeping; used
// by the compiler to log loop-scoped register pressure under verbose mode.
func (an *Analyzer) rollupDefinitions() {
	order := make([]int, len(an.Loops))
	for i := range order {
		order[i] = i
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && an.Loops[order[j]].Level > an.Loops[order[j-1]].Level; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	for _, idx := range order {
		if idx == rootLoop {
			continue
		}
		parent := an.Loops[idx].Parent
		an.Loops[parent].DefinitionsInChildren += an.Loops[idx].DefinitionsInChildren + an.Loops[idx].Definitions
	}
}

func (an *Analyzer) visitRef(v adaptor.ValueRef, pos int) {
	lv, ok := an.Liveness[v]
	if !ok {
		lcl := an.BlockLoop(an.Layout[pos])
		lv = &Liveness{First: pos, Last: pos, LCL: lcl}
		an.Liveness[v] = lv
	}
	lv.RefCount++
	if !ok {
		return
	}

	curLoop := an.BlockLoop(an.Layout[pos])
	if curLoop == lv.LCL {
		if pos > lv.Last {
			lv.Last = pos
		}
		if pos < lv.First {
			lv.First = pos
		}
		return
	}

	if child := an.directChildContaining(lv.LCL, pos); child != -1 {
		// The new reference is nested one or more loops deeper than lcl,
		// but still within lcl's range: the value must stay live across
		// the whole enclosing child loop.
		if an.Loops[child].End-1 > lv.Last {
			lv.Last = an.Loops[child].End - 1
		}
		lv.LastFull = true
		return
	}

	newLCL := an.lca(lv.LCL, curLoop)
	if childOld := an.directChildContaining(newLCL, lv.First); childOld != -1 {
		if an.Loops[childOld].Begin < lv.First {
			lv.First = an.Loops[childOld].Begin
		}
	}
	if childNew := an.directChildContaining(newLCL, pos); childNew != -1 {
		if an.Loops[childNew].End-1 > lv.Last {
			lv.Last = an.Loops[childNew].End - 1
		}
	}
	if pos > lv.Last {
		lv.Last = pos
	}
	if pos < lv.First {
		lv.First = pos
	}
	lv.LCL = newLCL
	lv.LastFull = true
}
