// Package analyzer computes, once per function, the data the single-pass
// compiler walks: a dense reverse-post-order block layout, the loop tree
// nested inside it, and per-value liveness intervals (spec.md §4.1).
//
// Grounded on original_source/tpde/include/tpde/Analyzer.hpp for the
// algorithm; no teacher analogue exists (xyproto/c67 compiles an AST
// directly and never builds a block graph).
package analyzer

import "github.com/xyproto/tpde/adaptor"

// blockState tags a block's traversal status during the iterative
// post-order walk, stored in the adaptor's per-block scratch word
// (spec.md §3 "Block layout index").
const (
	stateUnvisited uint32 = 0
	stateOnStack   uint32 = 1
	stateDone      uint32 = 2
)

// frame is one entry of the explicit DFS stack used in place of recursion
// (spec.md §9 "Recursion-by-stack in RPO/loop identification → explicit
// work stack").
type frame struct {
	block    adaptor.BlockRef
	succIdx  int
	succs    []adaptor.BlockRef
}

// buildRPO performs a non-recursive post-order walk and returns blocks in
// reverse post-order. Unreachable blocks are discarded. Determinism: a
// block's successors are visited in reverse of the adaptor's own order, so
// for any pair of successors (a, b) given in that order from the same
// predecessor, a is listed first in the result whenever both are forward
// edges.
func buildRPO(a adaptor.Adaptor) (rpo []adaptor.BlockRef, multiPred map[adaptor.BlockRef]bool) {
	entry := a.EntryBlock()
	multiPred = make(map[adaptor.BlockRef]bool)

	var postorder []adaptor.BlockRef
	stack := make([]frame, 0, 64)

	info := a.BlockInfo(entry)
	info.Scratch0 = stateOnStack
	a.SetBlockInfo(entry, info)
	stack = append(stack, frame{block: entry, succs: reversedSuccessors(a, entry)})

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		advanced := false
		for top.succIdx < len(top.succs) {
			s := top.succs[top.succIdx]
			top.succIdx++
			si := a.BlockInfo(s)
			if si.Scratch0 == stateUnvisited {
				si.Scratch0 = stateOnStack
				a.SetBlockInfo(s, si)
				stack = append(stack, frame{block: s, succs: reversedSuccessors(a, s)})
				advanced = true
				break
			}
			if si.Scratch0 == stateOnStack {
				// back edge; handled later by loop identification via
				// Predecessors(), nothing to do for RPO itself.
				continue
			}
		}
		if advanced {
			continue
		}
		// All successors visited: close this frame in post-order.
		b := top.block
		bi := a.BlockInfo(b)
		bi.Scratch0 = stateDone
		a.SetBlockInfo(b, bi)
		postorder = append(postorder, b)
		stack = stack[:len(stack)-1]
	}

	rpo = make([]adaptor.BlockRef, len(postorder))
	for i, b := range postorder {
		rpo[len(postorder)-1-i] = b
	}

	for _, b := range rpo {
		if len(a.Predecessors(b)) > 1 {
			multiPred[b] = true
		}
	}
	return rpo, multiPred
}

// reversedSuccessors returns b's successors last-to-first.
func reversedSuccessors(a adaptor.Adaptor, b adaptor.BlockRef) []adaptor.BlockRef {
	succs := a.Successors(b)
	out := make([]adaptor.BlockRef, len(succs))
	for i, s := range succs {
		out[len(succs)-1-i] = s
	}
	return out
}
