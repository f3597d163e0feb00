package analyzer

import "github.com/xyproto/tpde/adaptor"

// Loop is a tree node over the block layout, spec.md §3 "Loop". The root
// loop (index 0) always covers the whole function: Level 0, Parent -1,
// Begin 0, End N.
type Loop struct {
	Level                int
	Parent               int // index into Analyzer.loops, -1 for root
	Begin, End            int // [Begin, End) layout-index range, set during layout
	NumBlocks             int // total blocks in this loop including nested children
	Definitions           int // values (arguments, PHIs, instruction results) defined in a block of this loop, not counting children
	DefinitionsInChildren int // sum of Definitions (and DefinitionsInChildren) over every nested loop
}

// loopBuilder computes, for each reachable block, the index of its
// immediately-containing loop header — an iterative form of the Wei-Li
// algorithm that merges reducible and irreducible loops by following a
// chain of "innermost loop header" pointers (spec.md §4.1
// "Loop identification").
type loopBuilder struct {
	a adaptor.Adaptor

	// DFS bookkeeping built while computing RPO's post-order, reused here:
	// parent in the DFS tree, used to walk predecessor chains for merges.
	dfsParent map[adaptor.BlockRef]adaptor.BlockRef
	onStack   map[adaptor.BlockRef]bool
	rpoIndex  map[adaptor.BlockRef]int

	// header[b] is the block that heads the innermost loop b has been
	// assigned to so far (b itself is never a key of its own loop; a
	// header's *enclosing* loop is recorded in parentHeader instead).
	header       map[adaptor.BlockRef]adaptor.BlockRef
	parentHeader map[adaptor.BlockRef]adaptor.BlockRef
	isHeader     map[adaptor.BlockRef]bool
	headerOrder  []adaptor.BlockRef // headers in first-discovered order, for determinism
}

// findBackEdgesAndBuildLoops walks the block graph (already known to be
// reachable-only via rpo) and returns, for every block, the header of its
// innermost loop (zero value / not-present meaning "no loop, member of the
// function's root region only").
func findBackEdgesAndBuildLoops(a adaptor.Adaptor, rpo []adaptor.BlockRef) *loopBuilder {
	lb := &loopBuilder{
		a:            a,
		dfsParent:    make(map[adaptor.BlockRef]adaptor.BlockRef),
		onStack:      make(map[adaptor.BlockRef]bool),
		rpoIndex:     make(map[adaptor.BlockRef]int, len(rpo)),
		header:       make(map[adaptor.BlockRef]adaptor.BlockRef),
		parentHeader: make(map[adaptor.BlockRef]adaptor.BlockRef),
		isHeader:     make(map[adaptor.BlockRef]bool),
	}
	for i, b := range rpo {
		lb.rpoIndex[b] = i
	}

	entry := a.EntryBlock()
	type dfsFrame struct {
		block   adaptor.BlockRef
		succs   []adaptor.BlockRef
		succIdx int
	}
	visited := make(map[adaptor.BlockRef]bool)
	stack := []dfsFrame{{block: entry, succs: a.Successors(entry)}}
	visited[entry] = true
	lb.onStack[entry] = true

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		advanced := false
		for top.succIdx < len(top.succs) {
			s := top.succs[top.succIdx]
			top.succIdx++
			if !visited[s] {
				if _, reachable := lb.rpoIndex[s]; !reachable {
					continue
				}
				visited[s] = true
				lb.onStack[s] = true
				lb.dfsParent[s] = top.block
				stack = append(stack, dfsFrame{block: s, succs: a.Successors(s)})
				advanced = true
				break
			}
			if lb.onStack[s] {
				// back edge top.block -> s; s is an ancestor (loop header).
				lb.processBackEdge(s, top.block)
			}
		}
		if advanced {
			continue
		}
		lb.onStack[top.block] = false
		stack = stack[:len(stack)-1]
	}
	return lb
}

func (lb *loopBuilder) ensureHeader(h adaptor.BlockRef) {
	if !lb.isHeader[h] {
		lb.isHeader[h] = true
		lb.headerOrder = append(lb.headerOrder, h)
	}
}

// processBackEdge merges the natural loop of back edge (tail -> head) into
// the loop tree, handling both reducible loops and the irreducible case by
// re-pointing an already-assigned inner header's parent rather than
// re-walking its members one block at a time.
func (lb *loopBuilder) processBackEdge(head, tail adaptor.BlockRef) {
	lb.ensureHeader(head)
	worklist := []adaptor.BlockRef{tail}
	seen := make(map[adaptor.BlockRef]bool)
	for len(worklist) > 0 {
		b := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if b == head || seen[b] {
			continue
		}
		seen[b] = true

		if lb.isHeader[b] {
			// b is itself a loop header; nest its loop inside head instead
			// of walking its members individually.
			if cur, ok := lb.parentHeader[b]; ok && cur == head {
				continue
			}
			lb.parentHeader[b] = head
			for _, p := range lb.a.Predecessors(b) {
				if _, reachable := lb.rpoIndex[p]; reachable {
					worklist = append(worklist, p)
				}
			}
			continue
		}
		if h, ok := lb.header[b]; ok {
			if h == head {
				continue
			}
			// b already belongs to a different (inner) loop: nest that
			// loop's header inside head and continue from its predecessors.
			lb.ensureHeader(h)
			if cur, ok := lb.parentHeader[h]; ok && cur == head {
				continue
			}
			lb.parentHeader[h] = head
			for _, p := range lb.a.Predecessors(h) {
				if _, reachable := lb.rpoIndex[p]; reachable {
					worklist = append(worklist, p)
				}
			}
			continue
		}
		lb.header[b] = head
		for _, p := range lb.a.Predecessors(b) {
			if _, reachable := lb.rpoIndex[p]; reachable {
				worklist = append(worklist, p)
			}
		}
	}
}

// innermostHeader returns the header of b's innermost loop, or false if b
// belongs to no loop (only the root region).
func (lb *loopBuilder) innermostHeader(b adaptor.BlockRef) (adaptor.BlockRef, bool) {
	if lb.isHeader[b] {
		return b, true
	}
	if h, ok := lb.header[b]; ok {
		return h, true
	}
	return 0, false
}
