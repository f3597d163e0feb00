package analyzer

import "github.com/xyproto/tpde/adaptor"

// rootLoop is always index 0 and always covers the whole function
// (spec.md §3 "Loop": "The root loop covers the whole function").
const rootLoop = 0

// Analyzer holds the per-function results of one analysis pass: the dense
// RPO block layout, the loop tree, and per-value liveness. Analyzer is
// reused across functions via Reset (spec.md §5 "Memory": per-function
// scratch is cleared and reused between functions).
type Analyzer struct {
	a adaptor.Adaptor

	// Layout[i] is the block placed at layout index i.
	Layout      []adaptor.BlockRef
	layoutIndex map[adaptor.BlockRef]int

	Loops        []Loop
	blockLoopIdx map[adaptor.BlockRef]int
	loopIndexOf  map[adaptor.BlockRef]int // header block -> loop index

	MultiPred map[adaptor.BlockRef]bool

	Liveness map[adaptor.ValueRef]*Liveness
}

// Build runs the full analysis pass (RPO, loop tree, layout, liveness) for
// one function.
func Build(a adaptor.Adaptor) *Analyzer {
	an := &Analyzer{a: a}
	rpo, multiPred := buildRPO(a)
	an.MultiPred = multiPred

	lb := findBackEdgesAndBuildLoops(a, rpo)
	an.buildLoopTree(lb, rpo)
	an.layoutBlocks(rpo)
	an.computeLiveness()
	return an
}

func (an *Analyzer) buildLoopTree(lb *loopBuilder, rpo []adaptor.BlockRef) {
	an.loopIndexOf = make(map[adaptor.BlockRef]int, len(lb.headerOrder)+1)
	an.Loops = []Loop{{Level: 0, Parent: -1}} // root, Begin/End/NumBlocks filled below

	// Assign a loop index to every discovered header, in discovery order,
	// then resolve nesting through parentHeader.
	for _, h := range lb.headerOrder {
		an.loopIndexOf[h] = len(an.Loops)
		an.Loops = append(an.Loops, Loop{})
	}

	var levelOf func(h adaptor.BlockRef) int
	levelOf = func(h adaptor.BlockRef) int {
		if parent, ok := lb.parentHeader[h]; ok {
			return levelOf(parent) + 1
		}
		return 1 // direct child of the root loop
	}
	for _, h := range lb.headerOrder {
		idx := an.loopIndexOf[h]
		parentIdx := rootLoop
		if p, ok := lb.parentHeader[h]; ok {
			parentIdx = an.loopIndexOf[p]
		}
		an.Loops[idx].Parent = parentIdx
		an.Loops[idx].Level = levelOf(h)
	}

	an.blockLoopIdx = make(map[adaptor.BlockRef]int, len(rpo))
	own := make([]int, len(an.Loops))
	for _, b := range rpo {
		idx := rootLoop
		if h, ok := lb.innermostHeader(b); ok {
			idx = an.loopIndexOf[h]
		}
		an.blockLoopIdx[b] = idx
		own[idx]++
	}

	// NumBlocks accumulates bottom-up: process loops from deepest level to
	// shallowest so every child's total is known before its parent sums it.
	order := make([]int, len(an.Loops))
	for i := range order {
		order[i] = i
	}
	// simple stable sort by descending level (small N; insertion sort keeps
	// this allocation-free and avoids importing sort for one pass)
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && an.Loops[order[j]].Level > an.Loops[order[j-1]].Level; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	total := make([]int, len(an.Loops))
	copy(total, own)
	for _, idx := range order {
		if idx == rootLoop {
			continue
		}
		p := an.Loops[idx].Parent
		total[p] += total[idx]
	}
	for i := range an.Loops {
		an.Loops[i].NumBlocks = total[i]
	}
}

// layoutBlocks assigns each block its final dense layout index, placing
// loops as contiguous ranges reserved inside their parent's range the
// first time one of their blocks is encountered in RPO order
// (spec.md §4.1 "Layout").
func (an *Analyzer) layoutBlocks(rpo []adaptor.BlockRef) {
	an.Loops[rootLoop].Begin = 0
	an.Loops[rootLoop].End = an.Loops[rootLoop].NumBlocks

	freeSlot := make([]int, len(an.Loops))
	begun := make([]bool, len(an.Loops))
	begun[rootLoop] = true

	an.Layout = make([]adaptor.BlockRef, len(rpo))
	an.layoutIndex = make(map[adaptor.BlockRef]int, len(rpo))

	var reserve func(idx int)
	reserve = func(idx int) {
		if begun[idx] {
			return
		}
		parent := an.Loops[idx].Parent
		reserve(parent)
		begin := freeSlot[parent]
		freeSlot[parent] += an.Loops[idx].NumBlocks
		an.Loops[idx].Begin = begin
		an.Loops[idx].End = begin + an.Loops[idx].NumBlocks
		freeSlot[idx] = begin
		begun[idx] = true
	}

	for _, b := range rpo {
		idx := an.blockLoopIdx[b]
		reserve(idx)
		pos := freeSlot[idx]
		freeSlot[idx] = pos + 1
		an.Layout[pos] = b
		an.layoutIndex[b] = pos
		bi := an.a.BlockInfo(b)
		bi.LayoutIdx = uint32(pos)
		an.a.SetBlockInfo(b, bi)
	}
}

// LayoutIndex returns b's dense position after analysis.
func (an *Analyzer) LayoutIndex(b adaptor.BlockRef) int { return an.layoutIndex[b] }

// BlockLoop returns the index of b's innermost containing loop.
func (an *Analyzer) BlockLoop(b adaptor.BlockRef) int { return an.blockLoopIdx[b] }

// NumBlocks returns the number of reachable blocks in the function.
func (an *Analyzer) NumBlocks() int { return len(an.Layout) }

// lca returns the lowest common ancestor of two loops in the loop tree,
// using their Level/Parent fields.
func (an *Analyzer) lca(x, y int) int {
	for an.Loops[x].Level > an.Loops[y].Level {
		x = an.Loops[x].Parent
	}
	for an.Loops[y].Level > an.Loops[x].Level {
		y = an.Loops[y].Parent
	}
	for x != y {
		x = an.Loops[x].Parent
		y = an.Loops[y].Parent
	}
	return x
}

// directChildContaining returns the index of the loop that is a direct
// child of ancestor and contains layout index pos, or -1 if pos belongs
// directly to ancestor with no intervening child loop.
func (an *Analyzer) directChildContaining(ancestor, pos int) int {
	idx := an.blockLoopIdx[an.Layout[pos]]
	for idx != ancestor {
		if an.Loops[idx].Parent == ancestor {
			return idx
		}
		if idx == rootLoop {
			return -1
		}
		idx = an.Loops[idx].Parent
	}
	return -1
}
