package analyzer

import (
	"testing"

	"github.com/xyproto/tpde/adaptor"
	"github.com/xyproto/tpde/internal/testir"
)

// buildLoop builds: entry -> header -> body -> header (back edge), header -> exit.
// Matches spec.md §8 scenario 2.
func buildLoop() *testir.Func {
	f := testir.New("loop")
	entry := f.EntryBlock()
	header := f.AddBlock()
	body := f.AddBlock()
	exit := f.AddBlock()

	f.AddEdge(entry, header)
	f.AddEdge(header, body)
	f.AddEdge(header, exit)
	f.AddEdge(body, header)

	iv := f.AddArg(adaptor.BankGP, 4)
	_, one := f.AddInst(entry, nil, true, adaptor.BankGP, 4, false)
	_ = one
	_, _ = f.AddInst(body, []adaptor.ValueRef{iv}, true, adaptor.BankGP, 4, false)
	f.AddInst(header, nil, false, 0, 0, true)
	f.AddInst(body, nil, false, 0, 0, true)
	f.AddInst(exit, nil, false, 0, 0, true)
	return f
}

func TestLoopLayoutContiguous(t *testing.T) {
	f := buildLoop()
	an := Build(f)

	if an.NumBlocks() != 4 {
		t.Fatalf("expected 4 reachable blocks, got %d", an.NumBlocks())
	}

	// Exactly one non-root loop (level 1).
	nonRoot := 0
	for i, l := range an.Loops {
		if i == 0 {
			continue
		}
		nonRoot++
		if l.Level != 1 {
			t.Fatalf("loop %d: level = %d, want 1", i, l.Level)
		}
	}
	if nonRoot != 1 {
		t.Fatalf("expected exactly 1 non-root loop, got %d", nonRoot)
	}

	// The loop body [header, body) must be a contiguous layout range.
	loop := an.Loops[1]
	if loop.End-loop.Begin != loop.NumBlocks {
		t.Fatalf("loop range not contiguous: [%d,%d) vs NumBlocks=%d", loop.Begin, loop.End, loop.NumBlocks)
	}
	for pos := loop.Begin; pos < loop.End; pos++ {
		if an.BlockLoop(an.Layout[pos]) != 1 {
			t.Fatalf("block at layout pos %d not in loop 1", pos)
		}
	}

	// Every block's layout index must be dense in [0, N).
	seen := make(map[int]bool)
	for _, b := range f.Blocks() {
		idx := an.LayoutIndex(b)
		if idx < 0 || idx >= an.NumBlocks() || seen[idx] {
			t.Fatalf("block %v has bad/duplicate layout index %d", b, idx)
		}
		seen[idx] = true
	}
}

// buildDiamond builds a diamond: entry -> {left, right} -> join, with a PHI
// at join. Matches spec.md §8 scenario 3.
func buildDiamond() (*testir.Func, adaptor.ValueRef) {
	f := testir.New("diamond")
	entry := f.EntryBlock()
	left := f.AddBlock()
	right := f.AddBlock()
	join := f.AddBlock()

	f.AddEdge(entry, left)
	f.AddEdge(entry, right)
	f.AddEdge(left, join)
	f.AddEdge(right, join)

	f.AddInst(entry, nil, false, 0, 0, true)
	_, lv := f.AddInst(left, nil, true, adaptor.BankGP, 8, false)
	_, rv := f.AddInst(right, nil, true, adaptor.BankGP, 8, false)
	f.AddInst(left, nil, false, 0, 0, true)
	f.AddInst(right, nil, false, 0, 0, true)

	phi := f.AddPHI(join, adaptor.BankGP, 8)
	f.SetIncoming(phi, left, lv)
	f.SetIncoming(phi, right, rv)
	f.AddInst(join, []adaptor.ValueRef{phi}, false, 0, 0, true)
	return f, phi
}

func TestDiamondMultiPredAndLiveness(t *testing.T) {
	f, phi := buildDiamond()
	an := Build(f)

	join := f.Blocks()[3]
	if !an.MultiPred[join] {
		t.Fatalf("join block should be flagged as multi-predecessor")
	}

	lv, ok := an.Liveness[phi]
	if !ok {
		t.Fatalf("phi has no liveness interval")
	}
	joinIdx := an.LayoutIndex(join)
	if lv.Last < joinIdx {
		t.Fatalf("phi interval does not cover its own block: last=%d join=%d", lv.Last, joinIdx)
	}
}

func TestLoopDefinitionCounts(t *testing.T) {
	f := buildLoop()
	an := Build(f)

	// buildLoop defines two values outside the loop (the iv argument and
	// entry's result instruction) and one inside it (body's result
	// instruction, which uses iv).
	root := an.Loops[rootLoop]
	if root.Definitions != 2 {
		t.Fatalf("root loop Definitions = %d, want 2", root.Definitions)
	}
	if len(an.Loops) != 2 {
		t.Fatalf("expected exactly one non-root loop, got %d total", len(an.Loops))
	}
	loop := an.Loops[1]
	if loop.Definitions != 1 {
		t.Fatalf("loop 1 Definitions = %d, want 1", loop.Definitions)
	}
	if root.DefinitionsInChildren != loop.Definitions+loop.DefinitionsInChildren {
		t.Fatalf("root DefinitionsInChildren = %d, want %d", root.DefinitionsInChildren, loop.Definitions+loop.DefinitionsInChildren)
	}
}

func TestRPODeterminism(t *testing.T) {
	f, _ := buildDiamond()
	an := Build(f)
	left := f.Blocks()[1]
	right := f.Blocks()[2]
	if an.LayoutIndex(left) >= an.LayoutIndex(right) {
		t.Fatalf("left should lay out before right: left=%d right=%d",
			an.LayoutIndex(left), an.LayoutIndex(right))
	}
}
