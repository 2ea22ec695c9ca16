package mcts

import (
	"math"
	"sync"
	"testing"
)

func TestSingleVisitThroughChild(t *testing.T) {
	// Position with three edges; one visit through the middle child.
	moves := startposMoves(t, 3)
	ln := NewLowNode(moves)
	for i, p := range []float32{0.6, 0.3, 0.1} {
		ln.EdgeAt(i).SetP(p)
	}

	// Creation visit of the position itself.
	ln.FinalizeScoreUpdate(0.2, 0, 10, 1)

	child := ln.InsertChildAt(1)
	if !child.TryStartScoreUpdate() {
		t.Fatal("failed to claim the fresh child")
	}
	child.FinalizeScoreUpdate(0.2, 0, 10, 1)
	ln.FinalizeScoreUpdate(0.2, 0, 10, 1)

	if ln.N() != 2 {
		t.Fatalf("position n = %d, want 2", ln.N())
	}
	if math.Abs(ln.WL()-0.2) > 1e-6 {
		t.Errorf("position wl = %v, want 0.2", ln.WL())
	}
	if math.Abs(child.WL()-0.2) > 1e-6 {
		t.Errorf("child wl = %v, want 0.2", child.WL())
	}
	if ln.GetChildAt(0) != nil || ln.GetChildAt(2) != nil {
		t.Error("unrealized children must stay null")
	}
	if child.Index() != 1 {
		t.Errorf("child index = %d, want 1", child.Index())
	}
}

func TestInsertChildIdempotent(t *testing.T) {
	moves := startposMoves(t, 8)
	for _, index := range []int{0, 1, 5} {
		for round := 0; round < 50; round++ {
			ln := NewLowNode(moves)

			const racers = 4
			var wg sync.WaitGroup
			got := make([]*Node, racers)
			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func(slot int) {
					defer wg.Done()
					got[slot] = ln.InsertChildAt(index)
				}(i)
			}
			wg.Wait()

			for i := 1; i < racers; i++ {
				if got[i] != got[0] {
					t.Fatalf("index %d round %d: racers got different pointers", index, round)
				}
			}
			if got[0].Index() != index {
				t.Fatalf("index %d: realized with index %d", index, got[0].Index())
			}
			if got[0].Move(false) != moves[index] {
				t.Fatalf("index %d: edge copy has move %v, want %v",
					index, got[0].Move(false), moves[index])
			}
		}
	}
}

func TestSpillPointerStability(t *testing.T) {
	moves := startposMoves(t, 10)
	ln := NewLowNode(moves)
	if ln.AllocatedChildren() != inlineChildren {
		t.Fatalf("allocated = %d before spill, want %d", ln.AllocatedChildren(), inlineChildren)
	}

	first := ln.InsertChildAt(2)
	if ln.AllocatedChildren() != len(moves) {
		t.Fatalf("allocated = %d after spill, want %d", ln.AllocatedChildren(), len(moves))
	}
	for i := 3; i < len(moves); i++ {
		ln.InsertChildAt(i)
	}
	if again := ln.GetChildAt(2); again != first {
		t.Fatal("spill growth invalidated an existing child pointer")
	}
}

func TestGetChildDoesNotAllocate(t *testing.T) {
	ln := NewLowNode(startposMoves(t, 10))
	if ln.GetChildAt(5) != nil {
		t.Fatal("lookup of an unrealized spill child returned a node")
	}
	if ln.AllocatedChildren() != inlineChildren {
		t.Fatal("lookup allocated the spill array")
	}
}

func TestAggregateConsistency(t *testing.T) {
	moves := startposMoves(t, 5)
	ln := NewLowNode(moves)

	// Creation visit, then a few visits spread over children.
	ln.FinalizeScoreUpdate(0.1, 0.2, 12, 1)
	visits := []struct {
		index int
		v     float64
	}{{0, 0.5}, {0, 0.3}, {1, -0.2}, {2, 0.8}}
	for _, visit := range visits {
		child := ln.InsertChildAt(visit.index)
		if !child.TryStartScoreUpdate() {
			t.Fatalf("start failed on child %d", visit.index)
		}
		child.FinalizeScoreUpdate(visit.v, 0, 5, 1)
		ln.FinalizeScoreUpdate(visit.v, 0, 5, 1)
	}

	var childSum uint32
	for i := 0; i < ln.NumEdges(); i++ {
		if child := ln.GetChildAt(i); child != nil {
			childSum += child.N()
		}
	}
	if ln.N() != 1+childSum {
		t.Fatalf("position n = %d, want 1 + children = %d", ln.N(), 1+childSum)
	}

	// The aggregate is the visit-weighted mean of everything passed in.
	want := (0.1 + 0.5 + 0.3 - 0.2 + 0.8) / 5
	if math.Abs(ln.WL()-want) > 1e-9 {
		t.Errorf("position wl = %v, want %v", ln.WL(), want)
	}
}

func TestParentAccounting(t *testing.T) {
	ln := NewLowNode(startposMoves(t, 3))
	if ln.NumParents() != 0 || ln.IsTransposition() {
		t.Fatal("fresh low node has parents")
	}
	ln.AddParent()
	if ln.IsTransposition() {
		t.Fatal("one parent latched the transposition flag")
	}
	ln.AddParent()
	if ln.NumParents() != 2 || !ln.IsTransposition() {
		t.Fatal("second parent did not latch the transposition flag")
	}
	ln.RemoveParent()
	ln.RemoveParent()
	if ln.NumParents() != 0 {
		t.Fatalf("parents = %d after removals, want 0", ln.NumParents())
	}
	if !ln.IsTransposition() {
		t.Fatal("transposition flag must stay latched after parents drop")
	}
}

func TestReleaseChildren(t *testing.T) {
	ln := NewLowNode(startposMoves(t, 6))
	targetA := NewLowNode(startposMoves(t, 3))
	targetB := NewLowNode(startposMoves(t, 3))

	childA := ln.InsertChildAt(0)
	childA.SetChild(targetA)
	childB := ln.InsertChildAt(4)
	childB.SetChild(targetB)

	ln.ReleaseChildren()
	if targetA.NumParents() != 0 || targetB.NumParents() != 0 {
		t.Fatal("released children kept their parent counts")
	}
	if ln.GetChild() != nil {
		t.Fatal("children survived the release")
	}
	if ln.AllocatedChildren() != inlineChildren {
		t.Fatal("spill not dropped by the release")
	}
}

func TestReleaseChildrenExceptOne(t *testing.T) {
	moves := startposMoves(t, 6)
	ln := NewLowNode(moves)
	keptTarget := NewLowNode(startposMoves(t, 3))
	doomedTarget := NewLowNode(startposMoves(t, 3))

	doomed := ln.InsertChildAt(0)
	doomed.SetChild(doomedTarget)
	kept := ln.InsertChildAt(3)
	kept.SetChild(keptTarget)
	kept.TryStartScoreUpdate()
	kept.FinalizeScoreUpdate(0.7, 0.1, 4, 1)
	keptMove := kept.Move(false)

	newKept := ln.ReleaseChildrenExceptOne(kept)
	if newKept != ln.GetChildAt(0) {
		t.Fatal("kept child did not land in the first inline slot")
	}
	if newKept.Index() != 0 {
		t.Fatalf("kept child index = %d, want 0 after the edge swap", newKept.Index())
	}
	if newKept.Move(false) != keptMove {
		t.Errorf("kept child move changed to %v", newKept.Move(false))
	}
	if ln.EdgeAt(0).Move(false) != keptMove {
		t.Error("edge array no longer positional for the kept child")
	}
	if newKept.N() != 1 || math.Abs(newKept.WL()-0.7) > 1e-9 {
		t.Errorf("kept child stats lost: n=%d wl=%v", newKept.N(), newKept.WL())
	}
	if newKept.Child() != keptTarget || keptTarget.NumParents() != 1 {
		t.Error("kept child lost its position link")
	}
	if doomedTarget.NumParents() != 0 {
		t.Error("released sibling kept its parent count")
	}
	for i := 1; i < ln.NumEdges(); i++ {
		if ln.GetChildAt(i) != nil {
			t.Fatalf("sibling at %d survived", i)
		}
	}
}

func TestNewLowNodeWithChild(t *testing.T) {
	moves := startposMoves(t, 5)
	ln := NewLowNodeWithChild(moves, 3)
	child := ln.GetChildAt(3)
	if child == nil {
		t.Fatal("eager child not realized")
	}
	if child.Move(false) != moves[3] {
		t.Fatalf("eager child move = %v, want %v", child.Move(false), moves[3])
	}
	if ln.GetChild() != child {
		t.Fatal("first realized child lookup missed the eager child")
	}
}

func TestVisitedPolicy(t *testing.T) {
	parent := NewLowNode(startposMoves(t, 4))
	nd := parent.InsertChildAt(0)
	low := sortedLowNode(t, []float32{0.5, 0.3, 0.2})
	nd.SetChild(low)

	for i := 0; i < 2; i++ {
		child := low.InsertChildAt(i)
		child.TryStartScoreUpdate()
		child.FinalizeScoreUpdate(0.1, 0, 5, 1)
	}
	if got := nd.VisitedPolicy(); absDiff(float64(got), 0.8) > 1e-3 {
		t.Fatalf("visited policy = %v, want 0.8", got)
	}
}

func TestCloneLowNode(t *testing.T) {
	src := NewLowNode(startposMoves(t, 3))
	src.EdgeAt(0).SetP(0.5)
	src.FinalizeScoreUpdate(0.3, 0.2, 7, 1)
	src.InsertChildAt(0)

	clone := CloneLowNode(src)
	if clone.N() != 0 {
		t.Errorf("clone n = %d, want 0", clone.N())
	}
	if math.Abs(clone.WL()-0.3) > 1e-9 {
		t.Errorf("clone wl = %v, want the source eval 0.3", clone.WL())
	}
	if clone.NumEdges() != src.NumEdges() || clone.EdgeAt(0).P() != src.EdgeAt(0).P() {
		t.Error("clone edges differ from the source")
	}
	if clone.GetChild() != nil {
		t.Error("clone inherited realized children")
	}
	if clone.NumParents() != 0 || clone.IsTransposition() {
		t.Error("clone inherited sharing state")
	}

	// The edge arrays are independent.
	clone.EdgeAt(0).SetP(0.9)
	if src.EdgeAt(0).P() == clone.EdgeAt(0).P() {
		t.Error("clone shares edge storage with the source")
	}
}

func TestSetNNEvalRejectsSecondCall(t *testing.T) {
	ln := newEmptyLowNode()
	edges := NewEdges(startposMoves(t, 3))
	ln.SetNNEval(&NNEval{Edges: edges, WL: 0.1, D: 0.2, M: 30})
	if ln.NumEdges() != 3 || math.Abs(ln.WL()-0.1) > 1e-6 {
		t.Fatal("eval not installed")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on second SetNNEval")
		}
	}()
	ln.SetNNEval(&NNEval{Edges: edges})
}
