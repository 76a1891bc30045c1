package mcts

import (
	"testing"

	"github.com/hailam/chessplay/internal/board"
)

func TestArenaAllocateChargesBudgetAndRefusesAtLimit(t *testing.T) {
	a := NewArena(2)
	pos := board.NewPosition()
	moves := pos.GenerateLegalMoves()

	root, err := a.Allocate(pos, moves, nil, 0, false, 0)
	if err != nil {
		t.Fatalf("unexpected error on first allocation: %v", err)
	}
	if a.LiveNodes() != 1 {
		t.Errorf("expected 1 live node, got %d", a.LiveNodes())
	}

	childPos := board.NewPosition()
	childMoves := childPos.GenerateLegalMoves()
	_, err = a.Allocate(childPos, childMoves, root, 0, false, 0)
	if err != nil {
		t.Fatalf("unexpected error on second allocation: %v", err)
	}
	if a.LiveNodes() != 2 {
		t.Errorf("expected 2 live nodes, got %d", a.LiveNodes())
	}

	_, err = a.Allocate(childPos, childMoves, root, 1, false, 0)
	if err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory once budget is exhausted, got %v", err)
	}
}

func TestArenaAllocateUnboundedWhenMaxNodesZero(t *testing.T) {
	a := NewArena(0)
	pos := board.NewPosition()
	moves := pos.GenerateLegalMoves()
	for i := 0; i < 10; i++ {
		if _, err := a.Allocate(pos, moves, nil, 0, false, 0); err != nil {
			t.Fatalf("unexpected error with unbounded budget: %v", err)
		}
	}
	if a.LiveNodes() != 10 {
		t.Errorf("expected 10 live nodes, got %d", a.LiveNodes())
	}
}

func TestArenaTranspositionOnlyReturnsEvaluatedNodes(t *testing.T) {
	a := NewArena(0)
	pos := board.NewPosition()
	moves := pos.GenerateLegalMoves()
	n := NewNode(pos, moves, nil, 0, false, 0)

	a.RecordTransposition(pos.Hash, n)
	if got := a.Transposition(pos.Hash); got != nil {
		t.Errorf("expected nil for an unevaluated node, got %v", got)
	}

	n.Evaluate(NewWorkerToken(), 0.1)
	if got := a.Transposition(pos.Hash); got != n {
		t.Errorf("expected the evaluated node back, got %v", got)
	}

	if got := a.Transposition(pos.Hash + 1); got != nil {
		t.Errorf("expected nil for an unknown hash, got %v", got)
	}
}

func TestArenaAdvanceSeversParentAndResetsBudget(t *testing.T) {
	a := NewArena(0)
	rootPos := board.NewPosition()
	rootMoves := rootPos.GenerateLegalMoves()
	root, _ := a.Allocate(rootPos, rootMoves, nil, 0, false, 0)

	childPos := board.NewPosition()
	childMoves := childPos.GenerateLegalMoves()
	child, _ := a.Allocate(childPos, childMoves, root, 0, false, 0)
	root.Edges[0].SetChild(child)

	grandchildPos := board.NewPosition()
	grandchildMoves := grandchildPos.GenerateLegalMoves()
	grandchild, _ := a.Allocate(grandchildPos, grandchildMoves, child, 0, false, 0)
	child.Edges[0].SetChild(grandchild)

	a.RecordTransposition(rootPos.Hash, root)

	a.Advance(child)

	if child.Parent != nil {
		t.Errorf("expected Advance to sever the new root's parent link")
	}
	if child.IndexInParent != 0 {
		t.Errorf("expected Advance to zero the new root's IndexInParent, got %d", child.IndexInParent)
	}
	if got := a.LiveNodes(); got != 2 {
		t.Errorf("expected 2 live nodes (child + grandchild) after Advance, got %d", got)
	}
	if got := a.Transposition(rootPos.Hash); got != nil {
		t.Errorf("expected the transposition table to be cleared by Advance")
	}

	hashes := a.HistoryHashes()
	if len(hashes) != 1 || hashes[0] != rootPos.Hash {
		t.Errorf("expected history to contain the discarded root's hash, got %v", hashes)
	}
}

func TestArenaClearResetsEverything(t *testing.T) {
	a := NewArena(5)
	pos := board.NewPosition()
	moves := pos.GenerateLegalMoves()
	root, _ := a.Allocate(pos, moves, nil, 0, false, 0)
	a.RecordTransposition(pos.Hash, root)

	a.Clear()

	if a.LiveNodes() != 0 {
		t.Errorf("expected 0 live nodes after Clear, got %d", a.LiveNodes())
	}
	if got := a.Transposition(pos.Hash); got != nil {
		t.Errorf("expected transposition table cleared")
	}
	if got := a.HistoryHashes(); len(got) != 0 {
		t.Errorf("expected empty history after Clear, got %v", got)
	}
}
