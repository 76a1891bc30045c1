package mcts

import (
	"testing"

	"github.com/hailam/chessplay/internal/board"
)

func newTestRoot(t *testing.T) *Node {
	t.Helper()
	pos := board.NewPosition()
	moves := pos.GenerateLegalMoves()
	root := NewNode(pos, moves, nil, 0, false, 0)
	return root
}

func TestPUCTSelectPicksFirstUnexpandedEdge(t *testing.T) {
	root := newTestRoot(t)
	root.SortEdgesByPriors()

	edge := root.PUCTSelect(1.5)
	if edge == nil || edge != &root.Edges[0] {
		t.Fatalf("expected the first (unexpanded, highest-prior) edge to be selected")
	}
}

func TestEvaluateBacksUpNegatedValueToParent(t *testing.T) {
	root := newTestRoot(t)
	tok := NewWorkerToken()

	childPos := board.NewPosition()
	childMoves := childPos.GenerateLegalMoves()
	child := NewNode(childPos, childMoves, root, 0, false, 0)
	root.Edges[0].SetChild(child)

	root.Q = 0
	root.visitCount = 1

	child.Evaluate(tok, 0.4)

	if child.Q != 0.4 {
		t.Errorf("expected child.Q == 0.4, got %v", child.Q)
	}
	if root.visitCount != 2 {
		t.Errorf("expected root.visitCount incremented to 2, got %d", root.visitCount)
	}
	want := (float32(0)*1 + -0.4) / 2
	if root.Q != want {
		t.Errorf("expected root.Q == %v (negated child value averaged in), got %v", want, root.Q)
	}
}

func TestMakeSolvedWinningChildSolvesParentLosing(t *testing.T) {
	root := newTestRoot(t)

	childPos := board.NewPosition()
	childMoves := childPos.GenerateLegalMoves()
	child := NewNode(childPos, childMoves, root, 0, false, 0)
	root.Edges[0].SetChild(child)
	root.ViableEdges = len(root.Edges)

	child.MakeSolved(Solved, Winning)

	if !root.IsSolved() {
		t.Fatalf("expected root to become solved once a child proved winning")
	}
	if root.Q != -1 {
		t.Errorf("expected root.Q == -1 (losing), got %v", root.Q)
	}
}

func TestMakeSolvedLastLosingChildSolvesParentWinning(t *testing.T) {
	root := newTestRoot(t)
	root.ViableEdges = 1
	root.Edges = root.Edges[:1]

	childPos := board.NewPosition()
	childMoves := childPos.GenerateLegalMoves()
	child := NewNode(childPos, childMoves, root, 0, false, 0)
	root.Edges[0].SetChild(child)

	child.MakeSolved(Solved, Losing)

	if !root.IsSolved() {
		t.Fatalf("expected root to become solved once its last viable child proved losing")
	}
	if root.Q != 1 {
		t.Errorf("expected root.Q == 1 (winning, every reply loses for the opponent), got %v", root.Q)
	}
}

func TestSetTerminalSolvesParentDirectly(t *testing.T) {
	root := newTestRoot(t)
	root.Edges = root.Edges[:1]
	root.ViableEdges = 1

	root.Edges[0].SetTerminal(root, Losing, 0)

	if !root.IsSolved() {
		t.Fatalf("expected a single terminal-losing reply to solve the parent as winning")
	}
	if root.Q != 1 {
		t.Errorf("expected root.Q == 1, got %v", root.Q)
	}
}

func TestMoveToEndPreservesOtherEdgeOrder(t *testing.T) {
	root := newTestRoot(t)
	if len(root.Edges) < 3 {
		t.Fatalf("need at least 3 legal moves from the starting position, got %d", len(root.Edges))
	}

	second := root.Edges[1].Move
	third := root.Edges[2].Move

	root.MoveToEnd(0)

	if root.Edges[0].Move != second || root.Edges[1].Move != third {
		t.Errorf("expected edges 1,2 to shift forward preserving order")
	}
	if root.Edges[len(root.Edges)-1].Move == 0 {
		t.Errorf("expected the moved edge at the end")
	}
}
