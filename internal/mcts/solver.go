package mcts

import "sync/atomic"

// SolvedNodes counts nodes proven exact over the lifetime of the process,
// exposed for search diagnostics.
var SolvedNodes atomic.Uint64

// SetTerminal marks an edge as leading to a game-over position without
// allocating a child node, then immediately solves the parent's branch: a
// terminal child carries a definite result, so the parent can fold it in
// right away instead of waiting on a visit to discover it. result is from
// the perspective of the side to move at the resulting (terminal) position -
// Losing for a position where that side is checkmated, Drawn for stalemate -
// the same convention MakeSolved uses for a node's own trueValue.
func (e *Edge) SetTerminal(parent *Node, result GameResult, branchIdx int) {
	// termVal is read directly by GetValue from the parent's side, so it's
	// stored as the negation of result (own-mover-at-the-position
	// perspective), the same ply-boundary flip applied everywhere else.
	switch result {
	case Winning:
		e.termVal = -1
	case Drawn:
		e.termVal = 0
	case Losing:
		e.termVal = 1
	}
	e.terminal = true
	e.child = nil
	parent.adjustValueForSolvedBranch(true, 0, result, 0, branchIdx)
}

// MakeSolved marks n itself as proven exact with trueValue, sets Q to the
// corresponding -1/0/1, and propagates the change into n's parent.
func (n *Node) MakeSolved(state SolutionState, trueValue GameResult) {
	oldQ := n.Q

	switch trueValue {
	case Winning:
		n.Q = 1
	case Drawn:
		n.Q = 0
	case Losing:
		n.Q = -1
	}

	n.Evaluated = true
	n.Solution = state

	if n.Parent != nil {
		tok := NewWorkerToken()
		n.Parent.Lock(tok)
		n.Parent.adjustValueForSolvedBranch(false, oldQ, trueValue, n.visitCount, n.IndexInParent)
		n.Parent.Unlock()
	}
}

// propagateSolvedValue re-averages n's Q by weightedDelta (an already
// visit-count-weighted adjustment owed to it from a descendant whose value
// changed after being solved) and recurses the same delta into n's parent,
// re-weighted against n's own visit count.
func (n *Node) propagateSolvedValue(weightedDelta float32) {
	n.Lock(NewWorkerToken())
	newValue := (n.Q*float32(n.visitCount) + weightedDelta) / float32(n.visitCount)
	weightedDelta = (n.Q - newValue) * float32(n.visitCount)
	n.Q = newValue
	n.Unlock()

	if n.Parent != nil {
		n.Parent.propagateSolvedValue(weightedDelta)
	}
}

// adjustValueForSolvedBranch updates n after one of its branches (an edge at
// branchIdx) was just proven to trueValue. oldValue is that branch's value
// before it was solved (0 for a true terminal child, which never had an
// approximate value to begin with); childVisitCount is its visit count at
// the moment of solving (0 for a terminal child).
//
// A branch proving winning (for whoever moves at that branch) means the
// opponent found a winning reply, so n itself is immediately losing. A
// branch proving drawn or losing only solves n outright once it was the
// last unproven (viable) branch; otherwise its contribution to n's average
// is corrected in place and the correction is propagated to ancestors.
func (n *Node) adjustValueForSolvedBranch(fromTerminalChild bool, oldValue float32, trueValue GameResult, childVisitCount uint32, branchIdx int) {
	SolvedNodes.Add(1)
	n.ViableEdges--

	switch trueValue {
	case Winning:
		n.MakeSolved(Solved, Losing)

	case Drawn:
		if n.ViableEdges == 0 {
			n.MakeSolved(Solved, Drawn)
		} else if fromTerminalChild {
			n.updateValue(NewWorkerToken(), 0)
		} else {
			newQ := (n.Q*float32(n.visitCount) + oldValue*float32(childVisitCount)) / float32(n.visitCount)
			if n.Parent != nil {
				n.Parent.propagateSolvedValue((n.Q - newQ) * float32(n.visitCount))
			}
			n.Q = newQ
		}

	case Losing:
		if n.ViableEdges == 0 {
			for i := range n.Edges {
				if n.Edges[i].GetValue() == 0 {
					n.MakeSolved(Solved, Drawn)
					return
				}
			}
			n.MakeSolved(Solved, Winning)
		} else {
			newQ := (n.Q*float32(n.visitCount) + (oldValue+1)*float32(childVisitCount)) / float32(n.visitCount)
			if n.Parent != nil {
				n.Parent.propagateSolvedValue((n.Q - newQ) * float32(n.visitCount))
			}
			n.Q = newQ
		}
	}

	n.MoveToEnd(branchIdx)
}
