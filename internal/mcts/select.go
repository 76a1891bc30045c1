package mcts

import (
	"math"
	"math/rand"
)

// PUCTSelect chooses the edge to descend into from n using the polynomial
// upper confidence bound, with virtual loss applied through n's own pending
// count. Edges are expected sorted by descending prior (SortEdgesByPriors),
// so the very first still-unexpanded edge seen at any point is the highest
// remaining prior and is taken immediately without comparing scores - both
// as a shortcut and because the first loop iteration relies on edges being
// in that order for the early "first edge unexpanded" case to be correct.
// Encountering a terminal or already-solved edge stops the scan: those are
// rotated to the end of the slice by MoveToEnd, so reaching one means every
// remaining edge is equally settled and irrelevant to this selection.
func (n *Node) PUCTSelect(cPUCT float32) *Edge {
	if len(n.Edges) == 0 {
		return nil
	}

	pending := n.visitPending.Add(1) - 1

	if !n.Edges[0].Expanded() {
		return &n.Edges[0]
	}

	var best *Edge
	bestScore := float32(math.Inf(-1))
	visitsSqrt := float32(math.Sqrt(float64(n.visitCount) + float64(pending)))

	for i := range n.Edges {
		e := &n.Edges[i]
		if e.Expanded() {
			if e.IsTerminal() || (e.child != nil && e.child.IsSolved()) {
				return best
			}
			u := e.prior * (visitsSqrt / float32(e.child.visitCount+e.child.visitPending.Load()+1)) * cPUCT
			// Q is stored from the perspective of whoever is to move at
				// the child, so it's negated here to read it from n's side.
				score := -e.child.AverageValue() + u
			if score > bestScore {
				best = e
				bestScore = score
			}
		} else if e.prior*cPUCT*visitsSqrt > bestScore {
			return e
		}
	}

	return best
}

// ProbabilisticSelect chooses an edge according to a categorical
// distribution weighted by the edges' priors, used for the stochastic
// opening-book-free move selection some callers want instead of PUCT (e.g.
// self-play game generation, where exploration matters more than strength).
func (n *Node) ProbabilisticSelect(rng *rand.Rand) *Edge {
	if len(n.Edges) == 0 {
		return nil
	}
	var total float32
	for i := range n.Edges {
		total += n.Edges[i].prior
	}
	if total <= 0 {
		return &n.Edges[rng.Intn(len(n.Edges))]
	}
	r := rng.Float32() * total
	var acc float32
	for i := range n.Edges {
		acc += n.Edges[i].prior
		if r <= acc {
			return &n.Edges[i]
		}
	}
	return &n.Edges[len(n.Edges)-1]
}
