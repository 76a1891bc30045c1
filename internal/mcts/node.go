// Package mcts implements the search tree: nodes and their edges,
// PUCT selection, neural-network-guided expansion, and solved-subtree
// propagation for forced wins, draws and losses.
package mcts

import (
	"sort"
	"sync/atomic"

	"github.com/hailam/chessplay/internal/board"
)

// SolutionState records whether a node's value is a network approximation
// or has been proven exact.
type SolutionState uint8

const (
	// Unsolved means Q holds the network's approximate value.
	Unsolved SolutionState = iota
	// Solved means the subtree has been proven to this exact result; Q is
	// one of -1, 0, 1.
	Solved
	// Tablebase means the value came from endgame tablebase probing rather
	// than search.
	Tablebase
)

// GameResult orders outcomes winning > drawn > losing from the perspective
// of the player to move at the node the result is attached to.
type GameResult int8

const (
	Losing GameResult = iota
	Drawn
	Winning
)

// Edge is one outgoing move from a node. Before expansion it carries only a
// move and its network prior; after expansion it either points at an
// allocated child node, or (for a move whose resulting position is
// terminal) carries a terminal value directly and no child is ever
// allocated.
type Edge struct {
	Move Move

	child    *Node
	prior    float32
	terminal bool
	termVal  float32
}

// Move is a thin alias kept local to the package so callers don't need to
// import board just to read an edge's move.
type Move = board.Move

// SetPrior stores the network policy prior for this edge.
func (e *Edge) SetPrior(p float32) { e.prior = p }

// Prior returns the network policy prior.
func (e *Edge) Prior() float32 { return e.prior }

// SetChild attaches an expanded child node to this edge.
func (e *Edge) SetChild(n *Node) { e.child = n }

// Child returns the expanded child node, or nil if unexpanded or terminal.
func (e *Edge) Child() *Node { return e.child }

// Expanded reports whether this edge has been explored: either it has an
// allocated child, or it was found to be terminal.
func (e *Edge) Expanded() bool { return e.child != nil || e.terminal }

// IsTerminal reports whether this edge leads to a game-over position.
func (e *Edge) IsTerminal() bool { return e.terminal }

// GetValue returns this edge's value from the perspective of the node that
// owns it: the stored terminal value for a terminal edge (set once, at
// SetTerminal time, already in that perspective), the negation of the
// child's own average value for an expanded non-terminal edge (Q is always
// stored from the perspective of whoever is to move at that node, so a
// ply-boundary sign flip is needed to read it from the parent's side), or
// -1 (assume losing) for an edge that hasn't been expanded yet.
func (e *Edge) GetValue() float32 {
	if !e.Expanded() {
		return -1
	}
	if e.terminal {
		return e.termVal
	}
	return -e.child.AverageValue()
}

// VisitCount returns the number of completed visits to this edge's child
// (0 for an unexpanded or terminal edge).
func (e *Edge) VisitCount() uint32 {
	if e.child == nil {
		return 0
	}
	return e.child.visitCount
}

// Node is one position in the search tree.
type Node struct {
	Parent   *Node
	Position *board.Position
	Edges    []Edge

	IndexInParent int

	// Q is the running average value of this node from the perspective of
	// the player to move at this node.
	Q float32

	visitCount   uint32
	visitPending atomic.Uint32

	// ViableEdges counts edges not yet proven (terminal or propagated as
	// solved). When it reaches 0 the whole node is solved: Q holds the
	// exact result and Solution != Unsolved.
	ViableEdges int

	MovesLeft      uint8
	Repetitions    uint8
	ReversibleMove bool
	Evaluated      bool
	Solution       SolutionState

	nodeLock lock
}

// NewNode constructs a node for pos with one edge per legal move in moves,
// linked to parent via indexInParent. The node starts with one pending
// visit, matching the visit that is creating it; the caller evaluates it
// and calls Evaluate to clear that pending visit.
func NewNode(pos *board.Position, moves *board.MoveList, parent *Node, indexInParent int, reversibleMove bool, repetitions uint8) *Node {
	n := &Node{
		Parent:         parent,
		Position:       pos,
		IndexInParent:  indexInParent,
		ReversibleMove: reversibleMove,
		Repetitions:    repetitions,
	}
	count := moves.Len()
	n.Edges = make([]Edge, count)
	for i := 0; i < count; i++ {
		n.Edges[i].Move = moves.Get(i)
	}
	n.ViableEdges = count
	n.visitPending.Store(1)
	return n
}

// Lock acquires the node's reentrant lock for tok.
func (n *Node) Lock(tok *WorkerToken) { n.nodeLock.Lock(tok) }

// Unlock releases one level of the node's reentrant lock.
func (n *Node) Unlock() { n.nodeLock.Unlock() }

// VisitCount returns the number of completed backpropagated visits.
func (n *Node) VisitCount() uint32 { return n.visitCount }

// VisitsPending returns the number of in-flight (enqueued but not yet
// backpropagated) visits, used as virtual loss during selection.
func (n *Node) VisitsPending() uint32 { return n.visitPending.Load() }

// AddVisitPending applies virtual loss: called when a worker selects
// through this node but hasn't backpropagated a result yet.
func (n *Node) AddVisitPending() { n.visitPending.Add(1) }

// RemoveVisitPending undoes virtual loss after backpropagation completes.
func (n *Node) RemoveVisitPending() { n.visitPending.Add(^uint32(0)) }

// GetNSubnodes returns completed plus pending visits, the denominator PUCT
// uses for the parent visit count.
func (n *Node) GetNSubnodes() uint32 { return n.visitCount + n.visitPending.Load() }

// AverageValue returns Q, the node's running average value.
func (n *Node) AverageValue() float32 { return n.Q }

// IsSolved reports whether this node's value is exact.
func (n *Node) IsSolved() bool { return n.Solution != Unsolved }

// updateValue applies one completed-visit update to n: Q moves toward value
// by the new sample, the pending (virtual-loss) count put there during
// selection is released, and the same update recurses into the parent with
// the value negated for the ply-boundary perspective flip. The recursion
// stops naturally at a root node, whose Parent is nil: Arena.Advance severs
// the new root's parent link for exactly this reason, so backup and solver
// propagation never walk past the node the live search is rooted at.
func (n *Node) updateValue(tok *WorkerToken, value float32) {
	n.Lock(tok)
	n.visitCount++
	n.Q = (n.Q*float32(n.visitCount-1) + value) / float32(n.visitCount)
	n.visitPending.Add(^uint32(0))
	n.Unlock()

	if n.Parent != nil {
		n.Parent.updateValue(tok, -value)
	}
}

// Evaluate records the network's value for a freshly expanded, previously
// unevaluated node: the node's own Q is set directly to value (its first
// and, so far, only visit) and the update then backs up into the parent
// with the sign flipped.
func (n *Node) Evaluate(tok *WorkerToken, value float32) {
	n.Q = value
	n.visitCount = 1
	n.visitPending.Store(0)
	n.Evaluated = true
	if n.Parent != nil {
		n.Parent.updateValue(tok, -value)
	}
}

// MoveToEnd relocates the edge at edgeIdx to the end of the edge slice,
// preserving the relative order of all other edges, and fixes up the
// moved/shifted children's IndexInParent. Used once an edge is proven
// (terminal or solved) so PUCT selection can stop scanning past
// ViableEdges without re-checking settled branches.
func (n *Node) MoveToEnd(edgeIdx int) {
	if len(n.Edges) == 0 {
		return
	}
	last := len(n.Edges) - 1
	if edgeIdx == last {
		return
	}
	moved := n.Edges[edgeIdx]
	copy(n.Edges[edgeIdx:last], n.Edges[edgeIdx+1:last+1])
	for i := edgeIdx; i < last; i++ {
		if c := n.Edges[i].child; c != nil {
			c.IndexInParent = i
		}
	}
	n.Edges[last] = moved
	if moved.child != nil {
		moved.child.IndexInParent = last
	}
}

// SortEdgesByPriors orders edges by descending network prior. Used right
// after expansion, before any selection has touched the node.
func (n *Node) SortEdgesByPriors() {
	sort.SliceStable(n.Edges, func(i, j int) bool {
		return n.Edges[i].prior > n.Edges[j].prior
	})
	for i := range n.Edges {
		if c := n.Edges[i].child; c != nil {
			c.IndexInParent = i
		}
	}
}

// BestEdgeByValue returns the edge with the highest GetValue() among this
// node's edges, used for the final move choice once search time runs out.
func (n *Node) BestEdgeByValue() *Edge {
	if len(n.Edges) == 0 {
		return nil
	}
	best := &n.Edges[0]
	bestVal := best.GetValue()
	for i := 1; i < len(n.Edges); i++ {
		e := &n.Edges[i]
		if v := e.GetValue(); v > bestVal {
			bestVal = v
			best = e
		}
	}
	return best
}

// BestMove returns the move the node's search recommends: the highest-value
// edge, or the tablebase move when the node's value came from a tablebase
// probe rather than search.
func (n *Node) BestMove() *Edge {
	if n.Solution == Tablebase {
		return n.tablebaseMove()
	}
	return n.BestEdgeByValue()
}

// tablebaseMove returns the edge leading toward the tablebase-proven result:
// the highest-value edge among those whose child also carries a tablebase or
// solved value, falling back to BestEdgeByValue when none qualify.
func (n *Node) tablebaseMove() *Edge {
	var best *Edge
	var bestVal float32
	for i := range n.Edges {
		e := &n.Edges[i]
		if e.child == nil || (e.child.Solution != Tablebase && e.child.Solution != Solved) {
			continue
		}
		if v := e.GetValue(); best == nil || v > bestVal {
			best = e
			bestVal = v
		}
	}
	if best == nil {
		return n.BestEdgeByValue()
	}
	return best
}
