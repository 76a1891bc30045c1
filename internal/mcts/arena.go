package mcts

import (
	"sync"
	"sync/atomic"

	"github.com/hailam/chessplay/internal/board"
	"github.com/hailam/chessplay/internal/tablebase"
)

// HistoryRecord is a minimal stand-in for a position the live tree no longer
// needs edges or search state for, kept only so threefold-repetition
// counting and the NN encoder's history planes can still see past positions
// after Advance rebases the tree onto a new root.
//
// The original engine's allocator kept full (edge-less) copies of discarded
// ancestor nodes for this purpose, in its own bump-allocated memory. Go's
// garbage collector already reclaims a node the moment nothing references
// it, so there is no analogous "copy to safety before the allocator
// overwrites it" step: Advance simply detaches the nodes it doesn't need
// and links a HistoryRecord chain for the ones it does.
type HistoryRecord struct {
	Pos    *board.Position
	Parent *HistoryRecord
}

// Hash returns the discarded position's zobrist hash, used for
// threefold-repetition counting.
func (h *HistoryRecord) Hash() uint64 { return h.Pos.Hash }

// Arena owns the live search tree's node budget and transposition table.
// Where the original engine bump-allocated fused node+edge blocks and
// periodically copied the live subtree to the front of its first block to
// reclaim the rest, Go's garbage collector already reclaims any node
// unreachable from the current root - Advance need only sever the edges
// back to the discarded siblings and let the collector do the rest. Arena's
// job is the part GC cannot do on its own: track how many live nodes exist
// against an operator-configured budget, stand in for the manual OOM path
// the original used to refuse allocation, and own the transposition table.
type Arena struct {
	maxNodes   int64
	liveNodes  atomic.Int64
	transTable sync.Map // uint64 (zobrist hash) -> *Node

	historyTail *HistoryRecord

	// Prober is consulted by Expand for newly-allocated children once the
	// tablebase extension point is wired in; nil (the default) means no
	// tablebase lookups happen at all.
	Prober tablebase.Prober
}

// NewArena constructs an arena that refuses further node allocation once
// maxNodes live nodes have been created since the last Clear or Advance. A
// maxNodes of 0 means unbounded.
func NewArena(maxNodes int64) *Arena {
	return &Arena{maxNodes: maxNodes}
}

// ErrOutOfMemory is returned by Allocate when the node budget is exhausted.
// The original engine's equivalent path was documented as a TODO to avoid
// crashing by halting the search and returning the best move found so far;
// Allocate's caller (the search worker loop) does exactly that instead of
// panicking the way the C++ allocator's failed-malloc path did.
type outOfMemoryError struct{}

func (outOfMemoryError) Error() string { return "mcts: node budget exhausted" }

// ErrOutOfMemory is the sentinel returned by Allocate when the arena's node
// budget is exhausted.
var ErrOutOfMemory error = outOfMemoryError{}

// Allocate constructs a new node under parent via NewNode, charging it
// against the arena's node budget.
func (a *Arena) Allocate(pos *board.Position, moves *board.MoveList, parent *Node, indexInParent int, reversibleMove bool, repetitions uint8) (*Node, error) {
	if a.maxNodes > 0 && a.liveNodes.Load() >= a.maxNodes {
		return nil, ErrOutOfMemory
	}
	a.liveNodes.Add(1)
	return NewNode(pos, moves, parent, indexInParent, reversibleMove, repetitions), nil
}

// LiveNodes reports the number of nodes charged against the budget since
// the last Clear or Advance.
func (a *Arena) LiveNodes() int64 { return a.liveNodes.Load() }

// Transposition looks up a previously evaluated node with the same position
// hash, returning nil if none is stored or the stored node is a different
// position (a hash collision) or not yet evaluated.
func (a *Arena) Transposition(hash uint64) *Node {
	v, ok := a.transTable.Load(hash)
	if !ok {
		return nil
	}
	n := v.(*Node)
	if !n.Evaluated {
		return nil
	}
	return n
}

// RecordTransposition stores n under its position's hash for future
// transposition lookups.
func (a *Arena) RecordTransposition(hash uint64, n *Node) {
	a.transTable.Store(hash, n)
}

// Advance rebases the live tree onto newRoot: newRoot's parent chain is
// folded into a HistoryRecord chain (preserving position hashes for
// repetition detection across the rebase), newRoot.Parent is cleared so
// backup and solver propagation stop there (they climb the Parent chain
// until it is nil), and the arena's node budget and transposition table are
// reset since every node outside newRoot's subtree is now unreachable and
// will be collected.
func (a *Arena) Advance(newRoot *Node) {
	var chain *HistoryRecord
	for node := newRoot.Parent; node != nil; node = node.Parent {
		chain = &HistoryRecord{Pos: node.Position, Parent: chain}
	}
	a.historyTail = chain

	newRoot.Parent = nil
	newRoot.IndexInParent = 0

	a.liveNodes.Store(int64(countSubtree(newRoot)))
	a.transTable = sync.Map{}
}

// countSubtree counts n and every node reachable through its expanded
// edges, used to re-seed the live-node budget counter after Advance.
func countSubtree(n *Node) int {
	count := 1
	for i := range n.Edges {
		if c := n.Edges[i].child; c != nil {
			count += countSubtree(c)
		}
	}
	return count
}

// HistoryPositions returns the discarded ancestors of the current root,
// oldest first, for threefold-repetition counting and for the NN encoder's
// history planes, which need to see past the current search tree once it has
// been rebased onto a new root.
func (a *Arena) HistoryPositions() []*board.Position {
	var positions []*board.Position
	for rec := a.historyTail; rec != nil; rec = rec.Parent {
		positions = append(positions, rec.Pos)
	}
	for i, j := 0, len(positions)-1; i < j; i, j = i+1, j-1 {
		positions[i], positions[j] = positions[j], positions[i]
	}
	return positions
}

// HistoryHashes returns the zobrist hashes of HistoryPositions, oldest
// first, for callers that only need them for repetition counting.
func (a *Arena) HistoryHashes() []uint64 {
	positions := a.HistoryPositions()
	hashes := make([]uint64, len(positions))
	for i, p := range positions {
		hashes[i] = p.Hash
	}
	return hashes
}

// Clear discards the entire tree and transposition table, used when
// starting a fresh game.
func (a *Arena) Clear() {
	a.liveNodes.Store(0)
	a.transTable = sync.Map{}
	a.historyTail = nil
}
