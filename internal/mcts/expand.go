package mcts

import (
	"github.com/hailam/chessplay/internal/board"
	"github.com/hailam/chessplay/internal/tablebase"
)

// Expand applies the spec's Expansion step to a selected, unexpanded edge:
// copy the parent board, play the move, and generate legal moves for the
// result. A terminal result (checkmate, stalemate, insufficient material,
// the 50-move rule, or three-fold repetition) settles the edge in place via
// SetTerminal and returns false - there is no child to enqueue for
// inference. Otherwise a child node is allocated in arena, linked to e, and
// Expand returns true; the caller is responsible for the transposition
// check (ReuseTransposition) and, on a miss, enqueuing the child for
// inference. A child the arena's tablebase Prober decides is allocated and
// linked too, but solved on the spot, and Expand returns false for it.
func (e *Edge) Expand(parent *Node, arena *Arena) (bool, error) {
	if e.Expanded() {
		return e.child != nil, nil
	}

	branchIdx := parent.edgeIndex(e)
	childPos := parent.Position.Copy()
	move := e.Move
	reversible := isReversibleMove(parent.Position, move)
	childPos.MakeMove(move)

	if childPos.IsCheckmate() {
		e.SetTerminal(parent, Losing, branchIdx)
		return false, nil
	}
	if childPos.IsDraw() {
		e.SetTerminal(parent, Drawn, branchIdx)
		return false, nil
	}
	repetitions := countRepetitions(parent, childPos.Hash, reversible, arena)
	if repetitions >= 2 {
		e.SetTerminal(parent, Drawn, branchIdx)
		return false, nil
	}

	childMoves := childPos.GenerateLegalMoves()
	child, err := arena.Allocate(childPos, childMoves, parent, branchIdx, reversible, repetitions)
	if err != nil {
		return false, err
	}
	e.SetChild(child)

	if result, ok := probeTablebase(arena, childPos); ok {
		child.MakeSolved(Tablebase, result)
		return false, nil
	}
	return true, nil
}

// probeTablebase consults arena's tablebase extension point for a position
// shallow enough to be worth asking about. It reports ok=false whenever no
// Prober is wired, the position has too many pieces, or the Prober cannot
// decide it - today's Stub only ever decides bare king vs. king.
func probeTablebase(arena *Arena, pos *board.Position) (GameResult, bool) {
	if arena.Prober == nil {
		return 0, false
	}
	if tablebase.CountPieces(pos) > arena.Prober.MaxPieces() {
		return 0, false
	}
	switch arena.Prober.ProbeWDL(pos) {
	case tablebase.Win:
		return Winning, true
	case tablebase.Draw:
		return Drawn, true
	case tablebase.Loss:
		return Losing, true
	default:
		return 0, false
	}
}

// ReuseTransposition copies an already-evaluated twin node's Q, moves-left,
// and per-move priors onto a freshly allocated child, marks it evaluated,
// and backpropagates into the parent - the spec's "Transposition reuse"
// step, applied without enqueuing the child for inference. child keeps its
// own edges (and grows its own subtree independently); only the twin's
// scalar value and per-move priors are borrowed.
func ReuseTransposition(tok *WorkerToken, child, twin *Node) {
	child.MovesLeft = twin.MovesLeft
	for i := range child.Edges {
		for j := range twin.Edges {
			if twin.Edges[j].Move == child.Edges[i].Move {
				child.Edges[i].SetPrior(twin.Edges[j].Prior())
				break
			}
		}
	}
	child.SortEdgesByPriors()
	child.Evaluate(tok, twin.Q)
}

// edgeIndex returns the index of e within n.Edges, or -1 if e does not
// belong to n. Edge carries no back-pointer to its slot, since MoveToEnd
// and SortEdgesByPriors already relocate edges within the slice.
func (n *Node) edgeIndex(e *Edge) int {
	for i := range n.Edges {
		if &n.Edges[i] == e {
			return i
		}
	}
	return -1
}

// isReversibleMove reports whether m neither moves a pawn, captures,
// castles, nor promotes - the class of move after which three-fold
// repetition and the 50-move rule remain meaningful to track.
func isReversibleMove(pos *board.Position, m board.Move) bool {
	if m.IsCastling() || m.IsEnPassant() || m.IsPromotion() {
		return false
	}
	piece := pos.PieceAt(m.From())
	if piece != board.NoPiece && piece.Type() == board.Pawn {
		return false
	}
	return pos.PieceAt(m.To()) == board.NoPiece
}

// countRepetitions counts prior positions - walking the live tree's parent
// chain, then the arena's discarded-ancestor history - with the same
// zobrist hash as a freshly expanded child, stopping as soon as the chain
// crosses an irreversible move (a capture, pawn move, castle or promotion
// breaks any repetition streak). A count of 2 means the child would be the
// position's third occurrence.
func countRepetitions(parent *Node, childHash uint64, childReversible bool, arena *Arena) uint8 {
	if !childReversible {
		return 0
	}
	var count uint8
	chainBroken := false
	for n := parent; n != nil; n = n.Parent {
		if n.Position.Hash == childHash {
			count++
		}
		if !n.ReversibleMove {
			chainBroken = true
			break
		}
	}
	if !chainBroken {
		history := arena.HistoryPositions()
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Hash == childHash {
				count++
			}
			// A zero halfmove clock marks a position reached by a capture
			// or pawn move; nothing older can repeat it.
			if history[i].HalfMoveClock == 0 {
				break
			}
		}
	}
	return count
}
