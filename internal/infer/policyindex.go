// Package infer runs the position evaluator: building network input tensors
// from search-tree history, dispatching them to one or more backends, and
// translating the raw value/policy/moves-left output back into edge priors
// and a node value.
package infer

import "github.com/hailam/chessplay/internal/board"

// PlanesPerSquare is the number of policy planes stacked behind every
// from-square, giving the 8*8*PlanesPerSquare = PolicySize output layout the
// network's policy head is trained against. 56 queen-like
// direction/distance combinations, 8 knight jumps, and 9 underpromotions
// (3 capture directions x 3 non-queen promotion pieces) covers every legal
// move; the remaining planes are reserved and never produced by ToPolicyIndex
// but keep the index space matching the network's declared output size.
const PlanesPerSquare = 80

// PolicySize is the network's total policy output width.
const PolicySize = 64 * PlanesPerSquare

var queenDirections = [8][2]int{
	{0, 1}, {1, 1}, {1, 0}, {1, -1},
	{0, -1}, {-1, -1}, {-1, 0}, {-1, 1},
}

var knightDirections = [8][2]int{
	{1, 2}, {2, 1}, {2, -1}, {1, -2},
	{-1, -2}, {-2, -1}, {-2, 1}, {-1, 2},
}

// planeForMove returns the 0-79 plane index for a move, independent of its
// from-square, following the AlphaZero-style layout: queen-direction moves
// first (plane = direction*7 + (distance-1)), then the 8 knight-move planes,
// then 9 underpromotion planes for non-queen promotions (queen promotions
// are ordinary queen-direction moves and use the same planes as any other
// queen move to that square).
func planeForMove(m board.Move) int {
	from, to := m.From(), m.To()
	df := to.File() - from.File()
	dr := to.Rank() - from.Rank()

	if m.IsPromotion() && m.Promotion() != board.Queen {
		dir := 0 // straight
		if df < 0 {
			dir = 1 // capture toward the a-file
		} else if df > 0 {
			dir = 2 // capture toward the h-file
		}
		piece := int(m.Promotion() - board.Knight) // Knight=0, Bishop=1, Rook=2
		return 56 + 8 + dir*3 + piece
	}

	for i, d := range knightDirections {
		if d[0] == df && d[1] == dr {
			return 56 + i
		}
	}

	for i, d := range queenDirections {
		var dist int
		if d[0] != 0 {
			dist = df / d[0]
		} else {
			dist = dr / d[1]
		}
		if dist >= 1 && dist <= 7 && d[0]*dist == df && d[1]*dist == dr {
			return i*7 + (dist - 1)
		}
	}

	// Castling is encoded as a king move of two files; the queen-direction
	// scan above already resolves it to the matching horizontal plane.
	return 0
}

// ToPolicyIndex maps a legal move from a canonical (non-flipped) board to its
// index in the network's policy output.
func ToPolicyIndex(m board.Move) int {
	return int(m.From())*PlanesPerSquare + planeForMove(m)
}

// ToFlippedPolicyIndex maps a legal move from a vertically-flipped board
// (the encoding used whenever Black is to move, so the network always sees
// itself moving up the board) back to the policy index the network assigns
// it, by mirroring the move's squares before indexing.
func ToFlippedPolicyIndex(m board.Move) int {
	from := board.NewSquare(m.From().File(), 7-m.From().Rank())
	to := board.NewSquare(m.To().File(), 7-m.To().Rank())
	var flipped board.Move
	switch {
	case m.IsPromotion():
		flipped = board.NewPromotion(from, to, m.Promotion())
	case m.IsEnPassant():
		flipped = board.NewEnPassant(from, to)
	case m.IsCastling():
		flipped = board.NewCastling(from, to)
	default:
		flipped = board.NewMove(from, to)
	}
	return ToPolicyIndex(flipped)
}
