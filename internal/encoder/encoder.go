// Package encoder builds the 112-plane neural network input tensor from a
// position and its preceding history, following the Leela/AlphaZero input
// convention: the side to move is always encoded as if moving up the board,
// with thirteen planes per position (six piece types per color plus a
// repetition flag) stacked across up to eight history plies, followed by
// eight auxiliary planes (castling rights, halfmove clock, a side-to-move
// marker in the legacy format, and an all-ones edge-detection plane). No
// en passant plane is written.
package encoder

import "github.com/hailam/chessplay/internal/board"

const (
	// PlanesPerBoard is the per-position plane count: six own-piece planes,
	// six enemy-piece planes, and one repetition flag.
	PlanesPerBoard = 13
	// MoveHistory is the maximum number of historical positions encoded.
	MoveHistory = 8
	// AuxPlaneBase is the index of the first auxiliary plane.
	AuxPlaneBase = MoveHistory * PlanesPerBoard
	// NumPlanes is the total plane count of the encoded input tensor.
	NumPlanes = AuxPlaneBase + 8
)

// InputFormat selects the auxiliary-plane layout.
type InputFormat int

const (
	// FormatLegacy fills planes 104-107 with one-hot castling-side flags and
	// never applies a symmetry transform.
	FormatLegacy InputFormat = iota
	// FormatCanonical encodes castling rights as rook-square masks and
	// applies the board-symmetry transform chosen by ChooseTransform.
	FormatCanonical
)

// FillEmptyHistory controls how history planes are populated once the game
// history is exhausted.
type FillEmptyHistory int

const (
	// FillNone stops encoding once real history runs out, leaving the
	// remaining planes zeroed.
	FillNone FillEmptyHistory = iota
	// FillFEN repeats the starting position's board for missing history,
	// but stops once a repeat of the literal starting position is reached.
	FillFEN
	// FillAlways always repeats the oldest available position for any
	// missing history plies.
	FillAlways
)

// Transform is a bitmask of board symmetries applied to a canonical-format
// encoding to normalize positions that are symmetric but for the king's
// placement.
type Transform int

const (
	NoTransform Transform = 0
	// FlipTransform mirrors the board left-right (within each rank).
	FlipTransform Transform = 1
	// MirrorTransform mirrors the board top-bottom (between ranks).
	MirrorTransform Transform = 2
	// TransposeTransform reflects the board across the a8-h1 diagonal.
	TransposeTransform Transform = 4
)

// Plane is one 8x8 input-tensor channel. Mask holds per-square 0/1 values for
// occupancy-style planes; Scalar, when true, means every square instead
// carries the uniform value Fill (used for the halfmove-clock plane, which
// is not boolean).
type Plane struct {
	Mask   board.Bitboard
	Fill   float32
	Scalar bool
}

func maskPlane(mask board.Bitboard) Plane { return Plane{Mask: mask} }

func boolPlane(set bool) Plane {
	if set {
		return Plane{Mask: ^board.Bitboard(0)}
	}
	return Plane{}
}

func scalarPlane(v float32) Plane {
	return Plane{Scalar: true, Fill: v}
}

// InputPlanes is the complete 112-plane encoding of a position.
type InputPlanes [NumPlanes]Plane

// At returns the value of square sq on plane p as a float32, matching what
// the network's input tensor expects.
func (ip *InputPlanes) At(p int, sq board.Square) float32 {
	pl := ip[p]
	if pl.Scalar {
		return pl.Fill
	}
	if pl.Mask.IsSet(sq) {
		return 1
	}
	return 0
}

// relativePieces returns the side-to-move's and the opponent's piece
// bitboards, vertically mirrored when the side to move is Black so that the
// mover always appears to be advancing up the board.
func relativePieces(pos *board.Position) (our, their [6]board.Bitboard) {
	us, them := pos.SideToMove, pos.SideToMove.Other()
	if us == board.White {
		our, their = pos.Pieces[board.White], pos.Pieces[board.Black]
		return
	}
	for pt := 0; pt < 6; pt++ {
		our[pt] = pos.Pieces[us][pt].FlipVertical()
		their[pt] = pos.Pieces[them][pt].FlipVertical()
	}
	return
}

// ChooseTransform picks the canonical symmetry transform for a position: a
// horizontal flip if the mover's king sits on the a-d files, then (pawnless
// positions only) a vertical flip to place the king in the lower half, then
// a diagonal transpose resolved by the tie-break recursion over
// all-pieces/own-pieces/kings/queens/rooks/knights/bishops whenever the king
// sits exactly on the a8-h1 diagonal (its h1-e4 stretch).
func ChooseTransform(pos *board.Position) Transform {
	if pos.CastlingRights != board.NoCastling {
		return NoTransform
	}

	our, their := relativePieces(pos)
	ourKing := our[board.King]

	var transform Transform
	if ourKing&0x0F0F0F0F0F0F0F0F != 0 {
		transform |= FlipTransform
		ourKing = ourKing.FlipHorizontal()
	}

	if our[board.Pawn] != 0 {
		return transform
	}

	if ourKing&0xFFFFFFFF00000000 != 0 {
		transform |= MirrorTransform
		ourKing = ourKing.FlipVertical()
	}

	// King now lives in the bottom-right quadrant (e1-h4, the lower-right
	// 4x4). Upper-right triangle of that quadrant needs a
	// transpose; the exact diagonal needs the tie-break recursion.
	const upperRightTriangle = board.Bitboard(0xE0C08000)
	const mainDiagonal = board.Bitboard(0x10204080)

	if ourKing&upperRightTriangle != 0 {
		return transform | TransposeTransform
	}
	if ourKing&mainDiagonal == 0 {
		return transform
	}

	allPieces := pos.AllOccupied
	ourPieces := pos.Occupied[pos.SideToMove]
	if pos.SideToMove == board.Black {
		allPieces = allPieces.FlipVertical()
		ourPieces = ourPieces.FlipVertical()
	}

	compareTiebreak := func(v board.Bitboard) int {
		value := v
		if transform&FlipTransform != 0 {
			value = value.FlipHorizontal()
		}
		if transform&MirrorTransform != 0 {
			value = value.FlipVertical()
		}
		alt := value.Transpose()
		if value < alt {
			return -1
		}
		if value > alt {
			return 1
		}
		return 0
	}

	candidates := []board.Bitboard{
		allPieces, ourPieces,
		our[board.King] | their[board.King],
		our[board.Queen] | their[board.Queen],
		our[board.Rook] | their[board.Rook],
		our[board.Knight] | their[board.Knight],
		our[board.Bishop] | their[board.Bishop],
	}
	for _, c := range candidates {
		switch compareTiebreak(c) {
		case -1:
			return transform
		case 1:
			return transform | TransposeTransform
		}
	}
	// Everything is symmetric: the transpose would be a no-op either way.
	return transform
}

// applyTransform applies a chosen symmetry transform to a bitboard.
func applyTransform(b board.Bitboard, t Transform) board.Bitboard {
	if t&FlipTransform != 0 {
		b = b.FlipHorizontal()
	}
	if t&MirrorTransform != 0 {
		b = b.FlipVertical()
	}
	if t&TransposeTransform != 0 {
		b = b.Transpose()
	}
	return b
}

// History is an ordered sequence of positions along the game's move history,
// oldest first, ending with the position to encode.
type History []*board.Position

// Encode builds the input tensor for the most recent position in h, using up
// to historyPlanes plies of history (capped at MoveHistory). It returns the
// chosen symmetry transform (NoTransform for FormatLegacy) so callers can
// apply the inverse transform when mapping policy output back to moves.
func Encode(h History, format InputFormat, historyPlanes int, fillEmpty FillEmptyHistory) (InputPlanes, Transform) {
	var planes InputPlanes
	if len(h) == 0 {
		return planes, NoTransform
	}

	current := h[len(h)-1]
	us := current.SideToMove

	var transform Transform
	if format == FormatCanonical {
		transform = ChooseTransform(current)
	}

	switch format {
	case FormatLegacy:
		if current.CastlingRights&board.WhiteQueenSideCastle != 0 {
			planes[AuxPlaneBase+0] = boolPlane(true)
		}
		if current.CastlingRights&board.WhiteKingSideCastle != 0 {
			planes[AuxPlaneBase+1] = boolPlane(true)
		}
		if current.CastlingRights&board.BlackQueenSideCastle != 0 {
			planes[AuxPlaneBase+2] = boolPlane(true)
		}
		if current.CastlingRights&board.BlackKingSideCastle != 0 {
			planes[AuxPlaneBase+3] = boolPlane(true)
		}
		if us == board.Black {
			planes[AuxPlaneBase+4] = boolPlane(true)
		}
	case FormatCanonical:
		var aSideRooks, hSideRooks board.Bitboard
		if current.CastlingRights&board.BlackQueenSideCastle != 0 {
			aSideRooks |= board.SquareBB(board.A8)
		}
		if current.CastlingRights&board.WhiteQueenSideCastle != 0 {
			aSideRooks |= board.SquareBB(board.A1)
		}
		if current.CastlingRights&board.BlackKingSideCastle != 0 {
			hSideRooks |= board.SquareBB(board.H8)
		}
		if current.CastlingRights&board.WhiteKingSideCastle != 0 {
			hSideRooks |= board.SquareBB(board.H1)
		}
		planes[AuxPlaneBase+0] = maskPlane(applyTransform(aSideRooks, transform))
		planes[AuxPlaneBase+1] = maskPlane(applyTransform(hSideRooks, transform))
	}

	planes[AuxPlaneBase+5] = scalarPlane(float32(current.HalfMoveClock))
	planes[AuxPlaneBase+7] = boolPlane(true)

	stopEarly := format == FormatCanonical
	castlingAtStop := current.CastlingRights

	limit := historyPlanes
	if limit > MoveHistory {
		limit = MoveHistory
	}

	historyIdx := len(h) - 1
	for i := 0; i < limit; i, historyIdx = i+1, historyIdx-1 {
		var pos *board.Position
		switch {
		case historyIdx >= 0:
			pos = h[historyIdx]
		case fillEmpty == FillNone:
			return planes, transform
		default:
			pos = h[0]
		}

		if stopEarly && i > 0 && pos.CastlingRights != castlingAtStop {
			break
		}
		if stopEarly && historyIdx != len(h)-1 && pos.EnPassant != board.NoSquare {
			break
		}
		if historyIdx < 0 && fillEmpty == FillFEN && isStartingPosition(pos) {
			break
		}

		writeBoardPlanes(&planes, pos, i*PlanesPerBoard, transform)

		if stopEarly && pos.HalfMoveClock == 0 {
			break
		}
	}

	return planes, transform
}

func writeBoardPlanes(planes *InputPlanes, pos *board.Position, base int, transform Transform) {
	our, their := relativePieces(pos)
	for pt := 0; pt < 6; pt++ {
		planes[base+pt] = maskPlane(applyTransform(our[pt], transform))
		planes[base+6+pt] = maskPlane(applyTransform(their[pt], transform))
	}
	// Repetition flag: left at zero here since repetition counting is a
	// tree-level concept the search tracks per node, not a single Position.
}

var startingPosition = board.NewPosition()

func isStartingPosition(pos *board.Position) bool {
	return pos.Hash == startingPosition.Hash
}
