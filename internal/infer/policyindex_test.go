package infer

import (
	"testing"

	"github.com/hailam/chessplay/internal/board"
)

func TestToPolicyIndexIsInRangeAndStableAcrossCalls(t *testing.T) {
	moves := []board.Move{
		board.NewMove(board.E2, board.E4),
		board.NewMove(board.G1, board.F3),
		board.NewMove(board.A1, board.A8),
		board.NewPromotion(board.A7, board.A8, board.Queen),
		board.NewPromotion(board.A7, board.A8, board.Knight),
		board.NewPromotion(board.B7, board.A8, board.Rook),
		board.NewCastling(board.E1, board.G1),
		board.NewEnPassant(board.E5, board.D6),
	}
	for _, m := range moves {
		idx := ToPolicyIndex(m)
		if idx < 0 || idx >= PolicySize {
			t.Errorf("ToPolicyIndex(%v) = %d, want in [0, %d)", m, idx, PolicySize)
		}
		if idx2 := ToPolicyIndex(m); idx2 != idx {
			t.Errorf("ToPolicyIndex(%v) not stable: %d vs %d", m, idx, idx2)
		}
	}
}

func TestToPolicyIndexDistinguishesUnderpromotionPieces(t *testing.T) {
	knight := ToPolicyIndex(board.NewPromotion(board.A7, board.A8, board.Knight))
	bishop := ToPolicyIndex(board.NewPromotion(board.A7, board.A8, board.Bishop))
	rook := ToPolicyIndex(board.NewPromotion(board.A7, board.A8, board.Rook))
	if knight == bishop || knight == rook || bishop == rook {
		t.Errorf("underpromotion planes collide: knight=%d bishop=%d rook=%d", knight, bishop, rook)
	}
}

func TestToFlippedPolicyIndexMirrorsRank(t *testing.T) {
	m := board.NewMove(board.E2, board.E4)
	flippedM := board.NewMove(board.E7, board.E5)
	if got, want := ToFlippedPolicyIndex(m), ToPolicyIndex(flippedM); got != want {
		t.Errorf("ToFlippedPolicyIndex(e2e4) = %d, want ToPolicyIndex(e7e5) = %d", got, want)
	}
}
